package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"squeedr/internal/exception"
	appLog "squeedr/internal/log"
)

// exceptionsResponse is the JSON response shape for GET /api/exceptions.
type exceptionsResponse struct {
	Exceptions []exception.Record `json:"exceptions"`
}

func (s *Server) handleListExceptions(w http.ResponseWriter, _ *http.Request) {
	all := s.store.List()
	resp := exceptionsResponse{Exceptions: make([]exception.Record, 0, len(all))}
	for _, e := range all {
		resp.Exceptions = append(resp.Exceptions, exception.ToRecord(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetException(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exception.ToRecord(e))
}

// handleCreateException adds a manually entered exception. The ID is
// generated when the body leaves it empty.
func (s *Server) handleCreateException(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.decodeRecord(w, r)
	if !ok {
		return
	}
	// 수동 입력은 항상 source 없이 저장한다.
	rec.Source = ""

	e, err := exception.FromRecord(rec, s.loc)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	stored, err := s.store.Add(e)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	appLog.Info("exception created", "id", stored.Meta().ID, "kind", string(stored.Kind()))
	writeJSON(w, http.StatusCreated, exception.ToRecord(stored))
}

// handleUpdateException replaces a manual exception. Imported ones are
// owned by their feed and answer 409.
func (s *Server) handleUpdateException(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.checkEditable(w, id) {
		return
	}

	rec, ok := s.decodeRecord(w, r)
	if !ok {
		return
	}
	rec.ID = id
	rec.Source = ""

	e, err := exception.FromRecord(rec, s.loc)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.Update(e); err != nil {
		writeStoreError(w, err)
		return
	}

	appLog.Info("exception updated", "id", id, "kind", string(e.Kind()))
	writeJSON(w, http.StatusOK, exception.ToRecord(e))
}

func (s *Server) handleDeleteException(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.checkEditable(w, id) {
		return
	}
	if err := s.store.Remove(id); err != nil {
		writeStoreError(w, err)
		return
	}

	appLog.Info("exception deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// checkEditable writes an error and returns false unless id names a
// manually entered exception.
func (s *Server) checkEditable(w http.ResponseWriter, id string) bool {
	cur, err := s.store.Get(id)
	if err != nil {
		writeStoreError(w, err)
		return false
	}
	if src := cur.Meta().Source; src != "" {
		writeError(w, http.StatusConflict, fmt.Sprintf("exception %s is imported from %s and read-only", id, src))
		return false
	}
	return true
}

func (s *Server) decodeRecord(w http.ResponseWriter, r *http.Request) (exception.Record, bool) {
	var rec exception.Record
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return rec, false
	}
	return rec, true
}
