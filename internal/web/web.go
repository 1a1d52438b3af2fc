package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"squeedr/internal/config"
	"squeedr/internal/exception"
	"squeedr/internal/feeds"
	appLog "squeedr/internal/log"
)

// Refresher triggers an immediate feed refresh. *feeds.Refresher implements it.
type Refresher interface {
	RefreshOnce(ctx context.Context) (feeds.Report, error)
}

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Server provides the HTTP API over the exception store.
type Server struct {
	cfg       *config.Config
	store     *exception.Store
	refresher Refresher
	mux       *http.ServeMux
	loc       *time.Location

	// now is replaced in tests.
	now func() time.Time

	// Month grid responses keyed by "YYYY-MM". The whole map is dropped
	// whenever the store version moves.
	calendarMu      sync.RWMutex
	calendarVersion uint64
	calendarCache   map[string]calendarResponse
}

// NewServer constructs a new Server. refresher may be nil, in which case
// POST /api/refresh answers 503.
func NewServer(cfg *config.Config, store *exception.Store, refresher Refresher) *Server {
	s := &Server{
		cfg:           cfg,
		store:         store,
		refresher:     refresher,
		mux:           http.NewServeMux(),
		loc:           cfg.Location(),
		now:           time.Now,
		calendarCache: make(map[string]calendarResponse),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호는 비활성화로 취급한다.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health 는 항상 무인증으로 노출한다.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Squeedr", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/exceptions", s.handleListExceptions)
	s.mux.HandleFunc("POST /api/exceptions", s.handleCreateException)
	s.mux.HandleFunc("GET /api/exceptions/{id}", s.handleGetException)
	s.mux.HandleFunc("PUT /api/exceptions/{id}", s.handleUpdateException)
	s.mux.HandleFunc("DELETE /api/exceptions/{id}", s.handleDeleteException)
	s.mux.HandleFunc("GET /api/exceptions/{id}/occurrences", s.handleOccurrences)
	s.mux.HandleFunc("GET /api/exceptions.ics", s.handleExportICS)

	s.mux.HandleFunc("GET /api/calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /api/matches", s.handleMatches)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeStoreError maps store and validation errors onto status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exception.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, exception.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("store operation failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
