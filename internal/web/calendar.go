package web

import (
	"fmt"
	"net/http"
	"time"

	"squeedr/internal/exception"
	"squeedr/internal/ics"
	appLog "squeedr/internal/log"
	"squeedr/internal/model"
	"squeedr/internal/recurrence"
)

const monthLayout = "2006-01"

// calendarCacheLimit caps how many months are cached for one store version.
const calendarCacheLimit = 36

// markedDateDTO is a JSON-friendly view of model.MarkedDate.
type markedDateDTO struct {
	Date        string         `json:"date"`
	ExceptionID string         `json:"exception_id"`
	Category    model.Category `json:"category"`
}

// calendarResponse is the JSON response shape for /api/calendar.
type calendarResponse struct {
	Month      string                 `json:"month"`
	RangeStart string                 `json:"range_start"`
	RangeEnd   string                 `json:"range_end"`
	WeekStart  string                 `json:"week_start"`
	TimeZone   string                 `json:"timezone"`
	Dates      []markedDateDTO        `json:"dates"`
	Counts     map[model.Category]int `json:"counts"`
}

// handleCalendar returns the marked dates for a month grid.
//
// GET /api/calendar?month=2025-05
//   - month: 기본값은 현재 달 (설정된 타임존 기준)
//
// The grid is padded to whole weeks starting on week_start.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	today := s.today()
	month := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, s.loc)
	if v := r.URL.Query().Get("month"); v != "" {
		m, err := time.ParseInLocation(monthLayout, v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		month = m
	}
	key := month.Format(monthLayout)
	version := s.store.Version()

	s.calendarMu.RLock()
	cached, ok := s.calendarCache[key]
	fresh := ok && s.calendarVersion == version
	s.calendarMu.RUnlock()
	if fresh {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	grid := model.MonthGrid(month.Year(), month.Month(), s.cfg.FirstWeekday(), s.loc)
	marks := s.store.Classify(grid.Start, grid.End)

	resp := calendarResponse{
		Month:      key,
		RangeStart: grid.Start.Format(exception.DateLayout),
		RangeEnd:   grid.End.Format(exception.DateLayout),
		WeekStart:  s.cfg.WeekStart,
		TimeZone:   s.loc.String(),
		Dates:      make([]markedDateDTO, 0, len(marks)),
		Counts:     map[model.Category]int{model.CategorySingle: 0, model.CategoryRecurring: 0},
	}
	for _, m := range marks {
		resp.Dates = append(resp.Dates, markedDateDTO{
			Date:        m.Date.Format(exception.DateLayout),
			ExceptionID: m.ExceptionID,
			Category:    m.Category,
		})
		resp.Counts[m.Category]++
	}

	s.calendarMu.Lock()
	if s.calendarVersion != version || len(s.calendarCache) >= calendarCacheLimit {
		s.calendarCache = make(map[string]calendarResponse)
		s.calendarVersion = version
	}
	s.calendarCache[key] = resp
	s.calendarMu.Unlock()

	appLog.Debug("calendar computed", "month", key, "marked", len(resp.Dates), "store_version", version)
	writeJSON(w, http.StatusOK, resp)
}

// occurrencesResponse is the JSON response shape for
// /api/exceptions/{id}/occurrences.
type occurrencesResponse struct {
	ID    string   `json:"id"`
	From  string   `json:"from"`
	To    string   `json:"to"`
	Dates []string `json:"dates"`
}

// handleOccurrences lists the dates one exception blocks.
//
// GET /api/exceptions/{id}/occurrences?from=2025-05-01&to=2025-12-31
//   - from: 기본값 오늘
//   - to:   기본값 from + horizon_months
//
// Windows longer than horizon_months are rejected.
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	from, ok := s.parseDateParam(w, "from", q.Get("from"), s.today())
	if !ok {
		return
	}
	limit := from.AddDate(0, s.cfg.HorizonMonths, 0)
	to, ok := s.parseDateParam(w, "to", q.Get("to"), limit)
	if !ok {
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}
	if to.After(limit) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("window must not exceed %d months", s.cfg.HorizonMonths))
		return
	}

	resp := occurrencesResponse{
		ID:    e.Meta().ID,
		From:  from.Format(exception.DateLayout),
		To:    to.Format(exception.DateLayout),
		Dates: []string{},
	}
	for _, d := range exception.Dates(e, from, to) {
		resp.Dates = append(resp.Dates, d.Format(exception.DateLayout))
	}
	writeJSON(w, http.StatusOK, resp)
}

// matchesResponse is the JSON response shape for /api/matches.
type matchesResponse struct {
	Date       string             `json:"date"`
	Available  bool               `json:"available"`
	Exceptions []exception.Record `json:"exceptions"`
}

// handleMatches reports which exceptions block a date.
//
// GET /api/matches?date=2025-05-05
func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	date, ok := s.parseDateParam(w, "date", r.URL.Query().Get("date"), s.today())
	if !ok {
		return
	}

	covering := s.store.Covering(date)
	resp := matchesResponse{
		Date:       date.Format(exception.DateLayout),
		Available:  len(covering) == 0,
		Exceptions: make([]exception.Record, 0, len(covering)),
	}
	for _, e := range covering {
		resp.Exceptions = append(resp.Exceptions, exception.ToRecord(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExportICS serves every stored exception as an iCalendar feed.
func (s *Server) handleExportICS(w http.ResponseWriter, _ *http.Request) {
	body := ics.Export("Squeedr availability", s.store.List(), s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="exceptions.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// handleRefresh runs a feed refresh now. Per-source failures are part of
// the report; the request itself still succeeds.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "no feeds configured")
		return
	}
	rep, err := s.refresher.RefreshOnce(r.Context())
	if err != nil {
		appLog.Error("api refresh: one or more sources failed", err)
	}
	writeJSON(w, http.StatusOK, rep)
}

// today is the current calendar date in the configured timezone.
func (s *Server) today() time.Time {
	return recurrence.DateOf(s.now().In(s.loc))
}

// parseDateParam parses a YYYY-MM-DD query value, returning def when the
// value is empty. On failure it writes a 400 and returns false.
func (s *Server) parseDateParam(w http.ResponseWriter, name, value string, def time.Time) (time.Time, bool) {
	if value == "" {
		return def, true
	}
	d, err := time.ParseInLocation(exception.DateLayout, value, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}
