package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squeedr/internal/config"
	"squeedr/internal/exception"
	"squeedr/internal/feeds"
	"squeedr/internal/recurrence"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) RefreshOnce(context.Context) (feeds.Report, error) {
	f.calls++
	return feeds.Report{Sources: []feeds.SourceReport{{ID: "work", Kind: "ics", Imported: 2}}}, f.err
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *exception.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(cfg)
	}
	store := exception.NewStore(cfg.ValidateOptions())
	s := NewServer(cfg, store, nil)
	s.now = func() time.Time { return time.Date(2025, 5, 14, 10, 0, 0, 0, time.UTC) }
	return s, store
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestExceptionCRUD(t *testing.T) {
	s, store := newTestServer(t, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/exceptions",
		`{"type":"recurring","reason":"Gym","pattern":"weekly","days_of_week":["Monday"],"start_date":"2025-05-01","end_date":"2025-08-31"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[exception.Record](t, rec)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, []string{"Monday"}, created.DaysOfWeek)

	rec = do(t, h, http.MethodGet, "/api/exceptions/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decode[exception.Record](t, rec))

	rec = do(t, h, http.MethodPut, "/api/exceptions/"+created.ID,
		`{"type":"single","reason":"Dentist","date":"2025-05-07"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := store.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, exception.KindSingle, got.Kind())

	rec = do(t, h, http.MethodGet, "/api/exceptions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[exceptionsResponse](t, rec).Exceptions, 1)

	rec = do(t, h, http.MethodDelete, "/api/exceptions/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, store.List())

	rec = do(t, h, http.MethodGet, "/api/exceptions/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateExceptionValidation(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"type":`},
		{"unknown field", `{"type":"single","date":"2025-05-07","colour":"red"}`},
		{"bad date", `{"type":"single","date":"07.05.2025"}`},
		{"range inverted", `{"type":"range","start_date":"2025-05-10","end_date":"2025-05-01"}`},
		{"recurring without end", `{"type":"recurring","pattern":"weekly","days_of_week":["Monday"],"start_date":"2025-05-01"}`},
		{"recurring without days", `{"type":"recurring","pattern":"biweekly","start_date":"2025-05-01","end_date":"2025-06-01"}`},
		{"unknown type", `{"type":"weekly"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/exceptions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestImportedExceptionsAreReadOnly(t *testing.T) {
	s, store := newTestServer(t, nil)
	require.NoError(t, store.ReplaceSource("work", []exception.Exception{
		exception.Single{Info: exception.Info{ID: "work:1"}, Date: day(2025, 5, 7)},
	}))
	h := s.Handler()

	rec := do(t, h, http.MethodDelete, "/api/exceptions/work:1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, h, http.MethodPut, "/api/exceptions/work:1", `{"type":"single","date":"2025-05-08"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, store.List(), 1)
}

func TestCalendar(t *testing.T) {
	s, store := newTestServer(t, nil)
	_, err := store.Add(exception.Recurring{
		Info: exception.Info{ID: "gym"},
		Rule: recurrence.Rule{Pattern: recurrence.Weekly, Days: recurrence.Weekdays(time.Monday), Start: day(2025, 5, 1)}.Until(day(2025, 8, 31)),
	})
	require.NoError(t, err)
	_, err = store.Add(exception.Range{Info: exception.Info{ID: "trip"}, Start: day(2025, 5, 30), End: day(2025, 6, 2)})
	require.NoError(t, err)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/calendar?month=2025-05", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[calendarResponse](t, rec)

	assert.Equal(t, "2025-04-28", resp.RangeStart)
	assert.Equal(t, "2025-06-01", resp.RangeEnd)
	// Mondays 5, 12, 19, 26 plus the trip from May 30 to the grid end.
	assert.Equal(t, 4, resp.Counts["recurring"])
	assert.Equal(t, 3, resp.Counts["single"])
	require.Len(t, resp.Dates, 7)
	assert.Equal(t, markedDateDTO{Date: "2025-05-05", ExceptionID: "gym", Category: "recurring"}, resp.Dates[0])

	// A store change invalidates the cached month.
	_, err = store.Add(exception.Single{Info: exception.Info{ID: "dentist"}, Date: day(2025, 5, 7)})
	require.NoError(t, err)
	rec = do(t, h, http.MethodGet, "/api/calendar?month=2025-05", "")
	assert.Len(t, decode[calendarResponse](t, rec).Dates, 8)

	// Default month is the current one.
	rec = do(t, h, http.MethodGet, "/api/calendar", "")
	assert.Equal(t, "2025-05", decode[calendarResponse](t, rec).Month)

	rec = do(t, h, http.MethodGet, "/api/calendar?month=May", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalendarCacheIsBounded(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	for y := 2000; y < 2010; y++ {
		for m := time.January; m <= time.December; m++ {
			rec := do(t, h, http.MethodGet, fmt.Sprintf("/api/calendar?month=%04d-%02d", y, m), "")
			require.Equal(t, http.StatusOK, rec.Code)
		}
	}

	s.calendarMu.RLock()
	defer s.calendarMu.RUnlock()
	assert.LessOrEqual(t, len(s.calendarCache), calendarCacheLimit)
	assert.NotEmpty(t, s.calendarCache)
}

func TestCalendarSundayWeekStart(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) { c.WeekStart = "sunday" })
	rec := do(t, s.Handler(), http.MethodGet, "/api/calendar?month=2025-05", "")
	resp := decode[calendarResponse](t, rec)
	assert.Equal(t, "2025-04-27", resp.RangeStart)
	assert.Equal(t, "2025-05-31", resp.RangeEnd)
	assert.Empty(t, resp.Dates)
}

func TestOccurrences(t *testing.T) {
	s, store := newTestServer(t, func(c *config.Config) { c.HorizonMonths = 2 })
	_, err := store.Add(exception.Recurring{
		Info: exception.Info{ID: "gym"},
		Rule: recurrence.Rule{Pattern: recurrence.Biweekly, Days: recurrence.Weekdays(time.Friday), Start: day(2025, 5, 1)}.Until(day(2025, 12, 31)),
	})
	require.NoError(t, err)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/exceptions/gym/occurrences?from=2025-05-01&to=2025-06-15", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2025-05-02", "2025-05-16", "2025-05-30", "2025-06-13"}, decode[occurrencesResponse](t, rec).Dates)

	// Defaults to today (2025-05-14) plus the two month horizon.
	rec = do(t, h, http.MethodGet, "/api/exceptions/gym/occurrences", "")
	resp := decode[occurrencesResponse](t, rec)
	assert.Equal(t, "2025-05-14", resp.From)
	assert.Equal(t, "2025-07-14", resp.To)
	assert.Equal(t, []string{"2025-05-16", "2025-05-30", "2025-06-13", "2025-06-27", "2025-07-11"}, resp.Dates)

	// The horizon is also the longest window accepted.
	rec = do(t, h, http.MethodGet, "/api/exceptions/gym/occurrences?from=2025-05-01&to=2025-07-01", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/exceptions/gym/occurrences?from=2025-05-01&to=2025-07-02", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/exceptions/gym/occurrences?from=0002-01-01&to=9999-12-31", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "2 months")

	rec = do(t, h, http.MethodGet, "/api/exceptions/gym/occurrences?from=2025-06-01&to=2025-05-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/exceptions/nope/occurrences", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMatches(t *testing.T) {
	s, store := newTestServer(t, nil)
	_, err := store.Add(exception.Single{Info: exception.Info{ID: "dentist", Reason: "Dentist"}, Date: day(2025, 5, 7)})
	require.NoError(t, err)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/matches?date=2025-05-07", "")
	resp := decode[matchesResponse](t, rec)
	assert.False(t, resp.Available)
	require.Len(t, resp.Exceptions, 1)
	assert.Equal(t, "dentist", resp.Exceptions[0].ID)

	rec = do(t, h, http.MethodGet, "/api/matches?date=2025-05-08", "")
	assert.True(t, decode[matchesResponse](t, rec).Available)

	rec = do(t, h, http.MethodGet, "/api/matches?date=tomorrow", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportICS(t *testing.T) {
	s, store := newTestServer(t, nil)
	_, err := store.Add(exception.Single{Info: exception.Info{ID: "dentist", Reason: "Dentist"}, Date: day(2025, 5, 7)})
	require.NoError(t, err)

	rec := do(t, s.Handler(), http.MethodGet, "/api/exceptions.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")
	assert.Contains(t, rec.Body.String(), "SUMMARY:Dentist")
}

func TestRefresh(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	fr := &fakeRefresher{err: errors.New("feed down")}
	s.refresher = fr
	rec = do(t, s.Handler(), http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fr.calls)
	assert.Len(t, decode[feeds.Report](t, rec).Sources, 1)
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)

	rec := do(t, h, http.MethodGet, "/api/exceptions", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/exceptions", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/exceptions", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "abcd"))
}
