// Package feeds keeps imported exceptions in sync with their ICS and
// Google Calendar sources.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"squeedr/internal/exception"
	"squeedr/internal/ics"
	appLog "squeedr/internal/log"
)

// CalendarImporter lists the blocking events of one calendar.
// *gcal.Client implements it.
type CalendarImporter interface {
	Import(ctx context.Context, calendarID string) ([]exception.Exception, error)
}

// Options configures a Refresher.
type Options struct {
	Fetcher *ics.Fetcher
	Sources []ics.Source

	// Google and CalendarIDs are optional.
	Google      CalendarImporter
	CalendarIDs []string

	Store    *exception.Store
	Location *time.Location
}

// SourceReport is the outcome of refreshing one source.
type SourceReport struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Imported int    `json:"imported"`
	Error    string `json:"error,omitempty"`
}

// Report summarises one refresh run.
type Report struct {
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration_ns"`
	Sources   []SourceReport `json:"sources"`
}

// Refresher pulls every configured source into the store. Runs are
// serialised; a scheduled run waits for a manual one to finish.
type Refresher struct {
	opts Options

	runMu sync.Mutex

	mu   sync.RWMutex
	last *Report
}

// New builds a Refresher. Store is required.
func New(opts Options) (*Refresher, error) {
	if opts.Store == nil {
		return nil, errors.New("feeds: store is required")
	}
	if opts.Fetcher == nil && len(opts.Sources) > 0 {
		return nil, errors.New("feeds: fetcher is required for ICS sources")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Refresher{opts: opts}, nil
}

// RefreshOnce fetches every source and replaces its exceptions in the store.
// A source that cannot be fetched keeps its previous exceptions. Per-source
// failures are joined into the returned error; the report is always set.
func (r *Refresher) RefreshOnce(ctx context.Context) (Report, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	rep := Report{StartedAt: time.Now()}
	var errs []error

	for _, src := range r.opts.Sources {
		sr := SourceReport{ID: src.ID, Kind: "ics"}
		n, err := r.refreshICS(ctx, src)
		sr.Imported = n
		if err != nil {
			sr.Error = err.Error()
			errs = append(errs, fmt.Errorf("ics %s: %w", src.ID, err))
		}
		rep.Sources = append(rep.Sources, sr)
	}

	if r.opts.Google != nil {
		for _, calID := range r.opts.CalendarIDs {
			sr := SourceReport{ID: calID, Kind: "google"}
			n, err := r.refreshCalendar(ctx, calID)
			sr.Imported = n
			if err != nil {
				sr.Error = err.Error()
				errs = append(errs, fmt.Errorf("google %s: %w", calID, err))
			}
			rep.Sources = append(rep.Sources, sr)
		}
	}

	rep.Duration = time.Since(rep.StartedAt)

	r.mu.Lock()
	r.last = &rep
	r.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		appLog.Error("feed refresh finished with errors", err, "sources", len(rep.Sources))
	} else {
		appLog.Info("feed refresh finished", "sources", len(rep.Sources), "duration_ms", rep.Duration.Milliseconds())
	}
	return rep, err
}

func (r *Refresher) refreshICS(ctx context.Context, src ics.Source) (int, error) {
	res, err := r.opts.Fetcher.FetchOne(ctx, src)
	if err != nil {
		return 0, err
	}
	exs, err := ics.ParseICS(src, res.Body, r.opts.Location)
	if err != nil {
		return 0, err
	}
	// Rejected records are reported, the accepted ones still replace the source.
	return len(exs), r.opts.Store.ReplaceSource(src.ID, exs)
}

func (r *Refresher) refreshCalendar(ctx context.Context, calendarID string) (int, error) {
	exs, err := r.opts.Google.Import(ctx, calendarID)
	if err != nil {
		return 0, err
	}
	return len(exs), r.opts.Store.ReplaceSource(calendarID, exs)
}

// Last returns the most recent report, if any.
func (r *Refresher) Last() (Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// Start schedules RefreshOnce on spec, a standard 5-field cron expression
// or descriptor, evaluated in the configured location. The schedule stops
// when ctx is cancelled; the returned channel closes once the last run has
// finished.
func (r *Refresher) Start(ctx context.Context, spec string) (<-chan struct{}, error) {
	c := cron.New(cron.WithLocation(r.opts.Location))
	if _, err := c.AddFunc(spec, func() {
		_, _ = r.RefreshOnce(ctx)
	}); err != nil {
		return nil, fmt.Errorf("feeds: refresh schedule %q: %w", spec, err)
	}
	c.Start()
	appLog.Info("feed refresh scheduled", "spec", spec, "tz", r.opts.Location.String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("feed refresh stopped")
	}()
	return done, nil
}
