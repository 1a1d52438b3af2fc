// Package exception models availability exceptions (days on which a
// provider cannot be booked) and flattens them into marked calendar dates.
package exception

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"squeedr/internal/model"
	"squeedr/internal/recurrence"
)

// Kind names an exception variant.
type Kind string

const (
	KindSingle    Kind = "single"
	KindRange     Kind = "range"
	KindRecurring Kind = "recurring"
)

// Info holds the fields shared by every variant.
type Info struct {
	ID     string
	Reason string
	// Source is empty for exceptions entered by hand and holds the feed ID
	// for imported ones.
	Source string
}

// Exception is implemented by Single, Range and Recurring only.
type Exception interface {
	Meta() Info
	Kind() Kind
	withMeta(Info) Exception
}

// Single blocks one calendar date.
type Single struct {
	Info
	Date time.Time
}

// Range blocks every date from Start to End inclusive.
type Range struct {
	Info
	Start time.Time
	End   time.Time
}

// Recurring blocks every occurrence of Rule.
type Recurring struct {
	Info
	Rule recurrence.Rule
}

func (e Single) Meta() Info    { return e.Info }
func (e Range) Meta() Info     { return e.Info }
func (e Recurring) Meta() Info { return e.Info }

func (Single) Kind() Kind    { return KindSingle }
func (Range) Kind() Kind     { return KindRange }
func (Recurring) Kind() Kind { return KindRecurring }

func (e Single) withMeta(i Info) Exception    { e.Info = i; return e }
func (e Range) withMeta(i Info) Exception     { e.Info = i; return e }
func (e Recurring) withMeta(i Info) Exception { e.Info = i; return e }

// Span builds a Single when first and last fall on the same date and a
// Range otherwise. A last date before first collapses to first.
func Span(info Info, first, last time.Time) Exception {
	first, last = recurrence.DateOf(first), recurrence.DateOf(last)
	if !last.After(first) {
		return Single{Info: info, Date: first}
	}
	return Range{Info: info, Start: first, End: last}
}

// WithID returns a copy of e carrying id.
func WithID(e Exception, id string) Exception {
	i := e.Meta()
	i.ID = id
	return e.withMeta(i)
}

// WithSource returns a copy of e tagged with source.
func WithSource(e Exception, source string) Exception {
	i := e.Meta()
	i.Source = source
	return e.withMeta(i)
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid exception")

// ValidateOptions carries the policy knobs that come from configuration.
type ValidateOptions struct {
	// RequireEndDate rejects recurring exceptions without an end date.
	RequireEndDate bool
}

// Validate checks e before it is accepted into a Store. Classify itself
// accepts anything; a malformed exception just marks nothing. Dates before
// MinYear, the zero time included, count as missing.
func Validate(e Exception, opts ValidateOptions) error {
	if e == nil {
		return fmt.Errorf("%w: nil exception", ErrInvalid)
	}
	if e.Meta().ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	switch v := e.(type) {
	case Single:
		if !hasDate(v.Date) {
			return fmt.Errorf("%w: missing date", ErrInvalid)
		}
	case Range:
		if !hasDate(v.Start) || !hasDate(v.End) {
			return fmt.Errorf("%w: range needs start and end dates", ErrInvalid)
		}
		if recurrence.DateOf(v.End).Before(recurrence.DateOf(v.Start)) {
			return fmt.Errorf("%w: range ends before it starts", ErrInvalid)
		}
	case Recurring:
		if err := v.Rule.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		if !hasDate(v.Rule.Start) {
			return fmt.Errorf("%w: %w", ErrInvalid, recurrence.ErrNoStart)
		}
		if opts.RequireEndDate && v.Rule.End == nil {
			return fmt.Errorf("%w: recurring exception needs an end date", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, e.Kind())
	}
	return nil
}

// Covers reports whether e blocks date.
func Covers(e Exception, date time.Time) bool {
	d := recurrence.DateOf(date)
	switch v := e.(type) {
	case Single:
		return d.Equal(recurrence.DateOf(v.Date))
	case Range:
		return !d.Before(recurrence.DateOf(v.Start)) && !d.After(recurrence.DateOf(v.End))
	case Recurring:
		return recurrence.Matches(d, v.Rule)
	}
	return false
}

// Dates lists the dates e blocks within [from, to], ascending.
func Dates(e Exception, from, to time.Time) []time.Time {
	w := model.Window{Start: recurrence.DateOf(from), End: recurrence.DateOf(to)}
	switch v := e.(type) {
	case Single:
		if d := recurrence.DateOf(v.Date); w.Contains(d) {
			return []time.Time{d}
		}
	case Range:
		start := recurrence.DateOf(v.Start)
		if start.Before(w.Start) {
			start = w.Start
		}
		end := recurrence.DateOf(v.End)
		if end.After(w.End) {
			end = w.End
		}
		var out []time.Time
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			out = append(out, d)
		}
		return out
	case Recurring:
		return recurrence.Enumerate(w.Start, w.End, v.Rule)
	}
	return nil
}

// CategoryOf maps an exception onto the marker the calendar draws for it.
func CategoryOf(e Exception) model.Category {
	if e.Kind() == KindRecurring {
		return model.CategoryRecurring
	}
	return model.CategorySingle
}

// Classify flattens exceptions into the dates they mark inside
// [from, to]. The result is ordered by date; exceptions marking the same
// date keep their input order.
func Classify(exceptions []Exception, from, to time.Time) []model.MarkedDate {
	var out []model.MarkedDate
	for _, e := range exceptions {
		if e == nil {
			continue
		}
		id := e.Meta().ID
		cat := CategoryOf(e)
		for _, d := range Dates(e, from, to) {
			out = append(out, model.MarkedDate{Date: d, ExceptionID: id, Category: cat})
		}
	}
	slices.SortStableFunc(out, func(a, b model.MarkedDate) int {
		return a.Date.Compare(b.Date)
	})
	return out
}

func hasDate(t time.Time) bool {
	return recurrence.DateOf(t).Year() >= MinYear
}
