package exception

import (
	"fmt"
	"strings"
	"time"

	"squeedr/internal/recurrence"
)

// DateLayout is the calendar date format used on the wire and in config.
const DateLayout = time.DateOnly

// MinYear is the earliest year a date may carry. The zero time.Time (year 1)
// stands for a missing date, so real dates stay well above it.
const MinYear = 1900

// Record is the flat form of an exception used by the JSON API and the
// YAML config. Which fields apply depends on Type.
type Record struct {
	Type   Kind   `json:"type" yaml:"type"`
	ID     string `json:"id,omitempty" yaml:"id,omitempty"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Date is used by single exceptions.
	Date string `json:"date,omitempty" yaml:"date,omitempty"`

	// StartDate/EndDate bound range exceptions and recurring rules.
	StartDate string `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty" yaml:"end_date,omitempty"`

	Pattern       recurrence.Pattern `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	DaysOfWeek    []string           `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`
	IntervalWeeks int                `json:"interval_weeks,omitempty" yaml:"interval_weeks,omitempty"`
}

// FromRecord builds the exception variant described by r. Dates are read
// in loc. It only checks that fields parse; use Validate for invariants.
func FromRecord(r Record, loc *time.Location) (Exception, error) {
	if loc == nil {
		loc = time.Local
	}
	info := Info{ID: r.ID, Reason: r.Reason, Source: r.Source}

	switch Kind(strings.ToLower(string(r.Type))) {
	case KindSingle:
		d, err := parseDate("date", r.Date, loc)
		if err != nil {
			return nil, err
		}
		return Single{Info: info, Date: d}, nil

	case KindRange:
		start, err := parseDate("start_date", r.StartDate, loc)
		if err != nil {
			return nil, err
		}
		end, err := parseDate("end_date", r.EndDate, loc)
		if err != nil {
			return nil, err
		}
		return Range{Info: info, Start: start, End: end}, nil

	case KindRecurring:
		pattern, err := recurrence.ParsePattern(string(r.Pattern))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		days, err := recurrence.ParseWeekdays(r.DaysOfWeek)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		start, err := parseDate("start_date", r.StartDate, loc)
		if err != nil {
			return nil, err
		}
		rule := recurrence.Rule{Pattern: pattern, Days: days, Start: start, IntervalWeeks: r.IntervalWeeks}
		if pattern == recurrence.Custom && rule.IntervalWeeks == 0 {
			rule.IntervalWeeks = 1
		}
		if r.EndDate != "" {
			end, err := parseDate("end_date", r.EndDate, loc)
			if err != nil {
				return nil, err
			}
			rule = rule.Until(end)
		}
		return Recurring{Info: info, Rule: rule}, nil
	}

	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalid, r.Type)
}

// ToRecord flattens e.
func ToRecord(e Exception) Record {
	info := e.Meta()
	r := Record{Type: e.Kind(), ID: info.ID, Reason: info.Reason, Source: info.Source}

	switch v := e.(type) {
	case Single:
		r.Date = v.Date.Format(DateLayout)
	case Range:
		r.StartDate = v.Start.Format(DateLayout)
		r.EndDate = v.End.Format(DateLayout)
	case Recurring:
		r.StartDate = v.Rule.Start.Format(DateLayout)
		if v.Rule.End != nil {
			r.EndDate = v.Rule.End.Format(DateLayout)
		}
		r.Pattern = v.Rule.Pattern
		if v.Rule.Pattern != recurrence.Monthly {
			r.DaysOfWeek = v.Rule.Days.Names()
		}
		if v.Rule.Pattern == recurrence.Custom {
			r.IntervalWeeks = v.Rule.IntervalWeeks
		}
	}
	return r
}

func parseDate(field, s string, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", ErrInvalid, field)
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %w", ErrInvalid, field, err)
	}
	if t.Year() < MinYear {
		return time.Time{}, fmt.Errorf("%w: %s must not be before %d-01-01", ErrInvalid, field, MinYear)
	}
	return t, nil
}
