package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Pattern selects how a Rule repeats.
type Pattern string

const (
	Weekly   Pattern = "weekly"
	Biweekly Pattern = "biweekly"
	Monthly  Pattern = "monthly"
	Custom   Pattern = "custom"
)

// ParsePattern parses a pattern name case-insensitively.
func ParsePattern(s string) (Pattern, error) {
	p := Pattern(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case Weekly, Biweekly, Monthly, Custom:
		return p, nil
	}
	return "", fmt.Errorf("unknown recurrence pattern %q", s)
}

// usesWeekdays reports whether the pattern filters on Rule.Days.
func (p Pattern) usesWeekdays() bool {
	return p == Weekly || p == Biweekly || p == Custom
}

// WeekdaySet is an immutable set of weekdays stored as a bitmask.
type WeekdaySet uint8

// Weekdays builds a set from the given days.
func Weekdays(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.With(d)
	}
	return s
}

// With returns a copy of s that also contains d.
func (s WeekdaySet) With(d time.Weekday) WeekdaySet {
	if d < time.Sunday || d > time.Saturday {
		return s
	}
	return s | 1<<uint(d)
}

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d time.Weekday) bool {
	if d < time.Sunday || d > time.Saturday {
		return false
	}
	return s&(1<<uint(d)) != 0
}

// Empty reports whether the set has no days.
func (s WeekdaySet) Empty() bool { return s&0x7f == 0 }

// Days returns the members ordered Monday first, the way the availability
// form lists them.
func (s WeekdaySet) Days() []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for i := 1; i <= 7; i++ {
		d := time.Weekday(i % 7)
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Names returns the English weekday names of the members.
func (s WeekdaySet) Names() []string {
	days := s.Days()
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.String()
	}
	return out
}

func (s WeekdaySet) String() string {
	return strings.Join(s.Names(), ",")
}

// ParseWeekday accepts full English names or three-letter prefixes,
// case-insensitively ("monday", "Mon", "MON").
func ParseWeekday(name string) (time.Weekday, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if len(n) >= 3 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			full := strings.ToLower(d.String())
			if n == full || n == full[:3] {
				return d, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

// ParseWeekdays parses a list of weekday names into a set.
func ParseWeekdays(names []string) (WeekdaySet, error) {
	var s WeekdaySet
	for _, n := range names {
		d, err := ParseWeekday(n)
		if err != nil {
			return 0, err
		}
		s = s.With(d)
	}
	return s, nil
}

// Rule describes which calendar dates are occurrences. It is a value type;
// nothing in this package mutates a Rule.
type Rule struct {
	Pattern Pattern
	// Days is ignored for Monthly rules.
	Days WeekdaySet
	// Start anchors the week and day-of-month arithmetic.
	Start time.Time
	// End is inclusive. Nil means unbounded.
	End *time.Time
	// IntervalWeeks is only used by Custom. Values below 1 behave as 1.
	IntervalWeeks int
}

// Until returns a copy of r ending on end.
func (r Rule) Until(end time.Time) Rule {
	e := DateOf(end)
	r.End = &e
	return r
}

// interval returns the effective custom interval.
func (r Rule) interval() int {
	if r.IntervalWeeks < 1 {
		return 1
	}
	return r.IntervalWeeks
}

var (
	ErrNoStart     = errors.New("recurrence: start date is required")
	ErrEndBefore   = errors.New("recurrence: end date is before start date")
	ErrNoWeekdays  = errors.New("recurrence: at least one weekday is required")
	ErrBadInterval = errors.New("recurrence: interval must be at least one week")
)

// Validate checks the rule invariants. The matcher never calls it; rules
// that fail validation simply produce no occurrences. A zero Start is
// treated as missing.
func (r Rule) Validate() error {
	if _, err := ParsePattern(string(r.Pattern)); err != nil {
		return err
	}
	if r.Start.IsZero() {
		return ErrNoStart
	}
	if r.End != nil && DateOf(*r.End).Before(DateOf(r.Start)) {
		return ErrEndBefore
	}
	if r.Pattern.usesWeekdays() && r.Days.Empty() {
		return ErrNoWeekdays
	}
	if r.Pattern == Custom && r.IntervalWeeks < 1 {
		return ErrBadInterval
	}
	return nil
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
