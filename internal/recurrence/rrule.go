package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrUnsupportedRRule is returned for RRULEs that have no Rule equivalent
// (daily or yearly frequencies, nth-weekday monthly rules, ...).
var ErrUnsupportedRRule = errors.New("recurrence: unsupported RRULE")

// rruleDays is indexed by rrule-go's weekday number (Monday = 0).
var rruleDays = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

func toRRuleDay(d time.Weekday) rrule.Weekday {
	return rruleDays[(int(d)+6)%7]
}

func fromRRuleDay(n int) time.Weekday {
	return time.Weekday((n + 1) % 7)
}

// FormatRRule renders r as an RFC 5545 RRULE value without the "RRULE:"
// prefix. The end date becomes an UNTIL at 23:59:59 UTC on that date.
// WKST is the start weekday, so RFC 5545 weeks line up with the seven-day
// blocks the matcher counts from Start.
func FormatRRule(r Rule) string {
	opt := rrule.ROption{Wkst: toRRuleDay(DateOf(r.Start).Weekday())}

	switch r.Pattern {
	case Monthly:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{DateOf(r.Start).Day()}
	default:
		opt.Freq = rrule.WEEKLY
		switch r.Pattern {
		case Biweekly:
			opt.Interval = 2
		case Custom:
			if n := r.interval(); n > 1 {
				opt.Interval = n
			}
		}
		for _, d := range r.Days.Days() {
			opt.Byweekday = append(opt.Byweekday, toRRuleDay(d))
		}
	}

	if r.End != nil {
		y, m, d := r.End.Date()
		opt.Until = time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
	}

	return opt.RRuleString()
}

// ParseRRule maps an RRULE value onto a Rule anchored at start. COUNT is
// resolved to an end date by expanding the rule.
func ParseRRule(s string, start time.Time) (Rule, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "RRULE:")
	if s == "" {
		return Rule{}, fmt.Errorf("%w: empty rule", ErrUnsupportedRRule)
	}

	opt, err := rrule.StrToROption(s)
	if err != nil {
		return Rule{}, fmt.Errorf("parse rrule %q: %w", s, err)
	}

	start = DateOf(start)
	out := Rule{Start: start}
	interval := opt.Interval
	if interval < 1 {
		interval = 1
	}

	switch opt.Freq {
	case rrule.WEEKLY:
		for i := range opt.Byweekday {
			out.Days = out.Days.With(fromRRuleDay(opt.Byweekday[i].Day()))
		}
		if out.Days.Empty() {
			out.Days = Weekdays(start.Weekday())
		}
		if interval > 1 && !anchoredAtStart(opt.Wkst, start.Weekday(), out.Days) {
			return Rule{}, fmt.Errorf("%w: WKST=%s weeks do not start on DTSTART: %s", ErrUnsupportedRRule, opt.Wkst, s)
		}
		switch interval {
		case 1:
			out.Pattern = Weekly
		case 2:
			out.Pattern = Biweekly
		default:
			out.Pattern = Custom
			out.IntervalWeeks = interval
		}
	case rrule.MONTHLY:
		if interval != 1 || len(opt.Byweekday) > 0 || len(opt.Bysetpos) > 0 {
			return Rule{}, fmt.Errorf("%w: %s", ErrUnsupportedRRule, s)
		}
		for _, md := range opt.Bymonthday {
			if md != start.Day() {
				return Rule{}, fmt.Errorf("%w: BYMONTHDAY=%d does not match start day %d", ErrUnsupportedRRule, md, start.Day())
			}
		}
		out.Pattern = Monthly
	default:
		return Rule{}, fmt.Errorf("%w: FREQ=%v", ErrUnsupportedRRule, opt.Freq)
	}

	switch {
	case !opt.Until.IsZero():
		y, m, d := opt.Until.UTC().Date()
		out = out.Until(time.Date(y, m, d, 0, 0, 0, 0, start.Location()))
	case opt.Count > 0:
		opt.Dtstart = start
		rr, err := rrule.NewRRule(*opt)
		if err != nil {
			return Rule{}, fmt.Errorf("expand rrule %q: %w", s, err)
		}
		if all := rr.All(); len(all) > 0 {
			out = out.Until(all[len(all)-1])
		}
	}

	return out, nil
}

// anchoredAtStart reports whether counting weeks from wkst selects the same
// dates as counting seven-day blocks from the start weekday. That holds
// unless some selected weekday falls between wkst and the start weekday.
func anchoredAtStart(wkst rrule.Weekday, startDay time.Weekday, days WeekdaySet) bool {
	offset := func(d time.Weekday) int {
		wd := toRRuleDay(d)
		return (wd.Day() - wkst.Day() + 7) % 7
	}
	startOffset := offset(startDay)
	for _, d := range days.Days() {
		if offset(d) < startOffset {
			return false
		}
	}
	return true
}
