package recurrence

import (
	"iter"
	"time"
)

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// Matches reports whether date is an occurrence of r. Only the calendar date
// of each time is considered, each read in its own location, so a date and a
// rule from different zones compare by year, month and day.
func Matches(date time.Time, r Rule) bool {
	start := DateOf(r.Start)
	d := dateIn(date, start.Location())

	// The window check must stay ahead of weeksElapsed: that helper works
	// on the absolute difference and would accept dates before start.
	if d.Before(start) {
		return false
	}
	if r.End != nil && d.After(dateIn(*r.End, start.Location())) {
		return false
	}

	if r.Pattern.usesWeekdays() && !r.Days.Has(d.Weekday()) {
		return false
	}

	switch r.Pattern {
	case Weekly:
		return true
	case Biweekly:
		return weeksElapsed(start, d)%2 == 0
	case Monthly:
		// A rule anchored on the 31st never fires in shorter months.
		return d.Day() == start.Day()
	case Custom:
		return weeksElapsed(start, d)%int64(r.interval()) == 0
	default:
		return false
	}
}

// dateIn is the calendar date of t placed at midnight in loc.
func dateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// weeksElapsed is floor(ceil(|to-from| in days) / 7). Across a DST change a
// local-midnight difference of N days plus one hour rounds up to N+1.
func weeksElapsed(from, to time.Time) int64 {
	ms := to.Sub(from).Milliseconds()
	if ms < 0 {
		ms = -ms
	}
	days := (ms + dayMillis - 1) / dayMillis
	return days / 7
}

// Occurrences yields every date in [from, to] that matches r, ascending.
// The sequence holds no state and can be ranged over repeatedly.
func Occurrences(from, to time.Time, r Rule) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		end := DateOf(to)
		for d := DateOf(from); !d.After(end); d = d.AddDate(0, 0, 1) {
			if Matches(d, r) && !yield(d) {
				return
			}
		}
	}
}

// Enumerate collects Occurrences into a slice. An inverted window yields nil.
func Enumerate(from, to time.Time, r Rule) []time.Time {
	var out []time.Time
	for d := range Occurrences(from, to, r) {
		out = append(out, d)
	}
	return out
}

// First returns the earliest occurrence of r. Week zero covers the six
// days after Start, so a satisfiable rule always fires within that span.
func First(r Rule) (time.Time, bool) {
	start := DateOf(r.Start)
	for d := range Occurrences(start, start.AddDate(0, 0, 6), r) {
		return d, true
	}
	return time.Time{}, false
}
