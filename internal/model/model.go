package model

import "time"

// Category tells the calendar view which marker to draw for a date.
type Category string

const (
	// CategorySingle covers both single-day and date-range exceptions.
	CategorySingle    Category = "single"
	CategoryRecurring Category = "recurring"
)

// MarkedDate is one calendar date blocked by an availability exception.
// A date blocked by several exceptions appears once per exception.
type MarkedDate struct {
	Date        time.Time
	ExceptionID string
	Category    Category
}

// Window is an inclusive range of calendar dates.
type Window struct {
	Start time.Time
	End   time.Time
}

// MonthGrid returns the window shown for a month view: the month padded
// back to weekStart and forward to the day before the next weekStart.
func MonthGrid(year int, month time.Month, weekStart time.Weekday, loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1)

	lead := (int(first.Weekday()) - int(weekStart) + 7) % 7
	trail := (int(weekStart) + 6 - int(last.Weekday()) + 7) % 7

	return Window{
		Start: first.AddDate(0, 0, -lead),
		End:   last.AddDate(0, 0, trail),
	}
}

// Contains reports whether t lies in w. Callers pass midnight-normalised dates.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}
