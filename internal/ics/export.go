package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"squeedr/internal/exception"
	appLog "squeedr/internal/log"
	"squeedr/internal/recurrence"
)

const productID = "-//Squeedr//Availability//EN"

// Export renders exceptions as an iCalendar document of all-day events.
// Ranges use an exclusive DTEND; recurring exceptions carry an RRULE and
// start on their first occurrence. A recurring exception that never fires
// is left out.
func Export(name string, exceptions []exception.Exception, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, e := range exceptions {
		info := e.Meta()

		var start, end time.Time
		var rrule string
		switch v := e.(type) {
		case exception.Single:
			start = recurrence.DateOf(v.Date)
			end = start.AddDate(0, 0, 1)
		case exception.Range:
			start = recurrence.DateOf(v.Start)
			end = recurrence.DateOf(v.End).AddDate(0, 0, 1)
		case exception.Recurring:
			first, ok := recurrence.First(v.Rule)
			if !ok {
				appLog.Debug("ics export: recurring exception has no occurrence", "id", info.ID)
				continue
			}
			start, end = first, first.AddDate(0, 0, 1)
			rrule = recurrence.FormatRRule(v.Rule)
		default:
			continue
		}

		ev := cal.AddEvent(info.ID + "@squeedr")
		ev.SetDtStampTime(now.UTC())
		ev.SetSummary(summaryOf(info))
		ev.SetAllDayStartAt(start)
		ev.SetAllDayEndAt(end)
		if rrule != "" {
			ev.AddProperty(ical.ComponentPropertyRrule, rrule)
		}
		ev.SetProperty(ical.ComponentPropertyTransp, "OPAQUE")
	}

	return cal.Serialize()
}

func summaryOf(info exception.Info) string {
	if info.Reason != "" {
		return info.Reason
	}
	return "Unavailable"
}
