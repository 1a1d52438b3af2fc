package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"squeedr/internal/exception"
	appLog "squeedr/internal/log"
	"squeedr/internal/recurrence"
)

// ParseICS parses a single ICS payload into availability exceptions. Dates
// are taken in loc.
//
//   - All-day events become single or range exceptions (DTEND is exclusive).
//   - Timed events block every date they touch.
//   - Events with an RRULE become recurring exceptions when the rule has a
//     weekly/biweekly/custom/monthly equivalent; others are skipped.
//   - Cancelled, transparent (free) and RECURRENCE-ID override events are
//     skipped.
func ParseICS(src Source, body []byte, loc *time.Location) ([]exception.Exception, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	out := make([]exception.Exception, 0)
	skipped := 0

	for _, ve := range cal.Events() {
		ex, perr := parseVEvent(src, ve, loc)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Debug("ics vevent skipped", "id", src.ID, "reason", perr.Error())
			skipped++
			continue
		}
		out = append(out, ex)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "exception_count", len(out), "skipped", skipped)
	return out, nil
}

var (
	errMissingUID = errors.New("missing UID")
	errIgnored    = errors.New("event does not block availability")
)

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (exception.Exception, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return nil, errMissingUID
	}

	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		return nil, errIgnored
	}
	if p := ve.GetProperty(ical.ComponentPropertyTransp); p != nil && strings.EqualFold(p.Value, "TRANSPARENT") {
		return nil, errIgnored
	}
	// Use raw property name to avoid constant mismatch.
	if ve.GetProperty("RECURRENCE-ID") != nil {
		return nil, errIgnored
	}

	info := exception.Info{ID: src.ID + ":" + uidProp.Value, Source: src.ID}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		info.Reason = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return nil, errors.New("missing DTSTART")
	}
	start, err := ve.GetStartAt()
	if err != nil {
		return nil, err
	}
	allDay := isDateValue(dtStart)

	first := dateIn(start, loc, allDay)

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		rule, err := recurrence.ParseRRule(rruleProp.Value, first)
		if err != nil {
			return nil, err
		}
		return exception.Recurring{Info: info, Rule: rule}, nil
	}

	last := first
	if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
		if end, err := ve.GetEndAt(); err == nil && end.After(start) {
			if allDay {
				last = dateIn(end, loc, true).AddDate(0, 0, -1)
			} else {
				// An event ending exactly at midnight does not touch that day.
				last = dateIn(end.Add(-time.Nanosecond), loc, false)
			}
		}
	}
	return exception.Span(info, first, last), nil
}

// isDateValue reports whether a DTSTART carries a DATE rather than a
// DATE-TIME: VALUE=DATE or no 'T' in the value.
func isDateValue(p *ical.IANAProperty) bool {
	if params := p.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(p.Value, "T")
}

// dateIn maps t onto a calendar date in loc. All-day values keep their
// written date whatever zone the parser attached.
func dateIn(t time.Time, loc *time.Location, allDay bool) time.Time {
	if !allDay {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
