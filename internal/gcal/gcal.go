// Package gcal maps availability exceptions to and from Google Calendar
// events. Authorisation is the caller's job: pass an API key or an already
// authorised HTTP client through option.ClientOption.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"squeedr/internal/exception"
	appLog "squeedr/internal/log"
	"squeedr/internal/recurrence"
)

// idProperty is the private extended property carrying the exception ID on
// pushed events.
const idProperty = "squeedr_exception_id"

// ErrIgnored marks events that do not block availability (cancelled,
// transparent or single-instance overrides).
var ErrIgnored = errors.New("gcal: event does not block availability")

// ToEvent renders e as an all-day Google Calendar event. Recurring
// exceptions start on their first occurrence and carry an RRULE. ok is
// false when a recurring exception never fires.
func ToEvent(e exception.Exception) (ev *calendar.Event, ok bool) {
	info := e.Meta()

	var start, end time.Time
	var recurrenceLines []string
	switch v := e.(type) {
	case exception.Single:
		start = recurrence.DateOf(v.Date)
		end = start.AddDate(0, 0, 1)
	case exception.Range:
		start = recurrence.DateOf(v.Start)
		end = recurrence.DateOf(v.End).AddDate(0, 0, 1)
	case exception.Recurring:
		first, found := recurrence.First(v.Rule)
		if !found {
			return nil, false
		}
		start, end = first, first.AddDate(0, 0, 1)
		recurrenceLines = []string{"RRULE:" + recurrence.FormatRRule(v.Rule)}
	default:
		return nil, false
	}

	summary := info.Reason
	if summary == "" {
		summary = "Unavailable"
	}

	return &calendar.Event{
		Summary:      summary,
		Start:        &calendar.EventDateTime{Date: start.Format(exception.DateLayout)},
		End:          &calendar.EventDateTime{Date: end.Format(exception.DateLayout)},
		Recurrence:   recurrenceLines,
		Transparency: "opaque",
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{idProperty: info.ID},
		},
	}, true
}

// FromEvent maps a Google Calendar event onto an exception tagged with
// source. Dates are read in loc.
func FromEvent(source string, ev *calendar.Event, loc *time.Location) (exception.Exception, error) {
	if ev == nil || ev.Id == "" {
		return nil, errors.New("gcal: event without id")
	}
	if loc == nil {
		loc = time.Local
	}
	if strings.EqualFold(ev.Status, "cancelled") || strings.EqualFold(ev.Transparency, "transparent") {
		return nil, ErrIgnored
	}
	if ev.RecurringEventId != "" {
		return nil, ErrIgnored
	}

	info := exception.Info{ID: source + ":" + ev.Id, Reason: ev.Summary, Source: source}

	first, allDay, err := parseEventDate(ev.Start, loc)
	if err != nil {
		return nil, fmt.Errorf("gcal: event %s start: %w", ev.Id, err)
	}

	for _, line := range ev.Recurrence {
		if !strings.HasPrefix(line, "RRULE:") {
			continue
		}
		rule, err := recurrence.ParseRRule(line, first)
		if err != nil {
			return nil, err
		}
		return exception.Recurring{Info: info, Rule: rule}, nil
	}

	last := first
	if ev.End != nil {
		end, _, err := parseEventDate(ev.End, loc)
		if err == nil {
			if allDay {
				last = end.AddDate(0, 0, -1)
			} else if t, err := time.Parse(time.RFC3339, ev.End.DateTime); err == nil {
				last = recurrence.DateOf(t.Add(-time.Nanosecond).In(loc))
			}
		}
	}
	return exception.Span(info, first, last), nil
}

// parseEventDate returns the calendar date of an EventDateTime in loc.
func parseEventDate(dt *calendar.EventDateTime, loc *time.Location) (time.Time, bool, error) {
	if dt == nil {
		return time.Time{}, false, errors.New("missing date")
	}
	if dt.Date != "" {
		d, err := time.ParseInLocation(exception.DateLayout, dt.Date, loc)
		return d, true, err
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return time.Time{}, false, err
	}
	return recurrence.DateOf(t.In(loc)), false, nil
}

// Client talks to the Google Calendar API.
type Client struct {
	service *calendar.Service
	loc     *time.Location
}

// NewClient builds a Client. loc is the zone dates are interpreted in.
func NewClient(ctx context.Context, loc *time.Location, opts ...option.ClientOption) (*Client, error) {
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Client{service: service, loc: loc}, nil
}

// Import lists the events of calendarID, recurring series unexpanded, and
// maps those that block availability. The calendar ID is the source tag.
func (c *Client) Import(ctx context.Context, calendarID string) ([]exception.Exception, error) {
	out := make([]exception.Exception, 0)
	skipped := 0

	err := c.service.Events.List(calendarID).
		SingleEvents(false).
		ShowDeleted(false).
		MaxResults(250).
		Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				ex, err := FromEvent(calendarID, item, c.loc)
				if err != nil {
					if !errors.Is(err, ErrIgnored) {
						appLog.Debug("gcal event skipped", "calendar", calendarID, "event", item.Id, "reason", err.Error())
					}
					skipped++
					continue
				}
				out = append(out, ex)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	appLog.Info("gcal import completed", "calendar", calendarID, "exception_count", len(out), "skipped", skipped)
	return out, nil
}

// Push inserts e into calendarID and returns the created event ID.
func (c *Client) Push(ctx context.Context, calendarID string, e exception.Exception) (string, error) {
	ev, ok := ToEvent(e)
	if !ok {
		return "", fmt.Errorf("%w: exception %s has no occurrence", exception.ErrInvalid, e.Meta().ID)
	}
	created, err := c.service.Events.Insert(calendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}
	return created.Id, nil
}
