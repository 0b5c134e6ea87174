package dav

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

// Event is one calendar occurrence.
type Event struct {
	Summary  string    `json:"summary"`
	Location string    `json:"location,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitempty"`
	AllDay   bool      `json:"all_day,omitempty"`
}

// Calendar lists events from one CalDAV calendar.
type Calendar struct {
	client   *caldav.Client
	calendar discovery
}

// NewCalendar creates a CalDAV reader. No request is made until the
// first query.
func NewCalendar(opts Options) (*Calendar, error) {
	client, err := caldav.NewClient(newHTTPClient(opts), opts.URL)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}
	c := &Calendar{client: client}
	c.calendar.path = opts.CalendarPath
	c.calendar.find = c.discover
	return c, nil
}

// discover picks the first calendar that holds events.
func (c *Calendar) discover(ctx context.Context) (string, error) {
	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}
	home, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find calendar home: %w", err)
	}
	cals, err := c.client.FindCalendars(ctx, home)
	if err != nil {
		return "", fmt.Errorf("list calendars: %w", err)
	}
	for _, cal := range cals {
		if supportsEvents(cal.SupportedComponentSet) {
			return cal.Path, nil
		}
	}
	return "", errNoCollection("event calendar", home)
}

func supportsEvents(set []string) bool {
	if len(set) == 0 {
		return true
	}
	for _, comp := range set {
		if strings.EqualFold(comp, ical.CompEvent) {
			return true
		}
	}
	return false
}

// Upcoming returns events overlapping [from, from+days), sorted by
// start. Recurring events are expanded by the server.
func (c *Calendar) Upcoming(ctx context.Context, from time.Time, days int, loc *time.Location) ([]Event, error) {
	if days <= 0 {
		days = 1
	}
	path, err := c.calendar.get(ctx)
	if err != nil {
		return nil, err
	}
	end := from.AddDate(0, 0, days)

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name: ical.CompEvent,
				Props: []string{
					ical.PropSummary,
					ical.PropLocation,
					ical.PropDateTimeStart,
					ical.PropDateTimeEnd,
					ical.PropDuration,
				},
			}},
			Expand: &caldav.CalendarExpandRequest{Start: from.UTC(), End: end.UTC()},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: from.UTC(),
				End:   end.UTC(),
			}},
		},
	}

	objs, err := c.client.QueryCalendar(ctx, path, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	var cals []*ical.Calendar
	for _, o := range objs {
		if o.Data != nil {
			cals = append(cals, o.Data)
		}
	}
	return eventsFrom(cals, from, end, loc), nil
}

// eventsFrom flattens calendars into events within [from, end).
func eventsFrom(cals []*ical.Calendar, from, end time.Time, loc *time.Location) []Event {
	if loc == nil {
		loc = time.Local
	}
	var out []Event
	for _, cal := range cals {
		for _, ev := range cal.Events() {
			start, err := ev.DateTimeStart(loc)
			if err != nil {
				continue
			}
			e := Event{Start: start.In(loc)}
			if stop, err := ev.DateTimeEnd(loc); err == nil && !stop.IsZero() {
				e.End = stop.In(loc)
			}
			if p := ev.Props.Get(ical.PropDateTimeStart); p != nil && p.ValueType() == ical.ValueDate {
				e.AllDay = true
			}
			e.Summary, _ = ev.Props.Text(ical.PropSummary)
			e.Location, _ = ev.Props.Text(ical.PropLocation)
			if e.Summary == "" {
				e.Summary = "(untitled)"
			}

			evEnd := e.End
			if evEnd.IsZero() {
				evEnd = e.Start
			}
			if !e.Start.Before(end) || evEnd.Before(from) {
				continue
			}
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// FormatEvents renders events as one line each, for the digest.
func FormatEvents(events []Event) string {
	var b strings.Builder
	for _, e := range events {
		switch {
		case e.AllDay:
			fmt.Fprintf(&b, "• All day: %s", e.Summary)
		case !e.End.IsZero():
			fmt.Fprintf(&b, "• %s–%s %s", e.Start.Format("15:04"), e.End.Format("15:04"), e.Summary)
		default:
			fmt.Fprintf(&b, "• %s %s", e.Start.Format("15:04"), e.Summary)
		}
		if e.Location != "" {
			fmt.Fprintf(&b, " (%s)", e.Location)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
