package dav

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"
)

func newEvent(summary string, start, end time.Time, allDay bool) *ical.Component {
	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, summary)
	ev.Props.SetText(ical.PropSummary, summary)
	if allDay {
		ev.Props.SetDate(ical.PropDateTimeStart, start)
		ev.Props.SetDate(ical.PropDateTimeEnd, end)
	} else {
		ev.Props.SetDateTime(ical.PropDateTimeStart, start)
		ev.Props.SetDateTime(ical.PropDateTimeEnd, end)
	}
	return ev.Component
}

func TestEventsFrom(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, loc)

	cal := ical.NewCalendar()
	cal.Children = append(cal.Children,
		newEvent("Dentist", day.Add(15*time.Hour), day.Add(16*time.Hour), false),
		newEvent("Farmers market", day, day.AddDate(0, 0, 1), true),
		newEvent("Standup", day.Add(9*time.Hour), day.Add(9*time.Hour+15*time.Minute), false),
		newEvent("Next week", day.AddDate(0, 0, 7), day.AddDate(0, 0, 7).Add(time.Hour), false),
	)

	got := eventsFrom([]*ical.Calendar{cal}, day, day.AddDate(0, 0, 1), loc)
	if len(got) != 3 {
		t.Fatalf("eventsFrom = %+v, want 3 events", got)
	}
	wantOrder := []string{"Farmers market", "Standup", "Dentist"}
	for i, w := range wantOrder {
		if got[i].Summary != w {
			t.Errorf("event[%d] = %q, want %q", i, got[i].Summary, w)
		}
	}
	if !got[0].AllDay || got[1].AllDay {
		t.Errorf("AllDay flags = %v, %v", got[0].AllDay, got[1].AllDay)
	}

	out := FormatEvents(got)
	for _, want := range []string{"• All day: Farmers market", "• 09:00–09:15 Standup", "• 15:00–16:00 Dentist"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatEvents missing %q:\n%s", want, out)
		}
	}
}

func card(fn, nick string, emails ...string) vcard.Card {
	c := make(vcard.Card)
	c.SetValue(vcard.FieldFormattedName, fn)
	if nick != "" {
		c.SetValue(vcard.FieldNickname, nick)
	}
	for _, e := range emails {
		c.AddValue(vcard.FieldEmail, e)
	}
	return c
}

func TestBestEmail(t *testing.T) {
	cards := []vcard.Card{
		card("Sam Rivera Jr", "", "junior@example.com"),
		card("Sam Rivera", "", "sam@example.com"),
		card("Samantha Stone", "sammy"),
		card("Pat Lee", "patty", "pat@example.com"),
	}

	tests := []struct {
		name string
		want string
	}{
		{"sam rivera", "sam@example.com"},
		{"Rivera", "junior@example.com"},
		{"patty", "pat@example.com"},
		{"sammy", ""},
		{"nobody", ""},
	}
	for _, tt := range tests {
		if got := bestEmail(cards, tt.name); got != tt.want {
			t.Errorf("bestEmail(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestHasEmail(t *testing.T) {
	cards := []vcard.Card{card("Pat Lee", "", "pat@work.example", "Pat@Home.example")}
	if !hasEmail(cards, "pat@home.example") {
		t.Error("hasEmail should match case-insensitively on any address")
	}
	if hasEmail(cards, "pat@elsewhere.example") {
		t.Error("hasEmail matched an unknown address")
	}
}

func TestDiscoveryCaching(t *testing.T) {
	calls := 0
	fail := true
	d := discovery{find: func(context.Context) (string, error) {
		calls++
		if fail {
			return "", errors.New("server down")
		}
		return "/cal/", nil
	}}

	if _, err := d.get(context.Background()); err == nil {
		t.Fatal("first get should fail")
	}
	fail = false
	for i := 0; i < 3; i++ {
		p, err := d.get(context.Background())
		if err != nil || p != "/cal/" {
			t.Fatalf("get = %q, %v", p, err)
		}
	}
	if calls != 2 {
		t.Errorf("find called %d times, want 2 (failure not cached, success cached)", calls)
	}
}
