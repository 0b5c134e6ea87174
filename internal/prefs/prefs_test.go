package prefs

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/hearth/internal/opstate"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	state, err := opstate.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return NewStore(state, Defaults{DigestTime: "06:30", Timezone: "UTC"})
}

func TestGet_Defaults(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.DigestTime != "06:30" || !p.DigestEnabled || p.Timezone != "UTC" {
		t.Errorf("defaults = %+v", p)
	}
	if p.HasLocation() {
		t.Error("HasLocation() = true with no coordinates")
	}
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lat, lon := 30.27, -97.74

	_, err := s.Update(ctx, "a", func(p *Preferences) {
		p.Latitude, p.Longitude = &lat, &lon
		p.LocationName = "Austin"
		p.Timezone = "America/Chicago"
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	p, _ := s.Get(ctx, "a")
	if !p.HasLocation() || p.LocationName != "Austin" {
		t.Errorf("after Update = %+v", p)
	}
	if got := p.Location(time.UTC).String(); got != "America/Chicago" {
		t.Errorf("Location = %q", got)
	}
	if p.DigestTime != "06:30" {
		t.Errorf("DigestTime = %q, want default kept", p.DigestTime)
	}
}

func TestUpdate_RejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bad := 123.0

	tests := []struct {
		name string
		fn   func(*Preferences)
	}{
		{"latitude", func(p *Preferences) { p.Latitude = &bad }},
		{"timezone", func(p *Preferences) { p.Timezone = "Nowhere/Special" }},
		{"digest time", func(p *Preferences) { p.DigestTime = "25:00" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Update(ctx, "a", tt.fn); err == nil {
				t.Fatal("Update should fail")
			}
		})
	}

	ids, _ := s.ChatIDs(ctx)
	if len(ids) != 0 {
		t.Errorf("invalid updates were saved: %v", ids)
	}
}

func TestMarkDigestSentAndChatIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.MarkDigestSent(ctx, "b", "2026-03-14"); err != nil {
		t.Fatal(err)
	}
	s.Update(ctx, "a", func(p *Preferences) { p.DigestEnabled = false })

	p, _ := s.Get(ctx, "b")
	if p.LastDigestDate != "2026-03-14" {
		t.Errorf("LastDigestDate = %q", p.LastDigestDate)
	}
	ids, err := s.ChatIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ChatIDs = %v, want [a b]", ids)
	}
}
