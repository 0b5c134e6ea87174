// Package prefs holds per-chat preferences: where the user is, which
// time zone they live in, and when their daily digest should arrive.
// Preferences are stored as JSON documents in the operational state
// store.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/nugget/hearth/internal/opstate"
)

const namespace = "preferences"

// Preferences are one chat's settings.
type Preferences struct {
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	LocationName   string   `json:"location_name,omitempty"`
	Timezone       string   `json:"timezone,omitempty"`
	DigestTime     string   `json:"digest_time"` // HH:MM local
	DigestEnabled  bool     `json:"digest_enabled"`
	LastDigestDate string   `json:"last_digest_date,omitempty"`
}

// HasLocation reports whether coordinates are on file.
func (p Preferences) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// Location returns the chat's time zone, or fallback when unset or
// unknown.
func (p Preferences) Location(fallback *time.Location) *time.Location {
	if p.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Validate checks field ranges.
func (p Preferences) Validate() error {
	if p.Latitude != nil && (*p.Latitude < -90 || *p.Latitude > 90) {
		return fmt.Errorf("latitude %v out of range (-90..90)", *p.Latitude)
	}
	if p.Longitude != nil && (*p.Longitude < -180 || *p.Longitude > 180) {
		return fmt.Errorf("longitude %v out of range (-180..180)", *p.Longitude)
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q", p.Timezone)
		}
	}
	if !clockPattern.MatchString(p.DigestTime) {
		return fmt.Errorf("digest_time %q must be HH:MM", p.DigestTime)
	}
	return nil
}

// Defaults seed preferences for chats that have never saved any.
type Defaults struct {
	DigestTime string
	Timezone   string
}

// Store reads and writes preferences.
type Store struct {
	state    *opstate.Store
	defaults Defaults
}

// NewStore creates a preferences store on top of state.
func NewStore(state *opstate.Store, defaults Defaults) *Store {
	if defaults.DigestTime == "" {
		defaults.DigestTime = "07:00"
	}
	return &Store{state: state, defaults: defaults}
}

// Get returns the chat's preferences, or the defaults when none have
// been saved.
func (s *Store) Get(ctx context.Context, chatID string) (Preferences, error) {
	raw, err := s.state.Get(ctx, namespace, chatID)
	if err != nil {
		return Preferences{}, err
	}
	p := Preferences{
		DigestTime:    s.defaults.DigestTime,
		DigestEnabled: true,
		Timezone:      s.defaults.Timezone,
	}
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Preferences{}, fmt.Errorf("decode preferences for %s: %w", chatID, err)
	}
	return p, nil
}

// Update applies fn to the chat's preferences, validates and saves
// them. Nothing is written when validation fails.
func (s *Store) Update(ctx context.Context, chatID string, fn func(*Preferences)) (Preferences, error) {
	p, err := s.Get(ctx, chatID)
	if err != nil {
		return Preferences{}, err
	}
	fn(&p)
	if err := p.Validate(); err != nil {
		return Preferences{}, err
	}
	if err := s.save(ctx, chatID, p); err != nil {
		return Preferences{}, err
	}
	return p, nil
}

// MarkDigestSent records the local date a digest went out.
func (s *Store) MarkDigestSent(ctx context.Context, chatID, date string) error {
	p, err := s.Get(ctx, chatID)
	if err != nil {
		return err
	}
	p.LastDigestDate = date
	return s.save(ctx, chatID, p)
}

// ChatIDs returns every chat that has saved preferences, sorted.
func (s *Store) ChatIDs(ctx context.Context) ([]string, error) {
	all, err := s.state.List(ctx, namespace)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) save(ctx context.Context, chatID string, p Preferences) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	return s.state.Set(ctx, namespace, chatID, string(raw))
}
