// Package health stores the per-chat health profile the assistant uses
// to personalize nutrition and sleep advice.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Profile is one chat's health profile. Nil fields are unknown.
type Profile struct {
	ChatID              string    `json:"-"`
	Age                 *int      `json:"age,omitempty"`
	Sex                 string    `json:"sex,omitempty"`
	HeightCM            *float64  `json:"height_cm,omitempty"`
	WeightKG            *float64  `json:"weight_kg,omitempty"`
	ActivityLevel       string    `json:"activity_level,omitempty"`
	Goals               string    `json:"goals,omitempty"`
	DietaryRestrictions string    `json:"dietary_restrictions,omitempty"`
	CalorieTarget       *float64  `json:"calorie_target,omitempty"`
	ProteinTargetG      *float64  `json:"protein_target_g,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Store persists profiles in SQLite, one JSON document per chat.
type Store struct {
	db *sql.DB
}

// NewStore creates a profile store, running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate health: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS health_profiles (
			chat_id    TEXT PRIMARY KEY,
			profile    TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// Get returns the chat's profile, or nil when none has been saved.
func (s *Store) Get(ctx context.Context, chatID string) (*Profile, error) {
	var raw, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT profile, updated_at FROM health_profiles WHERE chat_id = ?`, chatID,
	).Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	p.ChatID = chatID
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &p, nil
}

// Update loads the chat's profile (empty when none exists), applies fn
// and saves the result.
func (s *Store) Update(ctx context.Context, chatID string, fn func(*Profile)) (*Profile, error) {
	p, err := s.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &Profile{ChatID: chatID}
	}
	fn(p)
	p.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO health_profiles (chat_id, profile, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET profile = excluded.profile, updated_at = excluded.updated_at`,
		chatID, string(raw), p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return p, nil
}
