// Package sleep persists sleep sessions per chat.
package sleep

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNotFound is returned when a session does not exist for the chat.
var ErrNotFound = errors.New("sleep session not found")

// Session is one night (or nap) of sleep. Date is the local date the
// user woke up on.
type Session struct {
	ID            int64      `json:"id"`
	ChatID        string     `json:"-"`
	Date          string     `json:"date"`
	Bedtime       *time.Time `json:"bedtime,omitempty"`
	WakeTime      *time.Time `json:"wake_time,omitempty"`
	DurationHours *float64   `json:"duration_hours,omitempty"`
	Quality       *int       `json:"quality,omitempty"` // 1-10
	Notes         string     `json:"notes,omitempty"`
}

// Normalize fills DurationHours from Bedtime and WakeTime when both are
// known and no duration was given, and validates Quality.
func (s *Session) Normalize() error {
	if s.Quality != nil && (*s.Quality < 1 || *s.Quality > 10) {
		return fmt.Errorf("quality %d out of range (1-10)", *s.Quality)
	}
	if s.DurationHours == nil && s.Bedtime != nil && s.WakeTime != nil {
		d := s.WakeTime.Sub(*s.Bedtime)
		if d < 0 {
			// Wake time given without a date rolls past midnight.
			d += 24 * time.Hour
		}
		h := math.Round(d.Hours()*100) / 100
		s.DurationHours = &h
	}
	if s.DurationHours != nil && (*s.DurationHours < 0 || *s.DurationHours > 24) {
		return fmt.Errorf("duration %.2fh out of range (0-24)", *s.DurationHours)
	}
	return nil
}

// Store persists sleep sessions in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a sleep store, running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate sleep: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sleep_sessions (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id        TEXT NOT NULL,
			date           TEXT NOT NULL,
			bedtime        TEXT,
			wake_time      TEXT,
			duration_hours REAL,
			quality        INTEGER,
			notes          TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_sleep_chat_date ON sleep_sessions(chat_id, date);
	`)
	return err
}

// Add normalizes and inserts a session, setting its ID.
func (s *Store) Add(ctx context.Context, sess *Session) error {
	if sess.ChatID == "" || sess.Date == "" {
		return fmt.Errorf("add sleep: chat id and date are required")
	}
	if err := sess.Normalize(); err != nil {
		return fmt.Errorf("add sleep: %w", err)
	}

	var quality sql.NullInt64
	if sess.Quality != nil {
		quality = sql.NullInt64{Int64: int64(*sess.Quality), Valid: true}
	}
	var duration sql.NullFloat64
	if sess.DurationHours != nil {
		duration = sql.NullFloat64{Float64: *sess.DurationHours, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sleep_sessions (chat_id, date, bedtime, wake_time, duration_hours, quality, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ChatID, sess.Date, nullTime(sess.Bedtime), nullTime(sess.WakeTime),
		duration, quality, sess.Notes,
	)
	if err != nil {
		return fmt.Errorf("add sleep: %w", err)
	}
	sess.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("add sleep: %w", err)
	}
	return nil
}

// Range returns a chat's sessions between start and end inclusive
// (YYYY-MM-DD), oldest first.
func (s *Store) Range(ctx context.Context, chatID, start, end string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+` FROM sleep_sessions
		WHERE chat_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, id ASC`,
		chatID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("query sleep: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// Delete removes a session by ID and returns it.
func (s *Store) Delete(ctx context.Context, chatID string, id int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM sleep_sessions WHERE chat_id = ? AND id = ?`, chatID, id)
	return s.deleteRow(ctx, row)
}

// DeleteMostRecent removes the chat's most recently logged session.
func (s *Store) DeleteMostRecent(ctx context.Context, chatID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM sleep_sessions WHERE chat_id = ? ORDER BY id DESC LIMIT 1`, chatID)
	return s.deleteRow(ctx, row)
}

func (s *Store) deleteRow(ctx context.Context, row *sql.Row) (*Session, error) {
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sleep_sessions WHERE id = ?`, sess.ID); err != nil {
		return nil, fmt.Errorf("delete sleep %d: %w", sess.ID, err)
	}
	return sess, nil
}

const columns = `id, chat_id, date, bedtime, wake_time, duration_hours, quality, notes`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*Session, error) {
	var (
		sess      Session
		bed, wake sql.NullString
		duration  sql.NullFloat64
		quality   sql.NullInt64
	)
	if err := sc.Scan(&sess.ID, &sess.ChatID, &sess.Date, &bed, &wake, &duration, &quality, &sess.Notes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan sleep: %w", err)
	}
	var err error
	if sess.Bedtime, err = parseTime(bed); err != nil {
		return nil, err
	}
	if sess.WakeTime, err = parseTime(wake); err != nil {
		return nil, err
	}
	if duration.Valid {
		d := duration.Float64
		sess.DurationHours = &d
	}
	if quality.Valid {
		q := int(quality.Int64)
		sess.Quality = &q
	}
	return &sess, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func parseTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", v.String, err)
	}
	return &t, nil
}
