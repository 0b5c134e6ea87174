// Package meals persists the meals a user reports, per chat, with
// optional macro estimates. A nil macro is unknown, which is not the
// same as zero.
package meals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a meal does not exist for the chat.
var ErrNotFound = errors.New("meal not found")

// DateLayout is the layout of Meal.Date.
const DateLayout = "2006-01-02"

// Meal is one logged meal.
type Meal struct {
	ID          int64     `json:"id"`
	ChatID      string    `json:"-"`
	Description string    `json:"description"`
	Calories    *float64  `json:"calories,omitempty"`
	ProteinG    *float64  `json:"protein_g,omitempty"`
	CarbsG      *float64  `json:"carbs_g,omitempty"`
	FatG        *float64  `json:"fat_g,omitempty"`
	FiberG      *float64  `json:"fiber_g,omitempty"`
	MealType    string    `json:"meal_type,omitempty"` // breakfast, lunch, dinner, snack
	EatenAt     time.Time `json:"eaten_at"`
	Date        string    `json:"date"` // local calendar date of EatenAt
}

// Totals sums the known macros across a set of meals. A field stays nil
// until at least one meal supplies it, so "no fat logged" never reads
// as zero grams.
type Totals struct {
	Count    int      `json:"count"`
	Calories *float64 `json:"calories,omitempty"`
	ProteinG *float64 `json:"protein_g,omitempty"`
	CarbsG   *float64 `json:"carbs_g,omitempty"`
	FatG     *float64 `json:"fat_g,omitempty"`
	FiberG   *float64 `json:"fiber_g,omitempty"`
}

// Sum returns the totals for meals. Unknown values contribute nothing.
func Sum(meals []Meal) Totals {
	t := Totals{Count: len(meals)}
	add := func(dst **float64, v *float64) {
		if v == nil {
			return
		}
		if *dst == nil {
			*dst = new(float64)
		}
		**dst += *v
	}
	for _, m := range meals {
		add(&t.Calories, m.Calories)
		add(&t.ProteinG, m.ProteinG)
		add(&t.CarbsG, m.CarbsG)
		add(&t.FatG, m.FatG)
		add(&t.FiberG, m.FiberG)
	}
	return t
}

// Store persists meals in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a meal store, running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate meals: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS meals (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id     TEXT NOT NULL,
			description TEXT NOT NULL,
			calories    REAL,
			protein_g   REAL,
			carbs_g     REAL,
			fat_g       REAL,
			fiber_g     REAL,
			meal_type   TEXT NOT NULL DEFAULT '',
			eaten_at    TEXT NOT NULL,
			date        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_meals_chat_date ON meals(chat_id, date);
	`)
	return err
}

// Add inserts a meal and sets its ID. Date is derived from EatenAt
// when empty.
func (s *Store) Add(ctx context.Context, m *Meal) error {
	if m.ChatID == "" {
		return fmt.Errorf("add meal: chat id is required")
	}
	if m.EatenAt.IsZero() {
		m.EatenAt = time.Now()
	}
	if m.Date == "" {
		m.Date = m.EatenAt.Format(DateLayout)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO meals (chat_id, description, calories, protein_g, carbs_g, fat_g, fiber_g, meal_type, eaten_at, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.Description,
		nullFloat(m.Calories), nullFloat(m.ProteinG), nullFloat(m.CarbsG),
		nullFloat(m.FatG), nullFloat(m.FiberG),
		m.MealType, m.EatenAt.Format(time.RFC3339Nano), m.Date,
	)
	if err != nil {
		return fmt.Errorf("add meal: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("add meal: %w", err)
	}
	return nil
}

// ForDate returns a chat's meals on one date, oldest first.
func (s *Store) ForDate(ctx context.Context, chatID, date string) ([]Meal, error) {
	return s.Range(ctx, chatID, date, date)
}

// Range returns a chat's meals between start and end inclusive
// (YYYY-MM-DD), oldest first.
func (s *Store) Range(ctx context.Context, chatID, start, end string) ([]Meal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+` FROM meals
		WHERE chat_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, eaten_at ASC, id ASC`,
		chatID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("query meals: %w", err)
	}
	defer rows.Close()

	var out []Meal
	for rows.Next() {
		m, err := scanMeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Delete removes a meal by ID and returns it. Meals belonging to
// another chat are reported as ErrNotFound.
func (s *Store) Delete(ctx context.Context, chatID string, id int64) (*Meal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM meals WHERE chat_id = ? AND id = ?`, chatID, id)
	return s.deleteRow(ctx, row)
}

// DeleteMostRecent removes the chat's most recently logged meal.
func (s *Store) DeleteMostRecent(ctx context.Context, chatID string) (*Meal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM meals WHERE chat_id = ? ORDER BY id DESC LIMIT 1`, chatID)
	return s.deleteRow(ctx, row)
}

func (s *Store) deleteRow(ctx context.Context, row *sql.Row) (*Meal, error) {
	m, err := scanMeal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM meals WHERE id = ?`, m.ID); err != nil {
		return nil, fmt.Errorf("delete meal %d: %w", m.ID, err)
	}
	return m, nil
}

const columns = `id, chat_id, description, calories, protein_g, carbs_g, fat_g, fiber_g, meal_type, eaten_at, date`

type scanner interface {
	Scan(dest ...any) error
}

func scanMeal(sc scanner) (*Meal, error) {
	var (
		m                              Meal
		cal, protein, carbs, fat, fibr sql.NullFloat64
		eatenAt                        string
	)
	err := sc.Scan(&m.ID, &m.ChatID, &m.Description, &cal, &protein, &carbs, &fat, &fibr,
		&m.MealType, &eatenAt, &m.Date)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan meal: %w", err)
	}
	m.Calories = floatPtr(cal)
	m.ProteinG = floatPtr(protein)
	m.CarbsG = floatPtr(carbs)
	m.FatG = floatPtr(fat)
	m.FiberG = floatPtr(fibr)
	if m.EatenAt, err = time.Parse(time.RFC3339Nano, eatenAt); err != nil {
		return nil, fmt.Errorf("parse eaten_at %q: %w", eatenAt, err)
	}
	return &m, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
