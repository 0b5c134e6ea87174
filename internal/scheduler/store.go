package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("job not found")

// Store persists jobs and executions.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates the scheduler tables in db if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate scheduler: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schedule_jobs (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		at TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (chat_id, kind)
	);

	CREATE TABLE IF NOT EXISTS schedule_executions (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		scheduled_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT,
		status TEXT NOT NULL,
		result TEXT,
		FOREIGN KEY (job_id) REFERENCES schedule_jobs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_schedule_executions_job ON schedule_executions(job_id, scheduled_at);
	CREATE INDEX IF NOT EXISTS idx_schedule_executions_status ON schedule_executions(status);
	`)
	return err
}

// NewID generates a UUIDv7, falling back to v4.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

const jobColumns = `id, chat_id, kind, at, timezone, enabled, created_at, updated_at`

// UpsertJob saves j, replacing any existing job of the same chat and
// kind. j.ID is set to the stored job's id.
func (s *Store) UpsertJob(ctx context.Context, j *Job) error {
	now := s.now().UTC()
	if existing, err := s.GetJob(ctx, j.ChatID, j.Kind); err == nil {
		j.ID = existing.ID
		j.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if j.ID == "" {
		j.ID = NewID()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, kind) DO UPDATE SET
			at = excluded.at,
			timezone = excluded.timezone,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, j.ID, j.ChatID, string(j.Kind), j.At, j.Timezone, boolInt(j.Enabled),
		j.CreatedAt.Format(time.RFC3339Nano), j.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// GetJob returns the chat's job of the given kind.
func (s *Store) GetJob(ctx context.Context, chatID string, kind JobKind) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM schedule_jobs WHERE chat_id = ? AND kind = ?`, chatID, string(kind))
	return scanJob(row)
}

// JobByID returns a job by id.
func (s *Store) JobByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM schedule_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs returns jobs ordered by chat, optionally only enabled ones.
func (s *Store) ListJobs(ctx context.Context, enabledOnly bool) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM schedule_jobs`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY chat_id, kind`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job and its executions.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schedule_executions WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("delete executions: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schedule_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// CreateExecution records a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *Execution) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_executions (id, job_id, scheduled_at, started_at, completed_at, status, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.JobID, e.ScheduledAt.UTC().Format(time.RFC3339Nano),
		nullTime(e.StartedAt), nullTime(e.CompletedAt), string(e.Status), e.Result)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// UpdateExecution saves an execution's progress.
func (s *Store) UpdateExecution(ctx context.Context, e *Execution) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedule_executions SET started_at = ?, completed_at = ?, status = ?, result = ?
		WHERE id = ?
	`, nullTime(e.StartedAt), nullTime(e.CompletedAt), string(e.Status), e.Result, e.ID)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

// ListExecutions returns a job's executions, newest first.
func (s *Store) ListExecutions(ctx context.Context, jobID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, scheduled_at, started_at, completed_at, status, result
		FROM schedule_executions WHERE job_id = ?
		ORDER BY scheduled_at DESC LIMIT ?
	`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// HasExecution reports whether jobID already has an execution for the
// given scheduled time.
func (s *Store) HasExecution(ctx context.Context, jobID string, scheduledAt time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schedule_executions WHERE job_id = ? AND scheduled_at = ?`,
		jobID, scheduledAt.UTC().Format(time.RFC3339Nano)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count executions: %w", err)
	}
	return n > 0, nil
}

// FailInterrupted marks executions still running from an earlier
// process as failed. It returns how many were marked.
func (s *Store) FailInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_executions SET status = ?, result = 'interrupted by restart'
		WHERE status = ?
	`, string(StatusFailed), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("fail interrupted executions: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	var (
		j                    Job
		kind                 string
		enabled              int
		createdAt, updatedAt string
	)
	err := sc.Scan(&j.ID, &j.ChatID, &kind, &j.At, &j.Timezone, &enabled, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Kind = JobKind(kind)
	j.Enabled = enabled == 1
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &j, nil
}

func scanExecution(sc scanner) (*Execution, error) {
	var (
		e                              Execution
		scheduledAt, status            string
		startedAt, completedAt, result sql.NullString
	)
	if err := sc.Scan(&e.ID, &e.JobID, &scheduledAt, &startedAt, &completedAt, &status, &result); err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	e.Status = ExecutionStatus(status)
	e.ScheduledAt, _ = time.Parse(time.RFC3339Nano, scheduledAt)
	e.StartedAt = parseNullTime(startedAt)
	e.CompletedAt = parseNullTime(completedAt)
	e.Result = result.String
	return &e, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
