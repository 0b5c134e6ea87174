// Package scheduler fires each chat's daily digest at its local time.
// Jobs and their executions are persisted, so the schedule survives
// restarts and a digest missed while the process was down can be caught
// up shortly after startup.
package scheduler

import (
	"fmt"
	"time"
)

// JobKind names what a job does when it fires.
type JobKind string

// KindDigest sends the chat's daily digest.
const KindDigest JobKind = "digest"

// Job is one chat's recurring daily action.
type Job struct {
	ID        string    `json:"id"` // UUIDv7
	ChatID    string    `json:"chat_id"`
	Kind      JobKind   `json:"kind"`
	At        string    `json:"at"`       // HH:MM local
	Timezone  string    `json:"timezone"` // IANA; empty means the scheduler default
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// clock parses At.
func (j *Job) clock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", j.At)
	if err != nil {
		return 0, 0, fmt.Errorf("job %s: bad time %q", j.ID, j.At)
	}
	return t.Hour(), t.Minute(), nil
}

// location resolves the job's zone, falling back to def.
func (j *Job) location(def *time.Location) *time.Location {
	if j.Timezone == "" {
		return def
	}
	loc, err := time.LoadLocation(j.Timezone)
	if err != nil {
		return def
	}
	return loc
}

// NextRun returns the first local occurrence of At strictly after
// after.
func (j *Job) NextRun(after time.Time, def *time.Location) (time.Time, error) {
	h, m, err := j.clock()
	if err != nil {
		return time.Time{}, err
	}
	local := after.In(j.location(def))
	next := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, local.Location())
	if !next.After(after) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, h, m, 0, 0, local.Location())
	}
	return next, nil
}

// PrevRun returns the latest occurrence of At at or before t.
func (j *Job) PrevRun(t time.Time, def *time.Location) (time.Time, error) {
	h, m, err := j.clock()
	if err != nil {
		return time.Time{}, err
	}
	local := t.In(j.location(def))
	prev := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, local.Location())
	if prev.After(t) {
		prev = time.Date(local.Year(), local.Month(), local.Day()-1, h, m, 0, 0, local.Location())
	}
	return prev, nil
}

// Execution is one run of a job.
type Execution struct {
	ID          string          `json:"id"` // UUIDv7
	JobID       string          `json:"job_id"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Result      string          `json:"result,omitempty"` // outcome or error
}

// ExecutionStatus is the state of an execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusSkipped   ExecutionStatus = "skipped" // ran, nothing was due
	StatusFailed    ExecutionStatus = "failed"
)
