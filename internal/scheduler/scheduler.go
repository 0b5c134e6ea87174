package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nugget/hearth/internal/events"
	"github.com/nugget/hearth/internal/prefs"
)

// Defaults.
const (
	DefaultRunTimeout    = 10 * time.Minute
	DefaultCatchUpWindow = 3 * time.Hour
)

// RunFunc performs a job. It reports whether anything was done; false
// records the execution as skipped.
type RunFunc func(ctx context.Context, job *Job) (bool, error)

// Options tune a Scheduler.
type Options struct {
	Location      *time.Location // zone for jobs without one
	RunTimeout    time.Duration
	CatchUpWindow time.Duration // how late a missed run may still fire at startup
}

// Scheduler arms one timer per enabled job.
type Scheduler struct {
	store  *Store
	run    RunFunc
	opts   Options
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	timers  map[string]*time.Timer // job id -> timer
	running bool
	wg      sync.WaitGroup
}

// New creates a scheduler over store that calls run when a job fires.
func New(store *Store, run RunFunc, opts Options, logger *slog.Logger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.CatchUpWindow <= 0 {
		opts.CatchUpWindow = DefaultCatchUpWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:  store,
		run:    run,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
}

// SetEventBus publishes a job_fired event for every run.
func (s *Scheduler) SetEventBus(bus *events.Bus) { s.bus = bus }

// Start arms every enabled job and catches up runs missed while the
// process was down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if n, err := s.store.FailInterrupted(ctx); err != nil {
		return err
	} else if n > 0 {
		s.logger.Warn("marked interrupted executions failed", "count", n)
	}

	jobs, err := s.store.ListJobs(ctx, true)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		s.catchUp(ctx, j)
		s.arm(j)
	}
	s.logger.Info("scheduler started", "jobs", len(jobs))
	return nil
}

// Stop cancels all timers and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Reschedule saves the chat's digest job from its preferences and
// re-arms its timer.
func (s *Scheduler) Reschedule(ctx context.Context, chatID string, p prefs.Preferences) error {
	j := &Job{
		ChatID:   chatID,
		Kind:     KindDigest,
		At:       p.DigestTime,
		Timezone: p.Timezone,
		Enabled:  p.DigestEnabled,
	}
	if _, err := j.NextRun(s.now(), s.opts.Location); err != nil {
		return err
	}
	if err := s.store.UpsertJob(ctx, j); err != nil {
		return err
	}

	s.disarm(j.ID)
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if j.Enabled && running {
		s.arm(j)
	}
	s.logger.Info("digest rescheduled",
		"chat_id", chatID,
		"at", j.At,
		"timezone", j.Timezone,
		"enabled", j.Enabled,
	)
	return nil
}

// Jobs lists every job.
func (s *Scheduler) Jobs(ctx context.Context) ([]*Job, error) {
	return s.store.ListJobs(ctx, false)
}

// Executions returns a job's run history, newest first.
func (s *Scheduler) Executions(ctx context.Context, jobID string, limit int) ([]*Execution, error) {
	return s.store.ListExecutions(ctx, jobID, limit)
}

// Stats summarizes scheduler state.
func (s *Scheduler) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"running":       s.running,
		"active_timers": len(s.timers),
	}
}

// arm sets the timer for the job's next run.
func (s *Scheduler) arm(j *Job) {
	next, err := j.NextRun(s.now(), s.opts.Location)
	if err != nil {
		s.logger.Error("job not armed", "job_id", j.ID, "error", err)
		return
	}
	delay := next.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[j.ID]; ok {
		t.Stop()
	}
	id := j.ID
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id, next) })
	s.logger.Debug("job armed", "job_id", id, "chat_id", j.ChatID, "next", next, "delay", delay.Round(time.Second))
}

func (s *Scheduler) disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// fire runs a job whose timer expired and arms the following run.
func (s *Scheduler) fire(id string, scheduledAt time.Time) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx := context.Background()
	j, err := s.store.JobByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Error("load job for run", "job_id", id, "error", err)
		return
	}
	if !j.Enabled {
		return
	}

	if _, err := s.execute(ctx, j, scheduledAt); err != nil {
		s.logger.Error("scheduled job failed", "job_id", id, "chat_id", j.ChatID, "error", err)
	}
	s.arm(j)
}

// catchUp runs a job whose latest occurrence passed without an
// execution, if it is still within the catch-up window.
func (s *Scheduler) catchUp(ctx context.Context, j *Job) {
	prev, err := j.PrevRun(s.now(), s.opts.Location)
	if err != nil || s.now().Sub(prev) > s.opts.CatchUpWindow {
		return
	}
	if prev.Before(j.UpdatedAt) {
		// Rescheduled after that time; it was never due.
		return
	}
	done, err := s.store.HasExecution(ctx, j.ID, prev)
	if err != nil || done {
		return
	}
	s.logger.Info("catching up missed run", "job_id", j.ID, "chat_id", j.ChatID, "scheduled", prev)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.execute(context.Background(), j, prev); err != nil {
			s.logger.Error("catch-up run failed", "job_id", j.ID, "error", err)
		}
	}()
}

// execute runs the job once and records the execution.
func (s *Scheduler) execute(ctx context.Context, j *Job, scheduledAt time.Time) (exec *Execution, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RunTimeout)
	defer cancel()

	started := s.now()
	exec = &Execution{
		JobID:       j.ID,
		ScheduledAt: scheduledAt,
		StartedAt:   &started,
		Status:      StatusRunning,
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	s.bus.Emit(events.SourceScheduler, events.KindJobFired, map[string]any{
		"job_id":  j.ID,
		"chat_id": j.ChatID,
	})

	var did bool
	func() {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic in scheduled job", "job_id", j.ID, "panic", p, "stack", string(debug.Stack()))
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		did, err = s.run(ctx, j)
	}()

	completed := s.now()
	exec.CompletedAt = &completed
	switch {
	case err != nil:
		exec.Status = StatusFailed
		exec.Result = err.Error()
	case did:
		exec.Status = StatusCompleted
		exec.Result = "sent"
	default:
		exec.Status = StatusSkipped
		exec.Result = "nothing due"
	}
	// Record even if the run's context expired.
	if uerr := s.store.UpdateExecution(context.WithoutCancel(ctx), exec); uerr != nil {
		s.logger.Error("record execution", "execution_id", exec.ID, "error", uerr)
	}

	s.logger.Info("job ran",
		"job_id", j.ID,
		"chat_id", j.ChatID,
		"status", exec.Status,
		"elapsed", completed.Sub(started).Round(time.Millisecond),
	)
	return exec, err
}
