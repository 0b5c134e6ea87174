// Package connwatch tracks whether the services Hearth depends on are
// reachable: the model provider and the signal-cli daemon. Each watched
// service is probed with exponential backoff while down and at a steady
// interval while up. Transitions are logged and published on the event
// bus, and the current state backs the API health endpoint.
//
// This is distinct from httpkit's transport-level retry, which covers
// sub-second dial errors within one request.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nugget/hearth/internal/events"
)

// Probe checks whether a service is reachable. Return nil if healthy.
type Probe func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	Initial time.Duration // first retry delay while down (default 2s)
	Max     time.Duration // retry delay ceiling (default 60s)
	Poll    time.Duration // interval while up (default 60s)
	Timeout time.Duration // per probe (default 10s)
}

// DefaultBackoff returns 2s, 4s, 8s ... 60s retries and 60s polling.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 2 * time.Second,
		Max:     60 * time.Second,
		Poll:    60 * time.Second,
		Timeout: 10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Poll <= 0 {
		b.Poll = d.Poll
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	return b
}

// ServiceStatus is one service's health, as served by GET /health.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes one service.
type Watcher struct {
	name    string
	probe   Probe
	backoff Backoff
	bus     *events.Bus
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.Mutex
	ready     bool
	lastErr   error
	lastCheck time.Time
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Status returns the current health status.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := ServiceStatus{Name: w.name, Ready: w.ready, LastCheck: w.lastCheck}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	delay := w.backoff.Initial
	failures := 0
	for {
		err := w.check(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := w.backoff.Poll
		if err != nil {
			failures++
			w.transition(err, failures)
			wait = delay
			delay = min(delay*2, w.backoff.Max)
		} else {
			w.transition(nil, failures+1)
			failures = 0
			delay = w.backoff.Initial
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (w *Watcher) check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.backoff.Timeout)
	defer cancel()
	return w.probe(ctx)
}

// transition records a probe result. attempts counts consecutive
// probes up to and including this one. A service is only reported down
// once it has been up.
func (w *Watcher) transition(err error, attempts int) {
	w.mu.Lock()
	wasReady := w.ready
	w.ready = err == nil
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	switch {
	case err == nil && !wasReady:
		w.logger.Info("service connected", "service", w.name, "after_attempts", attempts)
		w.bus.Emit(events.SourceConnwatch, events.KindServiceUp, map[string]any{
			"service":  w.name,
			"attempts": attempts,
		})
	case err != nil && wasReady:
		w.logger.Warn("service became unreachable", "service", w.name, "error", err)
		w.bus.Emit(events.SourceConnwatch, events.KindServiceDown, map[string]any{
			"service": w.name,
			"error":   err.Error(),
		})
	case err != nil:
		w.logger.Debug("service still unreachable", "service", w.name, "failures", attempts, "error", err)
	}
}

// Manager owns the watchers for a process.
type Manager struct {
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	watchers map[string]*Watcher
}

// NewManager creates a manager. bus may be nil.
func NewManager(bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		bus:      bus,
		logger:   logger.With("component", "connwatch"),
		watchers: make(map[string]*Watcher),
	}
}

// Watch starts probing a service until ctx is cancelled or Stop is
// called. Watching a name twice replaces the earlier watcher. It panics
// on an empty name or nil probe.
func (m *Manager) Watch(ctx context.Context, name string, probe Probe, backoff Backoff) *Watcher {
	if name == "" {
		panic("connwatch: empty service name")
	}
	if probe == nil {
		panic("connwatch: nil probe")
	}
	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		name:    name,
		probe:   probe,
		backoff: backoff.withDefaults(),
		bus:     m.bus,
		logger:  m.logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	old := m.watchers[name]
	m.watchers[name] = w
	m.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	go w.run(watchCtx)
	return w
}

// Unwatch stops probing name and drops it from Status.
func (m *Manager) Unwatch(name string) {
	m.mu.Lock()
	w := m.watchers[name]
	delete(m.watchers, name)
	m.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

// Status returns every watched service, sorted by name.
func (m *Manager) Status() []ServiceStatus {
	m.mu.RLock()
	out := make([]ServiceStatus, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every watched service is ready.
func (m *Manager) Healthy() bool {
	for _, s := range m.Status() {
		if !s.Ready {
			return false
		}
	}
	return true
}

// Stop shuts down all watchers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	clear(m.watchers)
	m.mu.Unlock()

	for _, w := range watchers {
		w.Stop()
	}
}
