// Package digest assembles and delivers the daily morning digest.
//
// A digest is built from independent sections (weather, calendar,
// health, headlines) that run concurrently. A section that fails, times
// out or comes back empty is replaced by a fixed placeholder, so one
// broken source never holds back the rest.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/hearth/internal/agent"
	"github.com/nugget/hearth/internal/events"
	"github.com/nugget/hearth/internal/headlines"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/prefs"
	"github.com/nugget/hearth/internal/prompts"
	"github.com/nugget/hearth/internal/tools"
	"github.com/nugget/hearth/internal/transport"
	"github.com/nugget/hearth/internal/weather"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxIterations  = 3
	DefaultSectionTimeout = 60 * time.Second
	DefaultPicks          = 5
)

// WeatherSource fetches a forecast.
type WeatherSource interface {
	GetWeather(ctx context.Context, lat, lon float64, tz string) (*weather.Forecast, error)
}

// HeadlineSource fetches recent feed entries.
type HeadlineSource interface {
	FetchAll(ctx context.Context) ([]headlines.Headline, error)
}

// PrefsStore is the part of prefs.Store the composer needs.
type PrefsStore interface {
	Get(ctx context.Context, chatID string) (prefs.Preferences, error)
	MarkDigestSent(ctx context.Context, chatID, date string) error
}

// Config tunes digest assembly.
type Config struct {
	Model          string
	MaxIterations  int // health loop ceiling
	MaxTokens      int
	SectionTimeout time.Duration
	Picks          int            // headlines to curate
	Location       *time.Location // fallback when a chat has no time zone
}

// Deps are the collaborators a Composer draws on. Weather, Headlines and
// Calendar may be nil; a nil Calendar drops the calendar section.
type Deps struct {
	LLM       llm.Client
	Loop      *agent.Loop
	Executors agent.ExecutorFactory
	Prefs     PrefsStore
	Weather   WeatherSource
	Headlines HeadlineSource
	Calendar  tools.Calendar
	Sender    transport.Sender
	Usage     agent.UsageRecorder
	Bus       *events.Bus
}

// Composer builds and sends digests.
type Composer struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]bool
	sentOn   map[string]string // chat ID -> local date last delivered
}

// New creates a composer.
func New(cfg Config, deps Deps, logger *slog.Logger) *Composer {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.SectionTimeout <= 0 {
		cfg.SectionTimeout = DefaultSectionTimeout
	}
	if cfg.Picks <= 0 {
		cfg.Picks = DefaultPicks
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		now:      time.Now,
		inflight: make(map[string]bool),
		sentOn:   make(map[string]string),
	}
}

// section is one part of the digest.
type section struct {
	name        string
	header      string
	placeholder string
	build       func(ctx context.Context, r *request) (string, error)
}

// request carries what every section of one digest needs.
type request struct {
	chatID string
	runID  string
	prefs  prefs.Preferences
	now    time.Time // in the chat's zone
	log    *slog.Logger
}

func (c *Composer) sections() []section {
	out := []section{{
		name:        "weather",
		header:      prompts.DigestWeatherHeader,
		placeholder: prompts.PlaceholderWeather,
		build:       c.weatherSection,
	}}
	if c.deps.Calendar != nil {
		out = append(out, section{
			name:        "calendar",
			header:      prompts.DigestCalendarHeader,
			placeholder: prompts.PlaceholderCalendar,
			build:       c.calendarSection,
		})
	}
	return append(out,
		section{
			name:        "health",
			header:      prompts.DigestHealthHeader,
			placeholder: prompts.PlaceholderHealth,
			build:       c.healthSection,
		},
		section{
			name:        "headlines",
			header:      prompts.DigestHeadlinesHeader,
			placeholder: prompts.PlaceholderHeadlines,
			build:       c.headlinesSection,
		},
	)
}

// Build composes the digest text for chatID without sending it.
func (c *Composer) Build(ctx context.Context, chatID string) (string, error) {
	text, _, err := c.build(ctx, chatID)
	return text, err
}

func (c *Composer) build(ctx context.Context, chatID string) (string, *request, error) {
	p, err := c.deps.Prefs.Get(ctx, chatID)
	if err != nil {
		return "", nil, fmt.Errorf("load preferences: %w", err)
	}
	runID := uuid.NewString()
	r := &request{
		chatID: chatID,
		runID:  runID,
		prefs:  p,
		now:    c.now().In(p.Location(c.cfg.Location)),
		log:    c.logger.With("chat_id", chatID, "run_id", runID),
	}
	ctx = agent.WithRequestID(ctx, runID)

	start := time.Now()
	secs := c.sections()
	bodies := make([]string, len(secs))
	failed := make([]string, 0, len(secs))
	var failMu sync.Mutex

	var wg sync.WaitGroup
	for i, s := range secs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, ok := c.runSection(ctx, s, r)
			bodies[i] = body
			if !ok {
				failMu.Lock()
				failed = append(failed, s.name)
				failMu.Unlock()
			}
		}()
	}
	wg.Wait()

	var b strings.Builder
	b.WriteString(prompts.DigestTitle(r.now))
	for i, s := range secs {
		b.WriteString("\n\n")
		b.WriteString(s.header)
		b.WriteByte('\n')
		b.WriteString(bodies[i])
	}

	r.log.Info("digest built",
		"sections", len(secs),
		"failed", failed,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	c.deps.Bus.Emit(events.SourceDigest, events.KindDigestBuilt, map[string]any{
		"chat_id":         chatID,
		"sections_failed": len(failed),
		"elapsed_ms":      time.Since(start).Milliseconds(),
	})
	return b.String(), r, nil
}

// runSection builds one section under the section timeout. It reports
// false when the placeholder was used.
func (c *Composer) runSection(ctx context.Context, s section, r *request) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SectionTimeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("panic in digest section", "section", s.name, "panic", p, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		text, err := s.build(ctx, r)
		done <- outcome{text: text, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = ctx.Err()
	}

	text := strings.TrimSpace(out.text)
	if out.err == nil && text == "" {
		out.err = fmt.Errorf("empty output")
	}
	if out.err != nil {
		r.log.Warn("digest section failed", "section", s.name, "error", out.err)
		return s.placeholder, false
	}
	return text, true
}

// Send builds the digest, delivers it as one message and records the
// day it went out. Once delivery succeeds Send reports success even if
// recording the day fails.
func (c *Composer) Send(ctx context.Context, chatID string) error {
	err := c.send(ctx, chatID)
	if err != nil {
		c.deps.Bus.Emit(events.SourceDigest, events.KindDigestFailed, map[string]any{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
	return err
}

func (c *Composer) send(ctx context.Context, chatID string) error {
	text, r, err := c.build(ctx, chatID)
	if err != nil {
		return err
	}
	if err := c.deps.Sender.SendMessage(ctx, chatID, text); err != nil {
		return fmt.Errorf("deliver digest: %w", err)
	}
	date := r.now.Format(time.DateOnly)
	c.mu.Lock()
	c.sentOn[chatID] = date
	c.mu.Unlock()
	// Already delivered: reporting failure here would invite a duplicate.
	if err := c.deps.Prefs.MarkDigestSent(ctx, chatID, date); err != nil {
		r.log.Warn("failed to record digest sent", "error", err)
	}
	r.log.Info("digest sent", "date", date)
	c.deps.Bus.Emit(events.SourceDigest, events.KindDigestSent, map[string]any{"chat_id": chatID})
	return nil
}

// SendIfDue sends the digest when the chat has digests enabled, none
// has gone out yet today in the chat's zone, and no other send is in
// progress for the chat. It reports whether a digest was sent.
func (c *Composer) SendIfDue(ctx context.Context, chatID, reason string) (bool, error) {
	log := c.logger.With("chat_id", chatID, "reason", reason)
	if !c.claim(chatID) {
		log.Debug("digest skipped", "why", "send in progress")
		return false, nil
	}
	defer c.release(chatID)

	p, err := c.deps.Prefs.Get(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("load preferences: %w", err)
	}
	if !p.DigestEnabled {
		log.Debug("digest skipped", "why", "disabled")
		return false, nil
	}
	today := c.now().In(p.Location(c.cfg.Location)).Format(time.DateOnly)
	if p.LastDigestDate == today || c.deliveredOn(chatID) == today {
		log.Debug("digest skipped", "why", "already sent today")
		return false, nil
	}

	if err := c.Send(ctx, chatID); err != nil {
		return false, err
	}
	return true, nil
}

// TriggerAfterSleep sends the morning digest once a sleep log shows the
// user is up, unless it already went out today.
func (c *Composer) TriggerAfterSleep(ctx context.Context, chatID string) error {
	_, err := c.SendIfDue(ctx, chatID, "sleep_logged")
	return err
}

func (c *Composer) claim(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[chatID] {
		return false
	}
	c.inflight[chatID] = true
	return true
}

func (c *Composer) deliveredOn(chatID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sentOn[chatID]
}

func (c *Composer) release(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, chatID)
}
