package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nugget/hearth/internal/dav"
	"github.com/nugget/hearth/internal/email"
	"github.com/nugget/hearth/internal/fetch"
	"github.com/nugget/hearth/internal/health"
	"github.com/nugget/hearth/internal/meals"
	"github.com/nugget/hearth/internal/notes"
	"github.com/nugget/hearth/internal/prefs"
	"github.com/nugget/hearth/internal/search"
	"github.com/nugget/hearth/internal/sleep"
)

// Defaults for Deps fields left zero.
const (
	DefaultMaxResultBytes = 16 << 10
	DefaultTriggerTimeout = 5 * time.Minute

	previewBytes = 512
)

// Mailer sends mail and lists the inbox.
type Mailer interface {
	Send(ctx context.Context, opts email.SendOptions) (*email.SendResult, error)
	Inbox(ctx context.Context, opts email.ListOptions) ([]email.Envelope, error)
}

// Calendar lists upcoming events.
type Calendar interface {
	Upcoming(ctx context.Context, from time.Time, days int, loc *time.Location) ([]dav.Event, error)
}

// Fetcher retrieves readable page text.
type Fetcher interface {
	Fetch(ctx context.Context, url string, maxChars int) (*fetch.Result, error)
}

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// DigestTrigger composes and sends digests.
type DigestTrigger interface {
	// Send composes and delivers a digest now.
	Send(ctx context.Context, chatID string) error
	// TriggerAfterSleep sends the morning digest if one is due.
	TriggerAfterSleep(ctx context.Context, chatID string) error
}

// Rescheduler re-arms a chat's daily digest after its settings change.
type Rescheduler interface {
	Reschedule(ctx context.Context, chatID string, p prefs.Preferences) error
}

// Deps are the adapters tools act on. Nil adapters make their tools
// report "not configured".
type Deps struct {
	Meals    *meals.Store
	Sleep    *sleep.Store
	Health   *health.Store
	Prefs    *prefs.Store
	Notes    *notes.Vault
	Mail     Mailer
	Calendar Calendar
	Fetcher  Fetcher
	Search   Searcher
	Digest   DigestTrigger
	Schedule Rescheduler

	// Location is used when the chat has no time zone preference.
	Location *time.Location

	// MaxResultBytes bounds a serialized result.
	MaxResultBytes int

	// TriggerTimeout bounds background digest sends after log_sleep.
	TriggerTimeout time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// handler is one tool implementation: a typed decoder paired with the
// function that acts on the decoded input.
type handler interface {
	call(ctx context.Context, e *Executor, args Args) (any, error)
}

type tool[T any] struct {
	decode func(a Args, now time.Time) (T, error)
	run    func(ctx context.Context, e *Executor, in T) (any, error)
}

func (t tool[T]) call(ctx context.Context, e *Executor, args Args) (any, error) {
	now, err := e.now(ctx)
	if err != nil {
		return nil, err
	}
	in, err := t.decode(args, now)
	if err != nil {
		return nil, err
	}
	return t.run(ctx, e, in)
}

// none decodes tools without parameters.
func none(Args, time.Time) (struct{}, error) { return struct{}{}, nil }

var (
	handlersOnce sync.Once
	handlers     map[string]handler
)

func handlerSet() map[string]handler {
	handlersOnce.Do(func() {
		handlers = make(map[string]handler)
		for _, group := range []map[string]handler{
			healthHandlers(),
			prefsHandlers(),
			notesHandlers(),
			emailHandlers(),
			serviceHandlers(),
		} {
			for name, h := range group {
				if _, dup := handlers[name]; dup {
					panic(fmt.Sprintf("tools: duplicate handler %q", name))
				}
				handlers[name] = h
			}
		}
		if err := CheckConsistency(catalog, handlerNames()); err != nil {
			panic(err)
		}
	})
	return handlers
}

func handlerNames() []string {
	names := make([]string, 0, len(handlers))
	for n := range handlers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Executor runs tool calls for a single chat. The chat id is fixed at
// construction; no tool argument can redirect a call to another chat.
type Executor struct {
	chatID string
	deps   Deps
	logger *slog.Logger

	locOnce sync.Once
	loc     *time.Location
	locErr  error
}

// NewExecutor creates an executor bound to chatID. It panics if the
// catalog and the handler set disagree.
func NewExecutor(chatID string, deps Deps, logger *slog.Logger) *Executor {
	handlerSet()
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.MaxResultBytes <= 0 {
		deps.MaxResultBytes = DefaultMaxResultBytes
	}
	if deps.TriggerTimeout <= 0 {
		deps.TriggerTimeout = DefaultTriggerTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Executor{
		chatID: chatID,
		deps:   deps,
		logger: logger.With("chat_id", chatID),
	}
}

// ChatID returns the chat this executor acts for.
func (e *Executor) ChatID() string { return e.chatID }

// Names returns the sorted names of every tool the executor handles.
func (e *Executor) Names() []string {
	handlerSet()
	return handlerNames()
}

// Execute runs the named tool and returns its JSON result. It never
// fails: unknown tools, bad arguments, adapter errors and panics all
// come back as {"error": "..."}.
func (e *Executor) Execute(ctx context.Context, name string, input map[string]any) (result string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked", "tool", name, "panic", r)
			result = errorPayload(fmt.Sprintf("%s failed unexpectedly", name))
		}
	}()

	h, ok := handlerSet()[name]
	if !ok {
		e.logger.Warn("unknown tool requested", "tool", name)
		return errorPayload((&ErrToolUnavailable{ToolName: name}).Error())
	}

	start := time.Now()
	out, err := h.call(ctx, e, Args(input))
	if err != nil {
		e.logger.Warn("tool failed", "tool", name, "error", err)
		return errorPayload(errMessage(err))
	}

	data, err := json.Marshal(out)
	if err != nil {
		e.logger.Warn("tool result not encodable", "tool", name, "error", err)
		return errorPayload("encode result: " + err.Error())
	}
	if len(data) > e.deps.MaxResultBytes {
		e.logger.Warn("tool result too large", "tool", name, "bytes", len(data), "limit", e.deps.MaxResultBytes)
		return oversized(data)
	}

	e.logger.Debug("tool executed", "tool", name, "elapsed", time.Since(start), "bytes", len(data))
	return string(data)
}

// oversized replaces a result over the size bound with a descriptor
// holding a short prefix.
func oversized(data []byte) string {
	preview := data
	if len(preview) > previewBytes {
		preview = preview[:previewBytes]
		for len(preview) > 0 && !utf8.Valid(preview) {
			preview = preview[:len(preview)-1]
		}
	}
	out, _ := json.Marshal(map[string]any{
		"error":   "result too large",
		"bytes":   len(data),
		"preview": string(preview),
	})
	return string(out)
}

// location returns the chat's time zone from its preferences.
func (e *Executor) location(ctx context.Context) (*time.Location, error) {
	e.locOnce.Do(func() {
		e.loc = e.deps.Location
		if e.deps.Prefs == nil {
			return
		}
		p, err := e.deps.Prefs.Get(ctx, e.chatID)
		if err != nil {
			e.locErr = fmt.Errorf("load preferences: %w", err)
			return
		}
		e.loc = p.Location(e.deps.Location)
	})
	return e.loc, e.locErr
}

// now returns the current time in the chat's time zone.
func (e *Executor) now(ctx context.Context) (time.Time, error) {
	loc, err := e.location(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return e.deps.Now().In(loc), nil
}

// resetLocation forgets the cached zone after preferences change.
func (e *Executor) resetLocation() {
	e.locOnce = sync.Once{}
	e.loc, e.locErr = nil, nil
}

// detach runs fn in the background with its own deadline. Failures and
// panics are logged and dropped.
func (e *Executor) detach(ctx context.Context, what string, fn func(context.Context) error) {
	bg := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("background task panicked", "task", what, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(bg, e.deps.TriggerTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			e.logger.Warn("background task failed", "task", what, "error", err)
		}
	}()
}

// CheckConsistency verifies that defs and the handler names are the
// same set.
func CheckConsistency(defs []Definition, handled []string) error {
	have := make(map[string]bool, len(handled))
	for _, n := range handled {
		have[n] = true
	}
	seen := make(map[string]bool, len(defs))
	var missing, extra []string
	for _, d := range defs {
		if seen[d.Name] {
			return fmt.Errorf("tools: duplicate definition %q", d.Name)
		}
		seen[d.Name] = true
		if !have[d.Name] {
			missing = append(missing, d.Name)
		}
	}
	for _, n := range handled {
		if !seen[n] {
			extra = append(extra, n)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		return fmt.Errorf("tools: catalog and handlers disagree: no handler for %v, no definition for %v", missing, extra)
	}
	return nil
}
