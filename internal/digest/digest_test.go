package digest

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	_ "modernc.org/sqlite"

	"github.com/nugget/hearth/internal/agent"
	"github.com/nugget/hearth/internal/dav"
	"github.com/nugget/hearth/internal/headlines"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/opstate"
	"github.com/nugget/hearth/internal/prefs"
	"github.com/nugget/hearth/internal/prompts"
	"github.com/nugget/hearth/internal/weather"
)

const chat = "signal:+15550001111"

var testNow = time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedLLM answers by recognizing which section is asking.
type scriptedLLM struct {
	mu          sync.Mutex
	headlines   string
	healthCalls []llm.ToolCall
	weatherErr  error
	requests    []*llm.Request
}

func (s *scriptedLLM) Chat(_ context.Context, req *llm.Request) (*llm.ChatResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	text := func(t string) *llm.ChatResponse {
		return &llm.ChatResponse{Model: "digest-model", Message: llm.Message{Role: llm.RoleAssistant, Content: t}, StopReason: llm.StopDone}
	}
	first := req.Messages[0].Content
	switch {
	case strings.Contains(req.System, "health section"):
		if len(req.Messages) == 1 && len(s.healthCalls) > 0 {
			return &llm.ChatResponse{
				Model:      "digest-model",
				Message:    llm.Message{Role: llm.RoleAssistant, ToolCalls: s.healthCalls},
				StopReason: llm.StopNeedsTools,
			}, nil
		}
		return text("Averaging 7.5 hours of sleep. Add protein at breakfast."), nil
	case strings.Contains(first, "Summarize today's weather"):
		if s.weatherErr != nil {
			return nil, s.weatherErr
		}
		return text("Sunny, 8 to 17°C. No umbrella needed."), nil
	case strings.Contains(first, "Pick the"):
		return text(s.headlines), nil
	}
	return nil, errors.New("unexpected request")
}

func (s *scriptedLLM) Ping(context.Context) error { return nil }

type fakeWeather struct {
	err   error
	calls int
}

func (f *fakeWeather) GetWeather(_ context.Context, lat, lon float64, tz string) (*weather.Forecast, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &weather.Forecast{
		Timezone: tz,
		Today:    weather.Outlook{High: 17, Low: 8, Condition: "Clear sky"},
		Units:    weather.Units{Temperature: "°C", WindSpeed: "km/h"},
	}, nil
}

type fakeHeadlines struct {
	items []headlines.Headline
	err   error
	block chan struct{}
}

func (f *fakeHeadlines) FetchAll(context.Context) ([]headlines.Headline, error) {
	if f.block != nil {
		<-f.block
	}
	return f.items, f.err
}

type fakeCalendar struct {
	events []dav.Event
	err    error
}

func (f *fakeCalendar) Upcoming(context.Context, time.Time, int, *time.Location) ([]dav.Event, error) {
	return f.events, f.err
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) SendMessage(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, chatID+"\n"+text)
	return nil
}

type fakeExec struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeExec) Execute(_ context.Context, name string, _ map[string]any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	return `{"found":true,"sessions":[]}`
}

type harness struct {
	composer *Composer
	llm      *scriptedLLM
	weather  *fakeWeather
	news     *fakeHeadlines
	sender   *fakeSender
	exec     *fakeExec
	prefs    *prefs.Store
}

func newHarness(t *testing.T, withCalendar bool) *harness {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	state, err := opstate.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		llm: &scriptedLLM{
			headlines: `[{"category":"Space Oddity","title":"Lander finds ice","link":"https://ex.com/ice","source":"Science"}]`,
			healthCalls: []llm.ToolCall{
				{ID: "1", Function: llm.ToolFunction{Name: "get_meals_range", Arguments: map[string]any{}}},
				{ID: "2", Function: llm.ToolFunction{Name: "get_sleep_range", Arguments: map[string]any{}}},
			},
		},
		weather: &fakeWeather{},
		news: &fakeHeadlines{items: []headlines.Headline{
			{Source: "Science", Title: "Lander finds ice", Link: "https://ex.com/ice"},
			{Source: "Money", Title: "Rates hold", Link: "https://ex.com/rates"},
		}},
		sender: &fakeSender{},
		exec:   &fakeExec{},
		prefs:  prefs.NewStore(state, prefs.Defaults{DigestTime: "07:00", Timezone: "UTC"}),
	}

	deps := Deps{
		LLM:       h.llm,
		Loop:      agent.NewLoop(h.llm, quietLogger()),
		Executors: func(string, *slog.Logger) agent.ToolExecutor { return h.exec },
		Prefs:     h.prefs,
		Weather:   h.weather,
		Headlines: h.news,
		Sender:    h.sender,
	}
	if withCalendar {
		deps.Calendar = &fakeCalendar{events: []dav.Event{{
			Summary: "Dentist",
			Start:   time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
			End:     time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC),
		}}}
	}
	h.composer = New(Config{Model: "digest-model", SectionTimeout: 2 * time.Second, Location: time.UTC}, deps, quietLogger())
	h.composer.now = func() time.Time { return testNow }
	return h
}

func (h *harness) setLocation(t *testing.T) {
	t.Helper()
	lat, lon := 30.27, -97.74
	if _, err := h.prefs.Update(context.Background(), chat, func(p *prefs.Preferences) {
		p.Latitude, p.Longitude = &lat, &lon
		p.LocationName = "Austin"
	}); err != nil {
		t.Fatal(err)
	}
}

func assertOrder(t *testing.T, text string, parts ...string) {
	t.Helper()
	last := -1
	for _, p := range parts {
		i := strings.Index(text, p)
		if i < 0 {
			t.Errorf("digest lacks %q:\n%s", p, text)
			return
		}
		if i <= last {
			t.Errorf("%q out of order:\n%s", p, text)
		}
		last = i
	}
}

func TestBuild_AllSections(t *testing.T) {
	h := newHarness(t, true)
	h.setLocation(t)

	text, err := h.composer.Build(context.Background(), chat)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.HasPrefix(text, prompts.DigestTitle(testNow)) {
		t.Errorf("digest does not start with title:\n%s", text)
	}
	assertOrder(t, text,
		prompts.DigestWeatherHeader, "Sunny, 8 to 17°C",
		prompts.DigestCalendarHeader, "15:00–16:00 Dentist",
		prompts.DigestHealthHeader, "Averaging 7.5 hours",
		prompts.DigestHeadlinesHeader, "• Space Oddity: Lander finds ice (Science)",
	)
	if h.weather.calls != 1 {
		t.Errorf("weather calls = %d", h.weather.calls)
	}
	if got := strings.Join(h.exec.names, ","); got != "get_meals_range,get_sleep_range" {
		t.Errorf("health loop ran %q", got)
	}
}

func TestBuild_WithoutCalendar(t *testing.T) {
	h := newHarness(t, false)
	h.setLocation(t)

	text, err := h.composer.Build(context.Background(), chat)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(text, prompts.DigestCalendarHeader) {
		t.Errorf("calendar section present without a calendar:\n%s", text)
	}
	assertOrder(t, text, prompts.DigestWeatherHeader, prompts.DigestHealthHeader, prompts.DigestHeadlinesHeader)
}

func TestBuild_NoLocation(t *testing.T) {
	h := newHarness(t, false)

	text, err := h.composer.Build(context.Background(), chat)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(text, prompts.PlaceholderNoLocation) {
		t.Errorf("missing no-location placeholder:\n%s", text)
	}
	if h.weather.calls != 0 {
		t.Errorf("weather fetched without a location")
	}
}

func TestBuild_FailedSectionsGetPlaceholders(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(h *harness)
		placeholder string
		intact      string
	}{
		{
			name:        "forecast error",
			setup:       func(h *harness) { h.weather.err = errors.New("503") },
			placeholder: prompts.PlaceholderWeather,
			intact:      "Averaging 7.5 hours",
		},
		{
			name:        "summary error",
			setup:       func(h *harness) { h.llm.weatherErr = errors.New("overloaded") },
			placeholder: prompts.PlaceholderWeather,
			intact:      "Lander finds ice",
		},
		{
			name:        "no headlines",
			setup:       func(h *harness) { h.news.items = nil },
			placeholder: prompts.PlaceholderHeadlines,
			intact:      "Sunny",
		},
		{
			name:        "feeds down",
			setup:       func(h *harness) { h.news.err = errors.New("all feeds failed") },
			placeholder: prompts.PlaceholderHeadlines,
			intact:      "Averaging 7.5 hours",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, false)
			h.setLocation(t)
			tt.setup(h)

			text, err := h.composer.Build(context.Background(), chat)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if !strings.Contains(text, tt.placeholder) {
				t.Errorf("missing placeholder %q:\n%s", tt.placeholder, text)
			}
			if !strings.Contains(text, tt.intact) {
				t.Errorf("other section lost %q:\n%s", tt.intact, text)
			}
		})
	}
}

func TestBuild_CalendarFailure(t *testing.T) {
	h := newHarness(t, false)
	h.composer.deps.Calendar = &fakeCalendar{err: errors.New("401")}

	text, err := h.composer.Build(context.Background(), chat)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(text, prompts.PlaceholderCalendar) {
		t.Errorf("missing calendar placeholder:\n%s", text)
	}
}

func TestBuild_SectionTimeout(t *testing.T) {
	h := newHarness(t, false)
	h.setLocation(t)
	h.news.block = make(chan struct{})
	t.Cleanup(func() { close(h.news.block) })
	h.composer.cfg.SectionTimeout = 50 * time.Millisecond

	text, err := h.composer.Build(context.Background(), chat)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(text, prompts.PlaceholderHeadlines) {
		t.Errorf("stuck section not replaced:\n%s", text)
	}
}

func TestBuild_UnparseableHeadlinesUseRawText(t *testing.T) {
	h := newHarness(t, false)
	h.setLocation(t)
	h.llm.headlines = "Today's picks: ice on a moon, and rates holding steady."

	text, err := h.composer.Build(context.Background(), chat)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(text, "Today's picks: ice on a moon") {
		t.Errorf("raw headline text missing:\n%s", text)
	}
}

func TestBuild_HealthLoopIsRestricted(t *testing.T) {
	h := newHarness(t, false)
	h.llm.healthCalls = []llm.ToolCall{
		{ID: "1", Function: llm.ToolFunction{Name: "log_meal", Arguments: map[string]any{"description": "x"}}},
	}

	if _, err := h.composer.Build(context.Background(), chat); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(h.exec.names) != 0 {
		t.Errorf("restricted tool reached the executor: %v", h.exec.names)
	}

	var sawRefusal bool
	h.llm.mu.Lock()
	defer h.llm.mu.Unlock()
	for _, req := range h.llm.requests {
		for _, m := range req.Messages {
			for _, r := range m.ToolResults {
				if r.IsError && strings.Contains(r.Content, "not available") {
					sawRefusal = true
				}
			}
		}
		if strings.Contains(req.System, "health section") && len(req.Tools) != 2 {
			t.Errorf("health loop offered %d tools, want 2", len(req.Tools))
		}
	}
	if !sawRefusal {
		t.Error("model never received a refusal for log_meal")
	}
}

func TestSend(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	if err := h.composer.Send(ctx, chat); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(h.sender.sent) != 1 || !strings.HasPrefix(h.sender.sent[0], chat+"\n") {
		t.Fatalf("sent = %v", h.sender.sent)
	}
	p, _ := h.prefs.Get(ctx, chat)
	if p.LastDigestDate != "2026-03-14" {
		t.Errorf("LastDigestDate = %q", p.LastDigestDate)
	}
}

func TestSend_DeliveryFailureNotRecorded(t *testing.T) {
	h := newHarness(t, false)
	h.sender.err = errors.New("signal-cli down")
	ctx := context.Background()

	if err := h.composer.Send(ctx, chat); err == nil {
		t.Fatal("expected delivery error")
	}
	p, _ := h.prefs.Get(ctx, chat)
	if p.LastDigestDate != "" {
		t.Errorf("LastDigestDate = %q after failed delivery", p.LastDigestDate)
	}
}

type markFailsPrefs struct {
	PrefsStore
}

func (markFailsPrefs) MarkDigestSent(context.Context, string, string) error {
	return errors.New("database is locked")
}

func TestSend_RecordFailureAfterDelivery(t *testing.T) {
	h := newHarness(t, false)
	h.composer.deps.Prefs = markFailsPrefs{h.prefs}

	if err := h.composer.Send(context.Background(), chat); err != nil {
		t.Fatalf("Send = %v, want nil once delivered", err)
	}
	if len(h.sender.sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(h.sender.sent))
	}

	// The unrecorded delivery still counts for today.
	sent, err := h.composer.SendIfDue(context.Background(), chat, "sleep_logged")
	if err != nil || sent {
		t.Errorf("SendIfDue = %v, %v; want no second digest", sent, err)
	}
	if len(h.sender.sent) != 1 {
		t.Errorf("sent %d messages after SendIfDue, want 1", len(h.sender.sent))
	}
}

func TestTriggerAfterSleep(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	if err := h.composer.TriggerAfterSleep(ctx, chat); err != nil {
		t.Fatal(err)
	}
	if err := h.composer.TriggerAfterSleep(ctx, chat); err != nil {
		t.Fatal(err)
	}
	if len(h.sender.sent) != 1 {
		t.Errorf("sent %d digests, want 1 per day", len(h.sender.sent))
	}

	// Next day it goes out again.
	h.composer.now = func() time.Time { return testNow.Add(24 * time.Hour) }
	sent, err := h.composer.SendIfDue(ctx, chat, "test")
	if err != nil || !sent {
		t.Errorf("SendIfDue next day = %v, %v", sent, err)
	}
}

func TestTriggerAfterSleep_Disabled(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	if _, err := h.prefs.Update(ctx, chat, func(p *prefs.Preferences) { p.DigestEnabled = false }); err != nil {
		t.Fatal(err)
	}

	if err := h.composer.TriggerAfterSleep(ctx, chat); err != nil {
		t.Fatal(err)
	}
	if len(h.sender.sent) != 0 {
		t.Errorf("disabled digest was sent")
	}
}

func TestSendIfDue_UsesChatTimezone(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	// 12:30 UTC on the 14th is already the 15th in Auckland.
	if _, err := h.prefs.Update(ctx, chat, func(p *prefs.Preferences) {
		p.Timezone = "Pacific/Auckland"
		p.LastDigestDate = "2026-03-14"
	}); err != nil {
		t.Fatal(err)
	}

	sent, err := h.composer.SendIfDue(ctx, chat, "test")
	if err != nil || !sent {
		t.Fatalf("SendIfDue = %v, %v", sent, err)
	}
	p, _ := h.prefs.Get(ctx, chat)
	if p.LastDigestDate != "2026-03-15" {
		t.Errorf("LastDigestDate = %q, want 2026-03-15", p.LastDigestDate)
	}
}
