package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/hearth/internal/agent"
	"github.com/nugget/hearth/internal/config"
	"github.com/nugget/hearth/internal/dav"
	"github.com/nugget/hearth/internal/digest"
	"github.com/nugget/hearth/internal/email"
	"github.com/nugget/hearth/internal/events"
	"github.com/nugget/hearth/internal/fetch"
	"github.com/nugget/hearth/internal/headlines"
	"github.com/nugget/hearth/internal/health"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/meals"
	"github.com/nugget/hearth/internal/notes"
	"github.com/nugget/hearth/internal/opstate"
	"github.com/nugget/hearth/internal/prefs"
	"github.com/nugget/hearth/internal/scheduler"
	"github.com/nugget/hearth/internal/search"
	"github.com/nugget/hearth/internal/sleep"
	"github.com/nugget/hearth/internal/tools"
	"github.com/nugget/hearth/internal/transport"
	"github.com/nugget/hearth/internal/usage"
	"github.com/nugget/hearth/internal/weather"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// app holds the components shared by serve, ask and digest.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	loc    *time.Location

	db       *sql.DB
	llm      llm.Client
	bus      *events.Bus
	router   *transport.Router
	prefs    *prefs.Store
	usage    *usage.Store
	handler  *agent.Handler
	composer *digest.Composer
	sched    *scheduler.Scheduler
	mailer   *email.Mailer
}

// openDatabase opens the SQLite database under dataDir. Every store
// shares the one file.
func openDatabase(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, "hearth.db")
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}

// createLLMClient builds a multi-provider client. Models not listed in
// models.available fall through to Ollama.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	ollamaClient := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	multi := llm.NewMultiClient(ollamaClient)
	multi.AddProvider("ollama", ollamaClient)

	if cfg.Anthropic.APIKey != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		logger.Info("Anthropic provider configured")
	}
	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}

	defaultProvider := cfg.Models.ProviderFor(cfg.Models.Default)
	if defaultProvider == "" {
		defaultProvider = "ollama"
	}
	logger.Info("LLM client initialized", "default_model", cfg.Models.Default, "default_provider", defaultProvider)
	return multi
}

// newSearchManager registers every configured backend.
func newSearchManager(cfg config.SearchConfig) *search.Manager {
	mgr := search.NewManager(cfg.Provider)
	if cfg.SearXNGURL != "" {
		mgr.Register(search.NewSearXNG(cfg.SearXNGURL))
	}
	if cfg.BraveAPIKey != "" {
		mgr.Register(search.NewBrave(cfg.BraveAPIKey))
	}
	return mgr
}

// newApp opens the database and wires the agent, digest and scheduler.
// Transports register themselves on app.router afterwards.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:    cfg,
		logger: logger,
		loc:    cfg.Location(),
		db:     db,
		bus:    events.New(),
		router: transport.NewRouter(),
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg, logger := a.cfg, a.logger

	state, err := opstate.NewStore(a.db)
	if err != nil {
		return fmt.Errorf("create operational state store: %w", err)
	}
	a.prefs = prefs.NewStore(state, prefs.Defaults{
		DigestTime: cfg.Digest.DefaultTime,
		Timezone:   cfg.Timezone,
	})

	mealStore, err := meals.NewStore(a.db)
	if err != nil {
		return fmt.Errorf("create meal store: %w", err)
	}
	sleepStore, err := sleep.NewStore(a.db)
	if err != nil {
		return fmt.Errorf("create sleep store: %w", err)
	}
	healthStore, err := health.NewStore(a.db)
	if err != nil {
		return fmt.Errorf("create health store: %w", err)
	}
	a.usage, err = usage.NewStore(a.db)
	if err != nil {
		return fmt.Errorf("create usage store: %w", err)
	}
	schedStore, err := scheduler.NewStore(a.db)
	if err != nil {
		return fmt.Errorf("create scheduler store: %w", err)
	}

	vault, err := notes.NewVault(cfg.Notes.Path, cfg.Notes.Categories)
	if err != nil {
		return fmt.Errorf("open notes vault: %w", err)
	}

	// Shared by every executor. Digest and Schedule are filled in once
	// the composer and scheduler exist.
	deps := &tools.Deps{
		Meals:  mealStore,
		Sleep:  sleepStore,
		Health: healthStore,
		Prefs:  a.prefs,
		Notes:  vault,
		Fetcher: fetch.New(fetch.Options{
			Timeout:         time.Duration(cfg.Fetch.TimeoutSec) * time.Second,
			DefaultMaxChars: cfg.Fetch.DefaultMaxChars,
			MaxCharsLimit:   cfg.Fetch.MaxCharsLimit,
		}),
		Location:       a.loc,
		MaxResultBytes: cfg.Agent.MaxResultBytes,
	}

	if cfg.Search.Configured() {
		deps.Search = newSearchManager(cfg.Search)
		logger.Info("web search configured", "primary", cfg.Search.Provider)
	}

	// --- Calendar and contacts ---
	var contacts email.ContactResolver
	var calendar tools.Calendar
	if cfg.DAV.Configured() {
		opts := dav.Options{
			URL:             cfg.DAV.URL,
			Username:        cfg.DAV.Username,
			Password:        cfg.DAV.Password,
			CalendarPath:    cfg.DAV.CalendarPath,
			AddressBookPath: cfg.DAV.AddressBookPath,
		}
		cal, err := dav.NewCalendar(opts)
		if err != nil {
			return fmt.Errorf("create calendar client: %w", err)
		}
		calendar = cal
		deps.Calendar = cal

		book, err := dav.NewContacts(opts)
		if err != nil {
			return fmt.Errorf("create contacts client: %w", err)
		}
		contacts = book
		logger.Info("DAV configured", "url", cfg.DAV.URL)
	}

	if cfg.Email.Configured() {
		a.mailer = email.NewMailer(cfg.Email, contacts, logger)
		deps.Mail = a.mailer
		logger.Info("email configured", "imap", cfg.Email.IMAPConfigured(), "smtp", cfg.Email.SMTPConfigured())
	}

	// --- Agent ---
	client := createLLMClient(cfg, logger)
	a.llm = client
	loop := agent.NewLoop(client, logger)
	ledger := usage.NewLedger(a.usage, cfg.Pricing, cfg.Models.ProviderFor)
	loop.SetUsageRecorder(ledger)
	loop.SetEventBus(a.bus)

	executors := func(chatID string, l *slog.Logger) agent.ToolExecutor {
		return tools.NewExecutor(chatID, *deps, l)
	}

	a.handler = agent.NewHandler(loop, agent.HandlerConfig{
		Model:         cfg.Models.Default,
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTokens:     cfg.Agent.MaxTokens,
	}, executors, logger)
	a.handler.SetEventBus(a.bus)
	a.handler.SetClock(a.chatNow)

	// --- Digest ---
	digestDeps := digest.Deps{
		LLM:       client,
		Loop:      loop,
		Executors: executors,
		Prefs:     a.prefs,
		Weather:   weather.NewClient(cfg.Weather.BaseURL),
		Calendar:  calendar,
		Sender:    a.router,
		Usage:     ledger,
		Bus:       a.bus,
	}
	if len(cfg.Headlines.Feeds) > 0 {
		sources := make([]headlines.Source, 0, len(cfg.Headlines.Feeds))
		for _, f := range cfg.Headlines.Feeds {
			sources = append(sources, headlines.Source{Name: f.Name, URL: f.URL})
		}
		digestDeps.Headlines = headlines.NewAggregator(sources, headlines.Options{
			Window:     time.Duration(cfg.Headlines.WindowHours) * time.Hour,
			MaxPerFeed: cfg.Headlines.MaxPerFeed,
		}, logger)
	}
	a.composer = digest.New(digest.Config{
		Model:          cfg.Models.Digest,
		MaxIterations:  cfg.Digest.MaxIterations,
		MaxTokens:      cfg.Agent.MaxTokens,
		SectionTimeout: time.Duration(cfg.Digest.SectionTimeoutSec) * time.Second,
		Picks:          cfg.Headlines.Picks,
		Location:       a.loc,
	}, digestDeps, logger)

	// --- Scheduler ---
	a.sched = scheduler.New(schedStore, func(ctx context.Context, job *scheduler.Job) (bool, error) {
		return a.composer.SendIfDue(ctx, job.ChatID, "scheduled")
	}, scheduler.Options{Location: a.loc}, logger)
	a.sched.SetEventBus(a.bus)

	deps.Digest = a.composer
	deps.Schedule = a.sched

	// The handler set panics on drift; check here so a bad build fails
	// with an error instead.
	probe := tools.NewExecutor("", *deps, logger)
	if err := tools.CheckConsistency(tools.Catalog(), probe.Names()); err != nil {
		return err
	}
	return nil
}

// chatNow is the current time in the chat's preferred zone.
func (a *app) chatNow(ctx context.Context, chatID string) time.Time {
	now := time.Now()
	p, err := a.prefs.Get(ctx, chatID)
	if err != nil {
		a.logger.Debug("preferences unavailable, using default zone", "chat_id", chatID, "error", err)
		return now.In(a.loc)
	}
	return now.In(p.Location(a.loc))
}

// syncSchedules arms a digest job for every chat with preferences on
// file, so a changed digest.default_time takes effect on restart.
func (a *app) syncSchedules(ctx context.Context) error {
	chats, err := a.prefs.ChatIDs(ctx)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}
	for _, chatID := range chats {
		p, err := a.prefs.Get(ctx, chatID)
		if err != nil {
			a.logger.Warn("skipping schedule sync", "chat_id", chatID, "error", err)
			continue
		}
		if err := a.sched.Reschedule(ctx, chatID, p); err != nil {
			a.logger.Warn("digest schedule sync failed", "chat_id", chatID, "error", err)
		}
	}
	a.logger.Info("digest schedules synced", "chats", len(chats))
	return nil
}

// Close releases the mail connection and the database.
func (a *app) Close() {
	if a.mailer != nil {
		if err := a.mailer.Close(); err != nil {
			a.logger.Debug("mail client close failed", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("database close failed", "error", err)
	}
}
