// Hearth is a personal assistant reachable over Signal and a local API.
//
// It answers chat messages with a tool-using model loop (meals, sleep,
// notes, email, calendar, web pages) and sends each chat a daily digest
// of weather, calendar, headlines and health trends. Configuration is
// loaded from a single YAML file (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	hearth serve                 Start the transports, scheduler and API
//	hearth init [dir]            Write an example config.yaml
//	hearth ask <question>        Ask a single question (for testing)
//	hearth digest <chat-id>      Build a digest and print it
//	hearth link <device-name>    Link signal-cli as a secondary device
//	hearth version               Print version and build information
//	hearth -o json version       Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	ossignal "os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata" // zones for chats on hosts without a zoneinfo database

	"github.com/nugget/hearth/internal/api"
	"github.com/nugget/hearth/internal/buildinfo"
	"github.com/nugget/hearth/internal/config"
	"github.com/nugget/hearth/internal/connwatch"
	"github.com/nugget/hearth/internal/mqtt"
	"github.com/nugget/hearth/internal/signal"
	"github.com/nugget/hearth/internal/transport"
)

// cliChatID is the chat used by "hearth ask".
const cliChatID = "cli:local"

// main builds the OS-level environment and delegates to [run], keeping
// os.Exit, os.Stdout and os.Args out of the application logic.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; the caller
// prints the returned error.
//
// Arguments are parsed by hand. The flag package keeps its state in
// package globals, which would stop tests from calling run in parallel.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: hearth ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, strings.Join(cmdArgs, " "))
	case "digest":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: hearth digest <chat-id>")
		}
		return runDigest(ctx, stdout, stderr, configPath, cmdArgs[0])
	case "link":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: hearth link <device-name>")
		}
		return runLink(ctx, stdout, stderr, configPath, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Hearth - personal assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: hearth [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                Start transports, scheduler and API")
	fmt.Fprintln(w, "  init [dir]           Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  ask <question>       Ask a single question (for testing)")
	fmt.Fprintln(w, "  digest <chat-id>     Build a digest and print it")
	fmt.Fprintln(w, "  link <device-name>   Link signal-cli as a secondary device")
	fmt.Fprintln(w, "  version              Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// setupLogger loads the config and returns a logger at its level and
// format. Logs for one-shot commands go to stderr so stdout carries
// only the answer.
func setupLogger(w io.Writer, configPath string) (*config.Config, *slog.Logger, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	// Validate already rejected unknown levels.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(w, level, cfg.LogFormat)
	logger.Debug("config loaded", "path", cfgPath)
	return cfg, logger, nil
}

// runAsk answers one question through the full agent, tools included,
// as chat "cli:local".
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, question string) error {
	cfg, logger, err := setupLogger(stderr, configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	reply := a.handler.Respond(ctx, transport.InboundMessage{
		ChatID:     cliChatID,
		SenderName: os.Getenv("USER"),
		Text:       question,
		ReceivedAt: time.Now(),
	})
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(api.MessageResponse{Reply: reply.Text, RequestID: reply.RequestID, State: reply.State})
	}
	fmt.Fprintln(stdout, reply.Text)
	return nil
}

// runDigest builds the digest for chatID and prints it. Nothing is sent
// and the chat's last-sent date is left alone.
func runDigest(ctx context.Context, stdout, stderr io.Writer, configPath, chatID string) error {
	if _, _, ok := transport.SplitChatID(chatID); !ok {
		return fmt.Errorf("chat id %q must look like prefix:id (e.g. signal:+15551234567)", chatID)
	}
	cfg, logger, err := setupLogger(stderr, configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	text, err := a.composer.Build(ctx, chatID)
	if err != nil {
		return fmt.Errorf("build digest: %w", err)
	}
	fmt.Fprintln(stdout, text)
	return nil
}

// runLink links signal-cli to an existing Signal account, printing the
// link URI as a QR code to scan from the phone.
func runLink(ctx context.Context, stdout, stderr io.Writer, configPath, deviceName string) error {
	cfg, logger, err := setupLogger(stderr, configPath)
	if err != nil {
		return err
	}
	ctx, cancel := ossignal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return signal.Link(ctx, cfg.Signal.Command, deviceName, stdout, logger)
}

// llmBackoff polls the model providers slowly; an Anthropic ping is a
// billed request.
var llmBackoff = connwatch.Backoff{Poll: 10 * time.Minute}

// runServe is the primary operating mode. It blocks until SIGINT or
// SIGTERM, then:
//  1. the API server drains in-flight requests
//  2. the Signal bridge stops and signal-cli exits
//  3. MQTT publishes "offline"
//  4. the scheduler and database close via defers
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Hearth", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	{
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		logger = newLogger(stdout, level, cfg.LogFormat)
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"model", cfg.Models.Default,
		"digest_model", cfg.Models.Digest,
		"data_dir", cfg.DataDir,
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := ossignal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup

	// --- Scheduler ---
	if err := a.syncSchedules(ctx); err != nil {
		logger.Warn("digest schedule sync failed", "error", err)
	}
	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.sched.Stop()

	// --- Connectivity ---
	conns := connwatch.NewManager(a.bus, logger)
	defer conns.Stop()
	conns.Watch(ctx, "llm", a.llm.Ping, llmBackoff)

	// --- Websocket chats ---
	hub := api.NewHub()
	a.router.Register(api.Prefix, hub)

	// --- Signal ---
	if cfg.Signal.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSignal(ctx, cfg.Signal, a, conns, logger)
		}()
	} else {
		logger.Info("signal transport disabled")
	}

	// --- MQTT ---
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		pub := mqtt.New(cfg.MQTT, instanceID, a.bus, mqtt.NewDailyCounters(a.loc), logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := pub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "instance_id", instanceID)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// --- API ---
	if cfg.API.Port > 0 {
		server := api.NewServer(cfg.API, api.Deps{
			Responder: a.handler,
			Digest:    a.composer,
			Usage:     a.usage,
			Hub:       hub,
			Bus:       a.bus,
			Health:    conns,
		}, logger)

		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("api shutdown incomplete", "error", err)
			}
		}()

		if err := server.Start(ctx); err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("api server failed: %w", err)
		}
	} else {
		logger.Info("api server disabled")
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	wg.Wait()

	logger.Info("Hearth stopped")
	return nil
}

// newLogger creates a structured logger that writes to w. Format must be
// "text" or "json"; anything else falls back to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the configuration file. An explicit
// path must exist; otherwise [config.FindConfig] searches the defaults.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
