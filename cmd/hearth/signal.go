package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/hearth/internal/config"
	"github.com/nugget/hearth/internal/connwatch"
	"github.com/nugget/hearth/internal/signal"
)

const (
	// signalBackoffInit is the delay before the first restart of a
	// signal-cli daemon that exited.
	signalBackoffInit = 5 * time.Second

	// signalBackoffMax caps the delay between restarts.
	signalBackoffMax = 60 * time.Second

	// signalHealthyRun resets the backoff when a daemon stayed up this long.
	signalHealthyRun = 5 * time.Minute
)

// runSignal keeps a signal-cli daemon and its bridge running until ctx
// is cancelled, restarting with backoff when the daemon exits. Each
// generation re-registers the "signal" route.
func runSignal(ctx context.Context, cfg config.SignalConfig, a *app, conns *connwatch.Manager, logger *slog.Logger) {
	backoff := signalBackoffInit

	for ctx.Err() == nil {
		started := time.Now()
		runSignalOnce(ctx, cfg, a, conns, logger)

		if ctx.Err() != nil {
			break
		}
		if time.Since(started) > signalHealthyRun {
			backoff = signalBackoffInit
		}
		logger.Warn("signal-cli exited, restarting", "backoff", backoff)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, signalBackoffMax)
	}
	a.router.Unregister(signal.Prefix)
	conns.Unwatch("signal-cli")
	logger.Info("signal transport stopped")
}

func runSignalOnce(ctx context.Context, cfg config.SignalConfig, a *app, conns *connwatch.Manager, logger *slog.Logger) {
	client := signal.NewClient(cfg, logger)
	log := logger.With("component", "signal")
	if err := client.Start(ctx); err != nil {
		log.Error("signal-cli failed to start", "error", err)
		return
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Debug("signal-cli exit", "error", err)
		}
	}()

	pingCtx, pingCancel := context.WithTimeout(ctx, 30*time.Second)
	err := client.Ping(pingCtx)
	pingCancel()
	if err != nil {
		log.Warn("signal-cli not answering yet", "error", err)
	}

	bridge := signal.NewBridge(signal.BridgeConfig{
		Client:         client,
		Handler:        a.handler,
		Logger:         logger,
		Bus:            a.bus,
		RateLimit:      cfg.RateLimitPerMinute,
		AllowedSenders: cfg.AllowedSenders,
		AttachmentsDir: cfg.AttachmentsDir,
	})
	a.router.Register(signal.Prefix, bridge)
	conns.Watch(ctx, "signal-cli", client.Ping, connwatch.Backoff{})
	log.Info("signal transport ready", "account", cfg.Account)

	bridge.Start(ctx)
}
