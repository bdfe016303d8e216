package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mattjoyce/hookledger/internal/api"
	"github.com/mattjoyce/hookledger/internal/audit"
	"github.com/mattjoyce/hookledger/internal/auth"
	"github.com/mattjoyce/hookledger/internal/config"
	"github.com/mattjoyce/hookledger/internal/events"
	"github.com/mattjoyce/hookledger/internal/ledger"
	"github.com/mattjoyce/hookledger/internal/lock"
	"github.com/mattjoyce/hookledger/internal/log"
	"github.com/mattjoyce/hookledger/internal/processor"
	"github.com/mattjoyce/hookledger/internal/recovery"
	"github.com/mattjoyce/hookledger/internal/storage"
	"github.com/mattjoyce/hookledger/internal/webhook"
)

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolved, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("hookledger starting", "version", version, "config", resolved)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("hookledger stopped with error", "error", err)
		return 1
	}
	logger.Info("hookledger stopped")
	return 0
}

// serve owns the ledger handle for the life of the process and runs every
// component until ctx is cancelled or one of them fails. The database is
// closed only after the listeners have drained.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	dialect := storage.Dialect(cfg.State.Driver)

	if dialect == storage.DialectSQLite {
		if lockPath := lock.PathFor(cfg.State.Path); lockPath != "" {
			pidLock, err := lock.Acquire(lockPath)
			if err != nil {
				return fmt.Errorf("another instance may be running: %w", err)
			}
			defer pidLock.Release()
			logger.Info("acquired PID lock", "path", lockPath)
		}
	}

	db, err := storage.Open(ctx, dialect, cfg.State.Path, cfg.State.DSN)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()
	logger.Info("ledger opened", "driver", dialect)

	store := ledger.NewSQLStore(db, dialect)
	auditStore := audit.NewSQLSink(db, dialect)
	hub := events.NewHub(0)
	sink := audit.Multi{auditStore, audit.HubSink{Publisher: hub}}

	proc := processor.New(store, processor.Options{
		Audit:           sink,
		Events:          hub,
		Logger:          log.WithComponent("processor"),
		HandlerTimeout:  cfg.Webhooks.HandlerTimeout,
		FinalizeTimeout: cfg.Webhooks.FinalizeTimeout,
	})

	webhookConfig, err := webhook.FromGlobalConfig(cfg, log.WithComponent("handler"))
	if err != nil {
		return fmt.Errorf("configure webhooks: %w", err)
	}

	sweeper := recovery.New(store, sink, hub, recovery.Options{
		StaleAfter: cfg.Recovery.StaleAfter,
		Interval:   cfg.Recovery.Interval,
		Jitter:     cfg.Recovery.Jitter,
	}, log.WithComponent("recovery"))
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	defer sweeper.Stop()
	if !sweeper.Enabled() {
		logger.Warn("recovery sweeper disabled; rows abandoned in processing need manual repair")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	run := func(name string, start func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	webhookServer := webhook.New(webhookConfig, proc, log.WithComponent("webhook"))
	run("webhook", webhookServer.Start)
	logger.Info("webhook server enabled", "listen", webhookConfig.Listen, "endpoints", len(webhookConfig.Endpoints))

	if cfg.API.Enabled {
		apiServer := api.New(apiConfigFrom(cfg), store, auditStore, hub, log.WithComponent("api"))
		run("api", apiServer.Start)
		logger.Info("ops API enabled", "listen", cfg.API.Listen)
	}

	logger.Info("hookledger running (press Ctrl+C to stop)")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("component failed", "error", runErr)
		cancel()
	}
	wg.Wait()
	return runErr
}

func apiConfigFrom(cfg *config.Config) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return api.Config{
		Listen: cfg.API.Listen,
		APIKey: cfg.API.Auth.APIKey,
		Tokens: tokens,
	}
}
