// Kestrel - Rule-based transaction monitoring for AML compliance.
// Copyright (c) 2025 kestrelhq
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrelhq/kestrel/internal/alerting"
	"github.com/kestrelhq/kestrel/internal/api"
	"github.com/kestrelhq/kestrel/internal/bus"
	"github.com/kestrelhq/kestrel/internal/cache"
	"github.com/kestrelhq/kestrel/internal/domain"
	"github.com/kestrelhq/kestrel/internal/engine"
	"github.com/kestrelhq/kestrel/internal/enrich"
	"github.com/kestrelhq/kestrel/internal/metrics"
	"github.com/kestrelhq/kestrel/internal/repository"
	"github.com/kestrelhq/kestrel/internal/rules"
	"github.com/kestrelhq/kestrel/internal/scheduler"
	"github.com/kestrelhq/kestrel/internal/scoring"
	"github.com/kestrelhq/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Distributed mode swaps the embedded backends for postgres/redis/nats
	if os.Getenv("KESTREL_MODE") == "distributed" {
		cfg = domain.DistributedConfig()
		slog.Info("running in distributed mode")
	}

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Backend,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	evalCache, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer evalCache.Close()
	slog.Info("cache initialized", "backend", cfg.Cache.Backend)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Registry with built-in rule types
	registry := rules.NewRegistry()
	if err := rules.RegisterBuiltins(registry); err != nil {
		slog.Error("failed to register rule types", "error", err)
		os.Exit(1)
	}

	// Initialize Enricher backed by the repository's account history
	history := enrich.NewHistoryService(repo, cfg.Engine.RecentWindow, cfg.Engine.PriorWindow)
	enricher := enrich.New(history, nil, cfg.Engine.EnrichTimeout)
	slog.Info("enricher initialized",
		"recent_window", cfg.Engine.RecentWindow,
		"prior_window", cfg.Engine.PriorWindow,
	)

	// Initialize Metrics, Scheduler, Scorer, Alert Workflow
	collector := metrics.NewCollector()
	sched := scheduler.New(evalCache, collector, cfg.Engine)
	scorer := scoring.New(cfg.Scoring)
	workflow := alerting.NewWorkflow(repo, busImpl)

	// Assemble the evaluation engine
	eng := engine.New(repo, busImpl, registry, enricher, sched, scorer, workflow, collector, cfg.Engine, cfg.Alerting)

	// Load rule definitions from database (no hardcoded defaults - configure via API)
	if err := loadDefinitionsFromDatabase(ctx, eng); err != nil {
		slog.Error("failed to load rule definitions", "error", err)
		os.Exit(1)
	}

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, eng)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, busImpl, eng, workflow, collector, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadDefinitionsFromDatabase loads persisted rule definitions into the
// registry. All definitions must be configured via POST /rules - no
// hardcoded defaults.
func loadDefinitionsFromDatabase(ctx context.Context, eng *engine.Engine) error {
	count, err := eng.ReloadDefinitions(ctx)
	if err != nil {
		slog.Warn("failed to load rule definitions from database", "error", err)
		return nil // Start with an empty registry - definitions can be added via API
	}

	if count > 0 {
		slog.Info("loaded rule definitions from database", "count", count)
	} else {
		slog.Info("no rule definitions in database - configure via POST /rules")
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║      Rule Evaluation Engine for AML       ║")
	fmt.Println("  ║      Every transaction, every rule.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate                 - Evaluate a transaction")
	fmt.Println("    GET  /evaluations/{id}         - Get evaluation by ID")
	fmt.Println("    GET  /transactions/{id}        - Get transaction by ID")
	fmt.Println("    GET  /rules                    - List loaded rules")
	fmt.Println("    POST /rules                    - Create a rule definition")
	fmt.Println("    POST /rules/reload             - Hot-reload definitions from database")
	fmt.Println("    GET  /alerts                   - List alerts")
	fmt.Println("    GET  /alerts/{id}              - Get alert with history")
	fmt.Println("    POST /alerts/{id}/transitions  - Transition an alert")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println("    GET  /metrics                  - Prometheus metrics")
	fmt.Println()
}
