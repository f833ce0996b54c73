// Kestrel - Letter of Credit compliance checks that deploy in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bankprofile"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/quota"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/validator"
	"github.com/opensource-finance/kestrel/internal/worker"
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

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro edition via environment
	if os.Getenv("KESTREL_EDITION") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro edition mode")
	}
	if dir := os.Getenv("KESTREL_RULES_DIR"); dir != "" {
		cfg.Rules.Dir = dir
	}
	if path := os.Getenv("KESTREL_BANK_PROFILES"); path != "" {
		cfg.Rules.BankProfilePath = path
	}

	slog.Info("configuration loaded",
		"edition", cfg.Edition,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"rules_dir", cfg.Rules.Dir,
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
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine
	engine, err := rules.NewEngine(cfg.Rules.MaxConcurrentEvals)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}

	// Load rule sets from the configured directory. Lint errors are fatal
	// at startup: a half-loaded snapshot must never go live.
	report, err := engine.LoadFromDir(cfg.Rules.Dir)
	if err != nil {
		slog.Error("failed to load rule sets", "dir", cfg.Rules.Dir, "error", err)
		if report != nil {
			for _, issue := range report.Errors {
				slog.Error("lint error",
					"rule_set", issue.RuleSet,
					"rule_id", issue.RuleID,
					"message", issue.Message,
				)
			}
		}
		os.Exit(1)
	}
	if report != nil {
		for _, issue := range report.Warnings {
			slog.Warn("lint warning",
				"rule_set", issue.RuleSet,
				"rule_id", issue.RuleID,
				"message", issue.Message,
			)
		}
	}
	slog.Info("rule engine initialized",
		"rules_count", engine.RulesCount(),
		"versions", engine.RuleVersions(),
	)

	// Initialize issuing-bank profiles
	var banks *bankprofile.Registry
	if cfg.Rules.BankProfilePath != "" {
		banks, err = bankprofile.LoadFile(cfg.Rules.BankProfilePath)
		if err != nil {
			slog.Warn("bank profiles not loaded, overlay disabled",
				"path", cfg.Rules.BankProfilePath,
				"error", err,
			)
			banks = nil
		} else {
			slog.Info("bank profiles loaded", "count", banks.Count())
		}
	}

	// Initialize Quota Service (free-tier metering)
	quotaSvc := quota.NewService(cacheImpl, cfg.Quota)
	slog.Info("quota service initialized",
		"free_check_limit", quotaSvc.Limit(),
		"window", cfg.Quota.Window,
	)

	// Initialize Validator Service
	validatorSvc := validator.NewService(engine, cfg.Scoring, quotaSvc, logger)
	slog.Info("validator service initialized")

	// Standalone linter for POST /rules/lint
	linter, err := rules.NewStandaloneLinter()
	if err != nil {
		slog.Error("failed to initialize linter", "error", err)
		os.Exit(1)
	}

	// Reload closure shared by POST /rules/reload and the file watcher.
	reload := func() (*rules.LintReport, error) {
		return engine.LoadFromDir(cfg.Rules.Dir)
	}

	// Hot reload on rule file changes
	if cfg.Rules.Watch {
		watcher, err := rules.NewWatcher(cfg.Rules.Dir, func() error {
			rep, err := reload()
			if err != nil {
				return err
			}
			if rep != nil && len(rep.Warnings) > 0 {
				slog.Warn("rule reload produced lint warnings", "count", len(rep.Warnings))
			}
			slog.Info("rules hot-reloaded", "count", engine.RulesCount())
			return nil
		}, logger)
		if err != nil {
			slog.Warn("file watcher disabled", "error", err)
		} else {
			go watcher.Run(ctx)
			defer watcher.Close()
			slog.Info("rule file watcher started", "dir", cfg.Rules.Dir)
		}
	}

	// Initialize async Worker (Pro edition or explicit opt-in)
	var asyncWorker *worker.Worker
	if cfg.Edition == domain.EditionPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, validatorSvc, banks)

		tenantIDs := []string{}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			for _, t := range strings.Split(envTenants, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tenantIDs = append(tenantIDs, t)
				}
			}
		}

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, validatorSvc, banks, linter, reload, Version)

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

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║    LC Document Compliance Engine          ║")
	fmt.Println("  ║    Every document, every rule.            ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Edition:  %s\n", cfg.Edition)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /validate          - Validate an LC document")
	fmt.Println("    GET  /validations/{id}  - Get validation by ID")
	fmt.Println("    GET  /rules             - List loaded rules")
	fmt.Println("    GET  /rules/{id}        - Get rule by ID")
	fmt.Println("    POST /rules/lint        - Lint a candidate rule set")
	fmt.Println("    POST /rules/reload      - Hot-reload rule sets from disk")
	fmt.Println("    GET  /banks             - List issuing-bank profiles")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /ready             - Readiness check")
	fmt.Println()
}
