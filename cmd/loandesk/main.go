// LoanDesk - Loan application review that deploys in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/loandesk/internal/api"
	"github.com/opensource-finance/loandesk/internal/auth"
	"github.com/opensource-finance/loandesk/internal/bus"
	"github.com/opensource-finance/loandesk/internal/cache"
	"github.com/opensource-finance/loandesk/internal/checks"
	"github.com/opensource-finance/loandesk/internal/config"
	"github.com/opensource-finance/loandesk/internal/domain"
	"github.com/opensource-finance/loandesk/internal/notify"
	"github.com/opensource-finance/loandesk/internal/repository"
	"github.com/opensource-finance/loandesk/internal/validate"
	"github.com/opensource-finance/loandesk/internal/worker"
	"github.com/opensource-finance/loandesk/internal/workflow"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("LOANDESK_CONFIG"), "Path to a YAML, JSON or TOML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting loandesk",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"profile", cfg.Profile,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"notify", cfg.Notify.Channel,
	)
	if cfg.Auth.Secret == domain.DefaultConfig().Auth.Secret {
		slog.Warn("using the default session secret; set LOANDESK_AUTH_SECRET")
	}

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
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize advisory checks and form validation
	engine, err := checks.NewEngine(8)
	if err != nil {
		slog.Error("failed to initialize checks engine", "error", err)
		os.Exit(1)
	}
	validator, err := validate.New()
	if err != nil {
		slog.Error("failed to initialize form validator", "error", err)
		os.Exit(1)
	}

	svc := workflow.New(workflow.Deps{
		Repo:           repo,
		Cache:          cacheImpl,
		Bus:            busImpl,
		Checks:         engine,
		Validator:      validator,
		ApplicationTTL: cfg.Cache.ApplicationTTL,
	})

	if err := svc.SeedChecks(ctx); err != nil {
		slog.Error("failed to load checks", "error", err)
		os.Exit(1)
	}
	if n, err := svc.SeedUsers(ctx, cfg.SeedUsersFile); err != nil {
		slog.Error("failed to seed users", "error", err)
		os.Exit(1)
	} else if n > 0 {
		slog.Info("user directory seeded", "count", n)
	}

	issuer, err := auth.NewIssuer(cfg.Auth)
	if err != nil {
		slog.Error("failed to initialize session issuer", "error", err)
		os.Exit(1)
	}

	// Notifications
	notifier, err := notify.New(cfg.Notify)
	if err != nil {
		slog.Error("failed to initialize notifier", "error", err)
		os.Exit(1)
	}

	eventWorker := worker.NewWorker(busImpl, cacheImpl, svc, notifier)
	if err := eventWorker.Start(); err != nil {
		slog.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	var digest *notify.Digest
	if cfg.Notify.DigestSchedule != "" {
		digest = notify.NewDigest(svc, notifier, cacheImpl, cfg.Notify.DigestWindow)
		if err := digest.Start(cfg.Notify.DigestSchedule); err != nil {
			slog.Error("failed to start digest", "error", err)
			os.Exit(1)
		}
	}

	if cfg.Tracing.Enabled {
		slog.Info("tracing enabled", "service_name", cfg.Tracing.ServiceName)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, svc, issuer, cfg.Profile, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("loandesk is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop background work after the server stops accepting actions
	if digest != nil {
		digest.Stop(shutdownCtx)
	}
	if err := eventWorker.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}

	slog.Info("loandesk shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               LOANDESK                    ║")
	fmt.Println("  ║       Loan Application Review Desk        ║")
	fmt.Println("  ║    Every signature in the right order.    ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Profile:  %s\n", cfg.Profile)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /login                          - Start a session")
	fmt.Println("    POST /applications                   - Open a new application")
	fmt.Println("    PUT  /applications/{n}?draft=        - Save the applicant form")
	fmt.Println("    GET  /applications/{n}               - Review view with checks")
	fmt.Println("    POST /applications/{n}/actions       - SUBMIT, APPROVE or REVERT")
	fmt.Println("    GET  /applications/pending           - Applications awaiting you")
	fmt.Println("    POST /review/view                    - Resolve a review view")
	fmt.Println("    POST /budget/summary                 - Budget and DSR calculator")
	fmt.Println("    GET  /health | /ready | /metrics     - Operations")
	fmt.Println()
}
