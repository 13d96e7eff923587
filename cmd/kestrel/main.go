// Kestrel - Risk and fraud intelligence for SME finance platforms.
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

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/factors"
	"github.com/opensource-finance/kestrel/internal/fraud"
	"github.com/opensource-finance/kestrel/internal/graph"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
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

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"graph", cfg.Graph.Backend,
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

	// Initialize Graph facade (SQL-backed in Community, Neo4j in Pro)
	graphImpl, err := graph.New(cfg.Graph, repo.DB(), repo.Driver())
	if err != nil {
		slog.Error("failed to initialize graph", "error", err)
		os.Exit(1)
	}
	defer graphImpl.Close(ctx)
	slog.Info("graph initialized", "backend", cfg.Graph.Backend)

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

	// Alert store shares the repository's connection pool.
	alertStore := alerts.NewSQLStore(repo.DB(), repo.Driver())

	// Initialize custom Rule Engine
	engine, err := patterns.NewRuleEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}

	// Tenants to preload rules for and to run workers for.
	tenantIDs := parseTenants(os.Getenv("KESTREL_TENANTS"))

	if err := loadRulesFromDatabase(ctx, repo, engine, tenantIDs); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}

	// Initialize risk Assessor
	assessor := risk.NewAssessor(
		factors.All(repo, graphImpl, cfg.Scoring),
		graphImpl, repo, cacheImpl, cfg.Scoring, cfg.Cache.TTL, logger,
	)
	slog.Info("risk assessor initialized")

	// Initialize fraud Scanner
	scanner := fraud.NewScanner(
		patterns.All(repo, graphImpl, engine, cfg.Fraud),
		graphImpl, alertStore, cacheImpl, busImpl, cfg.Fraud, cfg.Cache.TTL, logger,
	)
	slog.Info("fraud scanner initialized")

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if len(tenantIDs) > 0 {
		asyncWorker = worker.NewWorker(busImpl, cacheImpl, scanner, logger)
		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, alertStore, assessor, scanner, engine, Version)

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

// parseTenants splits the comma-separated tenant list from the environment.
func parseTenants(raw string) []string {
	if raw == "" {
		return nil
	}
	var tenants []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tenants = append(tenants, t)
		}
	}
	return tenants
}

// loadRulesFromDatabase preloads each tenant's custom rules into the engine.
// Rules are configured via POST /rules - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *patterns.RuleEngine, tenantIDs []string) error {
	for _, tenantID := range tenantIDs {
		rules, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			slog.Warn("failed to list rules from database", "tenant_id", tenantID, "error", err)
			continue // Start with empty rules - they can be added via API
		}
		if len(rules) == 0 {
			continue
		}
		if err := engine.ReloadRules(tenantID, rules); err != nil {
			return err
		}
		slog.Info("rules loaded", "tenant_id", tenantID, "count", len(rules))
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - Risk & Fraud Intelligence Engine")
	fmt.Println("  Sharp eyes on every counterparty.")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /businesses/{id}/risk          - Composite risk assessment")
	fmt.Println("    GET  /businesses/{id}/risk/history  - Past assessments")
	fmt.Println("    POST /businesses/{id}/scan          - Run a fraud scan")
	fmt.Println("    GET  /businesses/{id}/alerts/active - Active fraud alert")
	fmt.Println("    GET  /alerts/{id}                   - Get alert by ID")
	fmt.Println("    GET  /rules                         - List custom rules")
	fmt.Println("    POST /rules                         - Create a custom rule")
	fmt.Println("    POST /rules/reload                  - Hot-reload rules from database")
	fmt.Println("    GET  /health                        - Health check")
	fmt.Println()
}
