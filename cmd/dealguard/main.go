// Dealguard - Discount approval governance for B2B sales teams.
// Copyright (c) 2025 marginops
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

	"github.com/marginops/dealguard/internal/ai"
	"github.com/marginops/dealguard/internal/aiport"
	"github.com/marginops/dealguard/internal/api"
	"github.com/marginops/dealguard/internal/bus"
	"github.com/marginops/dealguard/internal/cache"
	"github.com/marginops/dealguard/internal/domain"
	"github.com/marginops/dealguard/internal/guardrail"
	"github.com/marginops/dealguard/internal/history"
	"github.com/marginops/dealguard/internal/repository"
	"github.com/marginops/dealguard/internal/worker"
	"github.com/marginops/dealguard/internal/workflow"
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
	if os.Getenv("DEALGUARD_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting dealguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("DEALGUARD_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	// AI provider is opt-in: without a key every evaluation takes the
	// deterministic rule-based path.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.AI.Enabled = true
		cfg.AI.APIKey = key
	}
	if model := os.Getenv("DEALGUARD_AI_MODEL"); model != "" {
		cfg.AI.Model = model
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"ai_enabled", cfg.AI.Enabled,
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

	// Initialize Guardrail Validator. Rules are loaded per tenant on first
	// evaluation and hot-reloaded via POST /rules/reload.
	validator, err := guardrail.NewValidator(logger)
	if err != nil {
		slog.Error("failed to initialize guardrail validator", "error", err)
		os.Exit(1)
	}
	defer validator.Close()
	slog.Info("guardrail validator initialized")

	// Initialize AI provider behind the resilience facade. A nil inner
	// service means the facade serves fallbacks for everything.
	var inner domain.AIService
	if cfg.AI.Enabled && cfg.AI.APIKey != "" {
		inner, err = ai.NewOpenAIService(cfg.AI, logger)
		if err != nil {
			slog.Error("failed to initialize AI provider", "error", err)
			os.Exit(1)
		}
		slog.Info("AI provider initialized", "provider", cfg.AI.Provider, "model", cfg.AI.Model)
	} else {
		slog.Info("AI provider disabled, using rule-based fallbacks")
	}
	facade := aiport.NewFacade(inner, cacheImpl, logger)

	// Initialize History Service
	historySvc := history.NewService(repo)
	slog.Info("history service initialized")

	// Initialize Workflow Service
	wf := workflow.NewService(repo, cacheImpl, busImpl, facade, validator, historySvc, logger)
	slog.Info("workflow service initialized")

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("DEALGUARD_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, wf)

		// Get tenant IDs to process (from environment or default)
		tenantIDs := []string{}
		if envTenants := os.Getenv("DEALGUARD_TENANTS"); envTenants != "" {
			for _, tenant := range strings.Split(envTenants, ",") {
				if tenant = strings.TrimSpace(tenant); tenant != "" {
					tenantIDs = append(tenantIDs, tenant)
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

		// Warm the guardrail cache for known tenants so the first
		// evaluation does not pay the compile cost.
		preloadGuardrails(ctx, wf, tenantIDs)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, wf, validator, facade, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("dealguard is ready",
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

	slog.Info("dealguard shutdown complete")
}

// preloadGuardrails compiles each tenant's stored rules ahead of the first
// evaluation. Failures are non-fatal: rules can be reloaded via the API.
func preloadGuardrails(ctx context.Context, wf *workflow.Service, tenantIDs []string) {
	for _, tenantID := range tenantIDs {
		count, err := wf.ReloadRules(ctx, tenantID)
		if err != nil {
			slog.Warn("failed to preload guardrails",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		slog.Info("guardrails preloaded", "tenant_id", tenantID, "rules_count", count)
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║              🛡️  DEALGUARD                 ║")
	fmt.Println("  ║      Discount Approval Governance         ║")
	fmt.Println("  ║      Every discount accounted for.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /requests                      - Submit a discount request")
	fmt.Println("    GET  /requests/{id}                 - Get request by ID")
	fmt.Println("    POST /requests/{id}/evaluate        - Run the approval pipeline")
	fmt.Println("    POST /requests/{id}/approve         - Approve a pending request")
	fmt.Println("    POST /requests/{id}/reject          - Reject a pending request")
	fmt.Println("    POST /requests/{id}/adjust          - Request an adjustment")
	fmt.Println("    GET  /requests/{id}/recommendation  - AI discount recommendation")
	fmt.Println("    GET  /requests/{id}/explanation     - Explain a decision")
	fmt.Println("    GET  /rules                         - List guardrail rules")
	fmt.Println("    POST /rules                         - Create a guardrail rule")
	fmt.Println("    POST /rules/reload                  - Hot-reload rules from database")
	fmt.Println("    GET  /governance                    - Get governance settings")
	fmt.Println("    PUT  /governance                    - Update governance settings")
	fmt.Println("    GET  /metrics/ai                    - AI operation metrics")
	fmt.Println("    GET  /health                        - Health check")
	fmt.Println()
}
