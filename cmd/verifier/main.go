// Osprey Verify - Fraud rule verification against a live detection engine.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/api"
	"github.com/opensource-finance/osprey-verify/internal/bus"
	"github.com/opensource-finance/osprey-verify/internal/config"
	"github.com/opensource-finance/osprey-verify/internal/domain"
	"github.com/opensource-finance/osprey-verify/internal/extract"
	"github.com/opensource-finance/osprey-verify/internal/logsource"
	"github.com/opensource-finance/osprey-verify/internal/mocktms"
	"github.com/opensource-finance/osprey-verify/internal/repository"
	"github.com/opensource-finance/osprey-verify/internal/rules"
	"github.com/opensource-finance/osprey-verify/internal/scenario"
	"github.com/opensource-finance/osprey-verify/internal/simulation"
	"github.com/opensource-finance/osprey-verify/internal/tms"
	"github.com/opensource-finance/osprey-verify/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load(os.Getenv("VERIFY_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	if err := config.Validate(cfg); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting osprey verifier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tms", cfg.TMS.BaseURL,
		"history", cfg.History.Driver,
		"eventbus", cfg.EventBus.Type,
		"detect_mode", cfg.Simulation.DetectMode,
		"embedded_mock", cfg.Mock.Embedded,
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

	// Initialize History
	history, err := repository.New(cfg.History)
	if err != nil {
		slog.Error("failed to initialize history", "error", err)
		os.Exit(1)
	}
	defer history.Close()
	slog.Info("history initialized", "driver", cfg.History.Driver)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Detection events collector, used in events mode
	var (
		events    domain.EventSource
		collector *worker.Collector
	)
	if cfg.Simulation.DetectMode == "events" {
		collector = worker.NewCollector(busImpl, worker.DefaultRetention)
		if err := collector.Start(); err != nil {
			slog.Error("failed to start detection collector", "error", err)
			os.Exit(1)
		}
		defer collector.Stop()
		events = collector
	}

	// Embedded detection-engine stand-in
	var (
		logs    domain.LogSource
		mockSrv *mocktms.Server
	)
	if cfg.Mock.Embedded {
		mockHandler, err := mocktms.NewFromConfig(cfg, busImpl)
		if err != nil {
			slog.Error("failed to initialize embedded mock", "error", err)
			os.Exit(1)
		}
		defer mockHandler.Close()

		mockSrv = mocktms.NewServer(cfg.Mock.Server, mockHandler)
		go func() {
			if err := mockSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("embedded mock failed", "error", err)
				cancel()
			}
		}()
		logs = mockHandler.Logs()
		slog.Info("embedded mock started", "addr", mockSrv.Addr())
	} else {
		logs, err = logsource.New(cfg.LogSource)
		if err != nil {
			slog.Error("failed to initialize log source", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("log source initialized", "type", cfg.LogSource.Type, "prefix", cfg.LogSource.Prefix)

	// Rule catalog and alert pipeline
	catalog := rules.DefaultCatalog()
	explainer := rules.NewExplainer(catalog, cfg.TMS.Currency)
	extractor := extract.New(catalog, explainer)

	generator, err := scenario.NewGenerator(catalog, cfg.Scenario)
	if err != nil {
		slog.Error("failed to initialize scenario generator", "error", err)
		os.Exit(1)
	}

	client := tms.NewClient(cfg.TMS)

	orch, err := simulation.NewOrchestrator(simulation.Dependencies{
		Transport: client,
		Generator: generator,
		Extractor: extractor,
		Logs:      logs,
		Events:    events,
		History:   history,
		Catalog:   catalog,
	}, simulation.Config{
		Simulation: cfg.Simulation,
		LogSource:  cfg.LogSource,
		Currency:   cfg.TMS.Currency,
		TenantID:   cfg.TMS.TenantID,
	}, simulation.WithAccountLocks())
	if err != nil {
		slog.Error("failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}
	slog.Info("orchestrator initialized", "rules_count", len(catalog.All()))

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Dependencies{
		Orchestrator: orch,
		Catalog:      catalog,
		Logs:         logs,
		LogSource:    cfg.LogSource,
		History:      history,
		Engine:       client,
		Detections:   collector,
	}, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("osprey verifier is ready", "addr", srv.Addr())

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if mockSrv != nil {
		if err := mockSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("embedded mock forced to shutdown", "error", err)
		}
	}

	slog.Info("osprey verifier shutdown complete")
}

// newLogger builds the default logger. VERIFY_DEBUG=true forces debug level.
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
	if os.Getenv("VERIFY_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║           🦅 OSPREY VERIFY                ║")
	fmt.Println("  ║     Fraud Rule Verification Engine        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Engine:   %s\n", cfg.TMS.BaseURL)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/test/pacs008           - Send one pacs.008")
	fmt.Println("    POST /api/test/quick-status      - pacs.008 then pacs.002")
	fmt.Println("    POST /api/test/full-transaction  - pacs.008 then ACCC")
	fmt.Println("    POST /api/test/velocity          - Rule 901 scenario")
	fmt.Println("    POST /api/test/velocity-creditor - Rule 902 scenario")
	fmt.Println("    POST /api/test/attack-scenario   - Any rule scenario")
	fmt.Println("    POST /api/test/fraud-simulation  - Five step simulation")
	fmt.Println("    GET  /api/test/history           - Submission history")
	fmt.Println("    GET  /api/test/runs/{id}         - Simulation report")
	fmt.Println("    GET  /api/test/rules             - Rule catalog")
	fmt.Println("    GET  /api/test/logs/{source}     - Rule processor output")
	fmt.Println("    GET  /health                     - Health check")
	fmt.Println()
}
