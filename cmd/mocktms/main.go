// Command mocktms runs the detection-engine stand-in on its own.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/bus"
	"github.com/opensource-finance/osprey-verify/internal/config"
	"github.com/opensource-finance/osprey-verify/internal/mocktms"
)

func main() {
	cfg, err := config.Load(os.Getenv("VERIFY_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("VERIFY_DEBUG") == "true" || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if err := config.Validate(cfg); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()

	handler, err := mocktms.NewFromConfig(cfg, busImpl)
	if err != nil {
		slog.Error("failed to initialize mock", "error", err)
		os.Exit(1)
	}
	defer handler.Close()

	srv := mocktms.NewServer(cfg.Mock.Server, handler)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	slog.Info("mock tms is ready",
		"addr", srv.Addr(),
		"velocity_window", cfg.Velocity.Window,
		"velocity_limit", cfg.Velocity.Limit,
		"velocity_store", cfg.Velocity.Store,
		"publish_events", cfg.Mock.PublishEvents,
	)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
}
