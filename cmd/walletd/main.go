package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/walletlink/service/config"
	"github.com/brojonat/walletlink/service/coordinator"
	"github.com/brojonat/walletlink/service/metrics"
	"github.com/brojonat/walletlink/service/server"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting walletd",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"storage_backend", cfg.StorageBackend,
		"publish_events", cfg.PublishEvents,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Opens storage and restores the persisted fact before any bridge runs
	coord, err := coordinator.New(ctx, cfg, logger, coordinator.WithMetrics(m))
	if err != nil {
		logger.Error("failed to initialize coordinator", "error", err)
		os.Exit(1)
	}
	defer coord.Close()
	logger.Info("connection store ready",
		"backend", coord.Backend(),
		"restored", coord.Store().GetState().Wallet.Connected,
	)

	var ssePublisher *server.SSEPublisher
	if cfg.PublishEvents {
		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		defer ssePublisher.Close()
	}

	coord.Start(ctx)

	httpServer := server.New(cfg.ServerAddr, coord, ssePublisher, m, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		cancel()
		coord.Wait()
		coord.Close()
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
		}

		// Bridges stop first so no event races the store teardown
		cancel()
		coord.Wait()
		logger.Info("walletd shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
