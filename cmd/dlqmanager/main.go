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

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/config"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/database"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/logging"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/outbox"
	httptransport "github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/transport/http"
)

const defaultDLQBatchSize = 50

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel).With("service", cfg.ServiceName, "component", "dlqmanager")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("dlq manager stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	manager := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay, logger)

	metricsSrv := httptransport.NewMetricsServer(cfg.MetricsAddress)
	go func() {
		logger.Info("metrics listening", "address", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	ticker := time.NewTicker(cfg.DLQPollInterval)
	defer ticker.Stop()
	logger.Info("dlq manager started", "interval", cfg.DLQPollInterval, "max_retries", cfg.DLQMaxRetries)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		case <-ticker.C:
			processed, err := manager.RunOnce(ctx, defaultDLQBatchSize)
			switch {
			case err != nil && !errors.Is(err, context.Canceled):
				logger.Error("dlq pass failed", "error", err)
			case processed > 0:
				logger.Info("dlq pass", "processed", processed)
			}
		}
	}
}
