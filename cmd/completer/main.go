// Command completer periodically completes activities whose scheduled end has passed,
// spawning the next weekly occurrence of recurring ones.
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
	_ "time/tzdata"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/cache"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/config"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/database"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/logging"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/persistence/postgres"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/tracing"
	httptransport "github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel).With("service", cfg.ServiceName, "component", "completer")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("completer stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName+"-completer", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pool, err := database.NewPool(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	loc, err := cfg.Policy.Location()
	if err != nil {
		return err
	}
	opts := []domain.Option{
		domain.WithLogger(logger),
		domain.WithPolicy(cfg.Policy.Window()),
		domain.WithLocation(loc),
		domain.WithAutoCompleteDelay(cfg.Policy.AutoCompleteDelay.Std()),
	}
	if cfg.RedisAddress != "" {
		client, err := cache.NewClient(ctx, cache.Options{Address: cfg.RedisAddress, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, domain.WithDetailCache(cache.NewRedisDetailCache(client, cfg.DetailCacheTTL)))
	}
	service := domain.NewService(postgres.NewRepository(pool), postgres.NewMembershipRepository(pool), nil, opts...)

	metricsSrv := httptransport.NewMetricsServer(cfg.MetricsAddress)
	go func() {
		logger.Info("metrics listening", "address", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	ticker := time.NewTicker(cfg.CompleterInterval)
	defer ticker.Stop()
	logger.Info("completer started", "interval", cfg.CompleterInterval, "batch_size", cfg.CompleterBatchSize)

	for {
		completed, err := service.CompleteDueActivities(ctx, cfg.CompleterBatchSize)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			logger.Error("completion sweep failed", "error", err)
		case completed > 0:
			logger.Info("completion sweep", "completed", completed)
		}

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		case <-ticker.C:
		}
	}
}
