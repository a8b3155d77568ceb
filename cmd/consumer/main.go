package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/cache"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/config"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/consumer"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/database"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/logging"
	httptransport "github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel).With("service", cfg.ServiceName, "component", "consumer")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("consumer stopped", "error", err)
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

	handlers := []consumer.Handler{consumer.NewAuditHandler(pool)}
	if cfg.RedisAddress != "" {
		client, err := cache.NewClient(ctx, cache.Options{Address: cfg.RedisAddress, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return err
		}
		defer client.Close()
		handlers = append(handlers, consumer.NewInvalidationHandler(cache.NewRedisDetailCache(client, cfg.DetailCacheTTL)))
	}
	handler := consumer.Chain(handlers...)

	metricsSrv := httptransport.NewMetricsServer(cfg.MetricsAddress)
	go func() {
		logger.Info("metrics listening", "address", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	var wg sync.WaitGroup
	for _, topic := range cfg.ConsumerTopics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})
		topicLogger := logger.With("topic", topic)
		proc := consumer.NewProcessor(reader, handler,
			consumer.WithLogger(topicLogger),
			consumer.WithRetry(3, 500*time.Millisecond),
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reader.Close()

			topicLogger.Info("consumer started", "group", cfg.ConsumerGroupID)
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				topicLogger.Error("consumer stopped with error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("consumer shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}

	wg.Wait()
	return nil
}
