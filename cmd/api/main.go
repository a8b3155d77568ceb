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

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/api"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/auth"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/cache"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/config"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/database"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/logging"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/outbox"
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
	logger := logging.New(os.Stdout, cfg.LogLevel).With("service", cfg.ServiceName, "component", "api")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if cfg.RunMigrations {
		if err := database.RunMigrations(cfg.PostgresURL, cfg.MigrationsPath, logger); err != nil {
			return err
		}
	}

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

	service := domain.NewService(
		postgres.NewRepository(pool),
		postgres.NewMembershipRepository(pool),
		domain.ContextIdentity{},
		opts...,
	)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()
	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize, logger)

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	go dispatcher.Start(dispatchCtx)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		ServiceName: cfg.ServiceName,
		Routes:      api.NewHandler(service),
		Auth:        auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}),
		Logger:      logger,
		CORSOrigin:  cfg.CORSOrigin,
	})
	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), router)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("graceful shutdown failed", "error", shutdownErr)
	}

	cancelDispatch()
	dispatcher.Wait()
	return err
}
