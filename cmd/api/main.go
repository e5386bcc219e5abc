package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/safar/electronics-store/internal/catalog"
	"github.com/safar/electronics-store/internal/config"
	"github.com/safar/electronics-store/internal/database"
	"github.com/safar/electronics-store/internal/httpapi"
	"github.com/safar/electronics-store/internal/idempotency"
	"github.com/safar/electronics-store/internal/memstore"
	"github.com/safar/electronics-store/internal/messaging"
	"github.com/safar/electronics-store/internal/observability"
	"github.com/safar/electronics-store/internal/order"
	"github.com/safar/electronics-store/internal/outbox"
	"github.com/safar/electronics-store/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// backend is what a storage engine has to offer the service.
type backend interface {
	order.Transactor
	order.OrderReader
	catalog.Catalog
	outbox.Source
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	decimal.MarshalJSONWithoutQuotes = true

	tp, shutdownTracing, err := observability.SetupTracing(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	lp, shutdownLogging, err := observability.SetupLogging(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Log.Level, lp)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var shutdowns []observability.ShutdownFunc
	shutdowns = append(shutdowns, shutdownTracing, shutdownLogging)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := observability.Shutdown(shutdownCtx, shutdowns...); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	db, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	shutdowns = append(shutdowns, db.close)

	if cfg.Store.SeedCatalog {
		if _, err := catalog.Seed(ctx, db.backend, logger); err != nil {
			return err
		}
	}

	service := order.NewService(db.backend, db.backend, logger, tp.Tracer(config.ServiceName))

	opts := []httpapi.Option{
		httpapi.WithCommitRetries(cfg.Server.CommitMaxRetries, database.DefaultRetryOptions().InitialBackoff),
		httpapi.WithRequestTimeout(cfg.Server.WriteTimeout),
	}
	if cfg.Idempotency.RedisURL != "" {
		idem, err := idempotency.Connect(cfg.Idempotency.RedisURL, cfg.Idempotency.TTL)
		if err != nil {
			return err
		}
		shutdowns = append(shutdowns, func(context.Context) error { return idem.Close() })
		opts = append(opts, httpapi.WithIdempotency(idem))
		logger.Info("idempotency keys enabled", zap.Duration("ttl", cfg.Idempotency.TTL))
	}

	relayCtx, stopRelay := context.WithCancel(ctx)
	var workers sync.WaitGroup
	defer func() {
		stopRelay()
		workers.Wait()
	}()

	if cfg.Kafka.Broker != "" {
		writer, err := messaging.NewTracedWriter(cfg.Kafka, tp)
		if err != nil {
			return err
		}
		publisher := messaging.NewKafkaPublisher(writer)
		shutdowns = append(shutdowns, func(context.Context) error { return publisher.Close() })

		relay := outbox.NewRelay(db.backend, publisher, logger, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
		workers.Add(1)
		go func() {
			defer workers.Done()
			relay.Start(relayCtx)
		}()
	} else {
		logger.Info("KAFKA_BROKER not set, outbox relay disabled")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpapi.New(service, db.backend, logger, opts...).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited properly")
	return nil
}

type openedBackend struct {
	backend backend
	close   observability.ShutdownFunc
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*openedBackend, error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		logger.Warn("using in-memory store, data is lost on exit")
		return &openedBackend{
			backend: memstore.New(),
			close:   func(context.Context) error { return nil },
		}, nil
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")

	if cfg.Database.MigrateOnStartup {
		files, err := database.Migrate(ctx, db, database.MigrateUp)
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("migrations applied", zap.Strings("files", files))
	}

	return &openedBackend{
		backend: store.NewPostgres(db, cfg.Database.LockTimeout),
		close:   func(context.Context) error { return db.Close() },
	}, nil
}
