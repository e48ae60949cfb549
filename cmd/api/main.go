package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/request-engine/internal/api/http"
	"github.com/spec-kit/request-engine/internal/api/http/handlers"
	"github.com/spec-kit/request-engine/internal/auth"
	"github.com/spec-kit/request-engine/internal/clock"
	"github.com/spec-kit/request-engine/internal/config"
	"github.com/spec-kit/request-engine/internal/events"
	"github.com/spec-kit/request-engine/internal/keylock"
	"github.com/spec-kit/request-engine/internal/observability"
	"github.com/spec-kit/request-engine/internal/persistence"
	"github.com/spec-kit/request-engine/internal/repository"
	"github.com/spec-kit/request-engine/internal/service"
	"github.com/spec-kit/request-engine/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	natsConn, err := persistence.NewNATS(cfg.NATS, logger)
	if err != nil {
		logger.Fatal("failed to connect nats", zap.Error(err))
	}
	defer natsConn.Close()

	billingLocation, err := cfg.Billing.Location()
	if err != nil {
		logger.Fatal("invalid billing timezone", zap.Error(err))
	}

	clk := clock.Real()
	requests, categories, billingRepo := stores(pg)

	if cfg.Ledger.CategorySeedFile != "" {
		n, err := repository.SeedCategories(ctx, categories, cfg.Ledger.CategorySeedFile)
		if err != nil {
			logger.Fatal("failed to seed categories", zap.Error(err))
		}
		logger.Info("categories seeded", zap.Int("count", n), zap.String("file", cfg.Ledger.CategorySeedFile))
	}

	var idempotency repository.IdempotencyStore
	if redis.Enabled() {
		idempotency = repository.NewRedisIdempotency(redis.Client, cfg.Ledger.IdempotencyTTL)
	} else {
		idempotency = repository.NewMemoryIdempotency(clk, cfg.Ledger.IdempotencyTTL)
	}

	bus := events.NewBus(events.Options{
		SubscriberBuffer: cfg.Bus.SubscriberBuffer,
		RetentionEvents:  cfg.Bus.RetentionEvents,
		RetentionWindow:  cfg.Bus.RetentionWindow,
		Clock:            clk,
		Logger:           logger.Named("bus"),
		Metrics:          metrics,
	})

	ledger := service.NewLedger(service.LedgerDependencies{
		Requests:    requests,
		Categories:  categories,
		Idempotency: idempotency,
		Bus:         bus,
		Locks:       keylock.New(cfg.Ledger.LockTimeout),
		Clock:       clk,
		Metrics:     metrics,
		Logger:      logger.Named("ledger"),
	})
	billing := service.NewBillingService(service.BillingDependencies{
		Requests: requests,
		Billing:  billingRepo,
		Clock:    clk,
		Location: billingLocation,
		Workers:  cfg.Billing.Workers,
		Metrics:  metrics,
		Logger:   logger.Named("billing"),
	})
	notifications := service.NewNotificationService(bus, logger.Named("notifications"), cfg.Notify)

	runnables := map[string]worker.Runnable{"notifications": notifications}
	if natsConn.Enabled() {
		runnables["jetstream-forwarder"] = events.NewForwarder(bus, natsConn.JS, logger.Named("forwarder"))
	}
	workers := worker.Start(ctx, logger, runnables)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, 0)

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, httptransport.MiddlewareConfig{
		Timeout:    cfg.App.RequestTimeout(),
		RetryAfter: time.Duration(cfg.HTTP.BusyRetryAfterMS) * time.Millisecond,
	})
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, handlers.HealthDependencies{
			Postgres: pg,
			Redis:    redis,
			NATS:     natsConn,
			Bus:      bus,
		}),
		Requests:       handlers.NewRequestsHandler(ledger),
		Stream:         handlers.NewStreamHandler(bus, ledger, cfg.HTTP.StreamKeepAlive, logger.Named("stream")),
		Notifications:  handlers.NewNotificationsHandler(notifications),
		Billing:        handlers.NewBillingHandler(billing),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Gatherer:       registry,
		CommandRPS:     cfg.HTTP.CommandRPS,
		CommandBurst:   cfg.HTTP.CommandBurst,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := workers.Stop(); err != nil {
		logger.Warn("workers stopped with error", zap.Error(err))
	}
	// closing the bus ends open streams so the server can drain
	bus.Close()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

// stores picks postgres when configured and the in-memory store otherwise.
func stores(pg *persistence.Postgres) (repository.RequestRepository, repository.CategoryRepository, repository.BillingRepository) {
	if pg.Enabled() {
		pool := pg.PoolHandle()
		return repository.NewRequestRepository(pool), repository.NewCategoryRepository(pool), repository.NewBillingRepository(pool)
	}
	mem := repository.NewMemoryStore()
	return mem.Requests(), mem.Categories(), mem.Billing()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
