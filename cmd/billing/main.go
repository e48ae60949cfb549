package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spec-kit/request-engine/internal/config"
	"github.com/spec-kit/request-engine/internal/observability"
	"github.com/spec-kit/request-engine/internal/persistence"
	"github.com/spec-kit/request-engine/internal/repository"
	"github.com/spec-kit/request-engine/internal/service"
)

func main() {
	c := &cli{out: os.Stdout, open: openPostgres}
	if err := newRootCmd(c).Execute(); err != nil {
		os.Exit(1)
	}
}

// openPostgres wires the billing service against the shared database. The
// CLI runs out of process, so the in-memory store is never an option here.
func openPostgres(ctx context.Context) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	loc, err := cfg.Billing.Location()
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger = logger.Named("billing-cli")

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	pool := pg.PoolHandle()
	billing := service.NewBillingService(service.BillingDependencies{
		Requests: repository.NewRequestRepository(pool),
		Billing:  repository.NewBillingRepository(pool),
		Location: loc,
		Workers:  cfg.Billing.Workers,
		Logger:   logger,
	})
	return &environment{
		billing:    billing,
		categories: repository.NewCategoryRepository(pool),
		location:   loc,
		close: func() {
			pg.Close()
			_ = logger.Sync()
		},
	}, nil
}
