// Package store opens the configured backing store and exposes it through the
// repository ports.
package store

import (
	"context"
	"fmt"

	"github.com/fixit-services/dispatch/internal/ports"
	"github.com/fixit-services/dispatch/internal/shared/config"
	"github.com/fixit-services/dispatch/internal/shared/gormstore"
	"github.com/fixit-services/dispatch/internal/shared/logger"
	pg "github.com/fixit-services/dispatch/internal/shared/postgres"
)

// Store bundles the repositories of one driver.
type Store struct {
	Driver     string
	UnitOfWork ports.UnitOfWork
	Jobs       ports.JobRepository
	Workers    ports.WorkerRepository

	ping  func(ctx context.Context) error
	close func() error
}

// Open connects to the driver named by cfg.Store.Driver. The SQLite schema is
// created on open; Postgres expects the migrate command to have run.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := gormstore.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := gormstore.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("sqlite schema: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}

		log.Info(ctx, "db_connected", "Opened SQLite store", map[string]any{"path": cfg.Store.SQLitePath})
		return &Store{
			Driver:     "sqlite",
			UnitOfWork: gormstore.NewUnitOfWork(db),
			Jobs:       gormstore.NewJobsRepo(db),
			Workers:    gormstore.NewWorkersRepo(db),
			ping:       func(ctx context.Context) error { return gormstore.Ping(ctx, db) },
			close:      sqlDB.Close,
		}, nil

	case "postgres":
		pool, err := pg.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		return &Store{
			Driver:     "postgres",
			UnitOfWork: pg.NewUnitOfWork(pool),
			Jobs:       pg.NewJobsRepo(),
			Workers:    pg.NewWorkersRepo(),
			ping:       pool.Ping,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Ping checks that the store answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

// Close releases the underlying connections.
func (s *Store) Close() error {
	return s.close()
}
