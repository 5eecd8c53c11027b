package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fixit-services/dispatch/internal/shared/config"
	"github.com/fixit-services/dispatch/internal/shared/logger"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
)

// Migrate applies every pending goose migration found in cfg.MigrationsDir.
func Migrate(ctx context.Context, cfg config.DatabaseConfig, logger *logger.Logger) error {
	start := time.Now()

	db, err := sql.Open("pgx", DSN(cfg))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	if err := goose.Up(db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	logger.Info(ctx, "migrations_applied", "Database migrations applied", map[string]any{
		"dir":         cfg.MigrationsDir,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return nil
}
