// cmd/migrate/run.go
package migrate

import (
	"context"
	"fmt"

	"github.com/fixit-services/dispatch/internal/shared/config"
	"github.com/fixit-services/dispatch/internal/shared/gormstore"
	"github.com/fixit-services/dispatch/internal/shared/logger"
	pg "github.com/fixit-services/dispatch/internal/shared/postgres"
)

// Run applies the schema for the configured store driver and exits.
func Run(ctx context.Context, cfg *config.Config) error {
	log := logger.NewLogger("migrate")
	defer log.Sync()
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

	switch cfg.Store.Driver {
	case "postgres":
		return pg.Migrate(ctx, cfg.Database, log)

	case "sqlite":
		db, err := gormstore.Open(cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		if err := gormstore.Migrate(ctx, db); err != nil {
			log.Error(ctx, "migration_failed", "Failed to migrate SQLite store", err)
			return err
		}
		log.Info(ctx, "migration_done", "SQLite schema is up to date", map[string]any{"path": cfg.Store.SQLitePath})
		return nil

	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
