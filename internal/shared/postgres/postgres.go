package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/fixit-services/dispatch/internal/shared/config"
	"github.com/fixit-services/dispatch/internal/shared/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DSN builds a URL-form connection string from the database config.
func DSN(cfg config.DatabaseConfig) string {
	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   cfg.Name,
		User:   url.UserPassword(cfg.User, cfg.Password),
	}
	q := url.Values{"application_name": []string{"fixit-dispatch"}}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// NewPool configures pgxpool from cfg, verifies connectivity, and returns the pool.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, logger *logger.Logger) (*pgxpool.Pool, error) {
	start := time.Now()

	pcfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("pgxpool.ParseConfig: %w", err)
	}

	pcfg.HealthCheckPeriod = 30 * time.Second
	pcfg.MaxConnIdleTime = 5 * time.Minute
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}

	// keep sessions on UTC
	pcfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `SET TIME ZONE 'UTC'`)
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	logger.Info(ctx, "db_connected", "Connected to PostgreSQL database", map[string]any{
		"host":        cfg.Host,
		"database":    cfg.Name,
		"max_conns":   pcfg.MaxConns,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return pool, nil
}
