// Package redisbus holds the Redis-backed pieces shared by every process: the
// offer ledger and the cross-instance event relay.
package redisbus

import (
	"context"
	"fmt"
	"time"

	"github.com/fixit-services/dispatch/internal/shared/config"
	"github.com/fixit-services/dispatch/internal/shared/logger"
	"github.com/redis/go-redis/v9"
)

// Connect opens a client and verifies it with PING.
func Connect(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", cfg.Addr, err)
	}

	log.Info(ctx, "redis_connected", "Connected to Redis", map[string]any{"addr": cfg.Addr, "db": cfg.DB})
	return rdb, nil
}

// Ping reports whether Redis answers.
func Ping(ctx context.Context, rdb redis.UniversalClient) error {
	return rdb.Ping(ctx).Err()
}
