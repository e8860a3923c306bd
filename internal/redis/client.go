// Package redis builds the go-redis client used by the rate limiter and
// performs startup maintenance on the rate limit keyspace.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis connection configuration.
type Config struct {
	Address  string
	Password string
	DB       int
}

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// connectionTimeout bounds the initial ping.
const connectionTimeout = 5 * time.Second

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 100

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// RefreshStaleKeys gives every key matching prefix* that has no expiry the
// supplied TTL. It returns the number of keys updated.
func RefreshStaleKeys(ctx context.Context, client redis.Cmdable, prefix string, ttl time.Duration, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		cursor  uint64
		updated int
	)
	for {
		keys, next, err := client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return updated, fmt.Errorf("scan %s*: %w", prefix, err)
		}
		for _, key := range keys {
			remaining, err := client.TTL(ctx, key).Result()
			if err != nil {
				return updated, fmt.Errorf("ttl %s: %w", key, err)
			}
			// go-redis reports -1 (no expiry) as a -1ns duration.
			if remaining != -1 {
				continue
			}
			if err := client.Expire(ctx, key, ttl).Err(); err != nil {
				return updated, fmt.Errorf("expire %s: %w", key, err)
			}
			updated++
			logger.Debug("Set TTL on stale rate limit key", zap.String("key", key), zap.Duration("ttl", ttl))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if updated > 0 {
		logger.Info("Refreshed stale rate limit keys", zap.Int("count", updated))
	}
	return updated, nil
}
