// Package queueindex is the Redis-backed dispatch index: per-queue pending
// FIFOs, running sorted-sets keyed by lease-expiry score, and per-entity
// running counters. It never touches the durable Plan Store directly — the
// Transaction Coordinator is the only caller that sequences the two.
package queueindex

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowmint/planengine/internal/config"
)

// Index wraps a Redis client scoped to dispatch bookkeeping.
type Index struct {
	client *redis.Client
}

// New dials Redis per cfg and verifies connectivity, grounded in the
// teacher's cache.NewRedisCache connection-bootstrap idiom.
func New(cfg config.RedisConfig) (*Index, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DB = cfg.DB
	opts.PoolSize = cfg.PoolSize
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Index{client: client}, nil
}

// NewWithClient wraps an already-constructed client, used by tests against
// miniredis.
func NewWithClient(client *redis.Client) *Index {
	return &Index{client: client}
}

// Close closes the underlying Redis connection.
func (ix *Index) Close() error { return ix.client.Close() }

// Health pings the underlying connection.
func (ix *Index) Health(ctx context.Context) error { return ix.client.Ping(ctx).Err() }
