// Package counter provides the redis-backed counter store used for the
// low-latency quota path. It is a best-effort cache: totals can diverge
// from the durable event log after a restart or eviction, and every
// consumer is expected to treat an error here as "fall back to the
// database".
package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps a redis client with the small command surface the usage
// engine needs: atomic increments and plain reads.
type Store struct {
	rdb *redis.Client
}

// New creates a Store backed by the given redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Increment atomically adds amount to key and returns the new total.
func (s *Store) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	total, err := s.rdb.IncrBy(ctx, key, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("counter INCRBY %s: %w", key, err)
	}
	return total, nil
}

// IncrementExpiring atomically adds amount to key and ensures the key
// expires after ttl. The expiry is set only when the key has none yet, so
// repeated increments within the window do not push the deadline out.
func (s *Store) IncrementExpiring(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, key, amount)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("counter INCRBY/EXPIRE %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Get returns the current total for key. A missing key reads as zero.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	total, err := s.rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("counter GET %s: %w", key, err)
	}
	return total, nil
}

// Ping verifies connectivity, used by health checks at startup.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
