// Package redis implements idempotency.Store on Redis SETNX + PEXPIRE,
// spec §4.1's distributed dedup mechanism.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store implements idempotency.Store backed by a Redis client.
type Store struct {
	client *redis.Client
}

// New returns a Store backed by client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// SetIfNotExists implements idempotency.Store using SET key value NX PX ttl,
// the atomic equivalent of SETNX followed by PEXPIRE.
func (s *Store) SetIfNotExists(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
