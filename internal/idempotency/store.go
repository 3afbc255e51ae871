// Package idempotency defines the short-lived dedup key-value capability
// used for the `update:{id}` keys written by the webhook deduper (spec §3,
// IdempotencyKey). Absence of a key is always safe — it only
// costs an opportunity to dedup, never causes an incorrect action (spec §5,
// Shared-resource policy).
package idempotency

import (
	"context"
	"time"
)

// Store is a set-if-not-exists key-value store with per-key TTL.
type Store interface {
	// SetIfNotExists writes key with the given ttl if it does not already
	// exist, returning true if this call created it (the caller "won").
	SetIfNotExists(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
