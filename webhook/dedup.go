package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/taskreactor/orchestrator/domain/webhookevent"
	"github.com/taskreactor/orchestrator/internal/idempotency"
)

// deduper wraps the two dedup layers spec §4.1 requires: an in-process
// window check against the WebhookEvent audit trail, and a distributed
// set-if-not-exists check against the key-value store.
type deduper struct {
	events      webhookevent.Store
	distributed idempotency.Store
	procWindow  time.Duration
}

func newDeduper(events webhookevent.Store, distributed idempotency.Store, procWindow time.Duration) *deduper {
	return &deduper{events: events, distributed: distributed, procWindow: procWindow}
}

// seenRecently reports whether source/payloadHash was already recorded
// within the configured processing window, as of now.
func (d *deduper) seenRecently(ctx context.Context, source, payloadHash string, now time.Time) (bool, error) {
	return d.events.SeenWithin(ctx, source, payloadHash, d.procWindow, now)
}

// claimDistributed attempts the 1-hour set-if-not-exists claim for
// eventID (spec §4.1: "write update:{event_id} ... if it already exists →
// respond duplicate"). Returns true if this call won the claim.
func (d *deduper) claimDistributed(ctx context.Context, eventID string) (bool, error) {
	return d.distributed.SetIfNotExists(ctx, fmt.Sprintf("update:%s", eventID), time.Hour)
}
