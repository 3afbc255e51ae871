// Package webhookevent models the raw inbound delivery record, kept
// separately from the normalized IntakeEvent the webhook package hands to
// the Event Router — this entity is the audit trail, not the routing shape.
package webhookevent

import (
	"context"
	"errors"
	"time"
)

// ProcessingStatus is the lifecycle state of one delivery.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusProcessed ProcessingStatus = "processed"
	StatusIgnored   ProcessingStatus = "ignored"
	StatusFailed    ProcessingStatus = "failed"
	StatusDuplicate ProcessingStatus = "duplicate"
)

// ErrNotFound is returned when an event id has no matching row.
var ErrNotFound = errors.New("webhookevent: not found")

// Event is one raw webhook delivery, unique per (source, payload_hash)
// within the dedup window.
type Event struct {
	EventID          string
	Source           string
	Type             string
	Payload          []byte
	PayloadHash      string
	Signature        string
	ReceivedAt       time.Time
	ProcessingStatus ProcessingStatus
	RelatedTaskID    *int64
	ErrorMessage     string
}

// Store persists WebhookEvent rows and supports the dedup check spec §4.1
// requires: has (source, payload_hash) been seen within window.
type Store interface {
	// Create inserts e with ProcessingStatus defaulted to pending.
	Create(ctx context.Context, e Event) (Event, error)

	// SeenWithin reports whether an event with the same source and
	// payloadHash was received within the last window, relative to e's
	// ReceivedAt (spec §4.1: "if the hash was seen in the last PROC_WINDOW").
	SeenWithin(ctx context.Context, source, payloadHash string, window time.Duration, asOf time.Time) (bool, error)

	// UpdateStatus transitions an event's processing_status, optionally
	// recording the related Task and/or an error message.
	UpdateStatus(ctx context.Context, eventID string, status ProcessingStatus, relatedTaskID *int64, errMessage string) (Event, error)

	Load(ctx context.Context, eventID string) (Event, error)
}
