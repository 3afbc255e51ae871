// Package webhook implements the inbound HTTP intake described by spec
// §4.1: signature verification, dedup, classification, and publish onto the
// durable queue — and nothing else. No workflow node ever runs on the
// request goroutine (spec §5: "Webhook handlers are short-lived and never
// execute workflow nodes").
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/taskreactor/orchestrator/domain/webhookevent"
	"github.com/taskreactor/orchestrator/internal/idempotency"
	"github.com/taskreactor/orchestrator/internal/queue"
	"github.com/taskreactor/orchestrator/internal/telemetry"
)

// StreamName is the queue stream accepted IntakeEvents are published on;
// the worker pool subscribes here under its own consumer group.
const StreamName = "webhook.events"

const source = "monday"

// Handler serves POST /webhook and the two read-only status endpoints.
type Handler struct {
	events         webhookevent.Store
	dedup          *deduper
	queue          queue.Queue
	logger         telemetry.Logger
	metrics        telemetry.Metrics
	secret         string
	boardID        string
	testIDPrefixes []string
	queueHighWater int
}

// Options configures a Handler.
type Options struct {
	Events         webhookevent.Store
	Distributed    idempotency.Store
	Queue          queue.Queue
	Telemetry      telemetry.Telemetry
	Secret         string
	BoardID        string
	TestIDPrefixes []string
	ProcWindow     time.Duration
	QueueHighWater int // Accepted but not consulted; the 503 path is driven by the queue returning queue.ErrFull.
}

// NewHandler builds a Handler from opts.
func NewHandler(opts Options) *Handler {
	return &Handler{
		events:         opts.Events,
		dedup:          newDeduper(opts.Events, opts.Distributed, opts.ProcWindow),
		queue:          opts.Queue,
		logger:         opts.Telemetry.Logger,
		metrics:        opts.Telemetry.Metrics,
		secret:         opts.Secret,
		boardID:        opts.BoardID,
		testIDPrefixes: opts.TestIDPrefixes,
		queueHighWater: opts.QueueHighWater,
	}
}

// Router builds the chi.Router exposing /webhook, /api/health, /api/status.
func Router(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Post("/webhook", h.ServeWebhook)
	r.Get("/api/health", h.ServeHealth)
	r.Get("/api/status", h.ServeStatus)
	return r
}

type envelope struct {
	Event     RawEvent `json:"event"`
	Challenge string   `json:"challenge"`
}

// ServeWebhook implements the full spec §4.1 contract for a single delivery.
func (h *Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var raw map[string]any
	body := json.NewDecoder(r.Body)
	if err := body.Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "failed", "error": "malformed payload"})
		return
	}

	canonical, err := canonicalizeJSON(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "failed", "error": "malformed payload"})
		return
	}

	if !verifySignature(h.secret, r.Header.Get("X-Monday-Signature"), canonical) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "failed", "error": "signature mismatch"})
		return
	}
	if h.secret == "" {
		h.logger.Warn(ctx, "webhook signature verification unconfigured")
	}

	var env envelope
	if err := json.Unmarshal(canonical, &env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "failed", "error": "malformed payload"})
		return
	}
	if env.Challenge != "" {
		writeJSON(w, http.StatusOK, map[string]any{"challenge": env.Challenge})
		return
	}

	hash := payloadHash(canonical)
	now := time.Now().UTC()

	seen, err := h.dedup.seenRecently(ctx, source, hash, now)
	if err != nil {
		h.logger.Error(ctx, "dedup window check failed", "error", err.Error())
		writeJSON(w, http.StatusOK, map[string]any{"status": "failed"})
		return
	}
	if seen {
		writeJSON(w, http.StatusOK, map[string]any{"status": "deduplicated", "deduplicated": true})
		return
	}

	eventID := env.Event.TriggerUUID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	won, err := h.dedup.claimDistributed(ctx, eventID)
	if err != nil {
		h.logger.Error(ctx, "distributed dedup claim failed", "error", err.Error())
		writeJSON(w, http.StatusOK, map[string]any{"status": "failed"})
		return
	}
	if !won {
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate", "deduplicated": true})
		return
	}

	record := webhookevent.Event{
		EventID:     eventID,
		Source:      source,
		Type:        env.Event.Type,
		Payload:     canonical,
		PayloadHash: hash,
		Signature:   r.Header.Get("X-Monday-Signature"),
		ReceivedAt:  now,
	}
	if _, err := h.events.Create(ctx, record); err != nil {
		h.logger.Error(ctx, "persisting webhook event failed", "error", err.Error())
		writeJSON(w, http.StatusOK, map[string]any{"status": "failed"})
		return
	}

	eventType := classify(env.Event, h.boardID, h.testIDPrefixes)
	if eventType == EventIgnored {
		h.markStatus(ctx, eventID, webhookevent.StatusIgnored, nil, "")
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	intake := toIntakeEvent(env.Event, eventType)
	payload, err := json.Marshal(intake)
	if err != nil {
		h.logger.Error(ctx, "marshalling intake event failed", "error", err.Error())
		writeJSON(w, http.StatusOK, map[string]any{"status": "failed"})
		return
	}

	if _, err := h.queue.Publish(ctx, StreamName, payload); err != nil {
		if errors.Is(err, queue.ErrFull) {
			w.Header().Set("Retry-After", "5")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "retry"})
			return
		}
		h.logger.Error(ctx, "publishing intake event failed", "error", err.Error())
		h.markStatus(ctx, eventID, webhookevent.StatusFailed, nil, err.Error())
		writeJSON(w, http.StatusOK, map[string]any{"status": "failed"})
		return
	}

	h.markStatus(ctx, eventID, webhookevent.StatusProcessed, nil, "")
	if h.metrics != nil {
		h.metrics.IncCounter("webhook.accepted", 1, "type", string(eventType))
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}

func (h *Handler) markStatus(ctx context.Context, eventID string, status webhookevent.ProcessingStatus, relatedTaskID *int64, errMessage string) {
	if _, err := h.events.UpdateStatus(ctx, eventID, status, relatedTaskID, errMessage); err != nil {
		h.logger.Error(ctx, "updating webhook event status failed", "event_id", eventID, "error", err.Error())
	}
}

// ServeHealth reports process liveness.
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ServeStatus reports a minimal operational summary for the admin dashboard.
func (h *Handler) ServeStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "serving"})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
