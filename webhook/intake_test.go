package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	webhookeventinmem "github.com/taskreactor/orchestrator/domain/webhookevent/inmem"
	idempotencyinmem "github.com/taskreactor/orchestrator/internal/idempotency/inmem"
	queueinmem "github.com/taskreactor/orchestrator/internal/queue/inmem"
	"github.com/taskreactor/orchestrator/internal/telemetry"
)

func newTestHandler() *Handler {
	idem := idempotencyinmem.New(0)
	return NewHandler(Options{
		Events:      webhookeventinmem.New(),
		Distributed: idem,
		Queue:       queueinmem.New(),
		Telemetry:   telemetry.NewNoop(),
		BoardID:     "",
	})
}

func postWebhook(t *testing.T, h *Handler, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeWebhook(rec, req)
	return rec
}

func TestServeWebhook_ChallengeHandshake(t *testing.T) {
	h := newTestHandler()
	rec := postWebhook(t, h, map[string]any{"challenge": "abc123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["challenge"] != "abc123" {
		t.Fatalf("challenge = %v, want abc123", resp["challenge"])
	}
}

func TestServeWebhook_AcceptsValidEvent(t *testing.T) {
	h := newTestHandler()
	rec := postWebhook(t, h, map[string]any{
		"event": map[string]any{
			"type":        "create_pulse",
			"pulseId":     "42",
			"triggerUuid": "trigger-1",
			"textBody":    "Add health endpoint",
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "accepted" {
		t.Fatalf("status = %v, want accepted", resp["status"])
	}
}

func TestServeWebhook_DuplicateTriggerUUIDIsDeduplicated(t *testing.T) {
	h := newTestHandler()
	event := map[string]any{
		"event": map[string]any{
			"type":        "create_pulse",
			"pulseId":     "42",
			"triggerUuid": "trigger-dup",
		},
	}
	first := postWebhook(t, h, event)
	if first.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d", first.Code)
	}
	second := postWebhook(t, h, event)
	if second.Code != http.StatusOK {
		t.Fatalf("second delivery status = %d", second.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["deduplicated"] != true {
		t.Fatalf("expected second delivery to be deduplicated, got %v", resp)
	}
}

func TestServeWebhook_RejectsBadSignature(t *testing.T) {
	idem := idempotencyinmem.New(0)
	h := NewHandler(Options{
		Events:      webhookeventinmem.New(),
		Distributed: idem,
		Queue:       queueinmem.New(),
		Telemetry:   telemetry.NewNoop(),
		Secret:      "shared-secret",
	})
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{"event":{"type":"create_pulse","pulseId":"42"}}`)))
	req.Header.Set("X-Monday-Signature", "v1=wrong")
	rec := httptest.NewRecorder()
	h.ServeWebhook(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestServeWebhook_RejectsMalformedPayload(t *testing.T) {
	h := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`not json`)))
	rec := httptest.NewRecorder()
	h.ServeWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
