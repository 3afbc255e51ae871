package intent

import (
	"testing"
	"time"
)

func TestReactivationDetector_RejectsAgentSignature(t *testing.T) {
	d := NewReactivationDetector(testTable(t))
	got := d.Analyze("task-1", "🤖 AI-AGENT 🤖 workflow completed", time.Now())
	if got.RequiresReactivation {
		t.Fatal("expected agent-signed message to never trigger reactivation")
	}
	if !got.IsFromAgent {
		t.Fatal("expected IsFromAgent = true")
	}
}

func TestReactivationDetector_ExplicitRequestTriggersReactivation(t *testing.T) {
	d := NewReactivationDetector(testTable(t))
	got := d.Analyze("task-1", "please add a new API endpoint for the export feature", time.Now())
	if !got.RequiresReactivation {
		t.Fatalf("expected reactivation, got %+v", got)
	}
	if got.ExtractedRequirements == "" {
		t.Fatal("expected extracted requirements to be populated")
	}
}

func TestReactivationDetector_IrrelevantTextDoesNotTrigger(t *testing.T) {
	d := NewReactivationDetector(testTable(t))
	got := d.Analyze("task-1", "ok", time.Now())
	if got.RequiresReactivation {
		t.Fatalf("expected no reactivation for trivial text, got %+v", got)
	}
}

func TestReactivationDetector_CachesRepeatWithinTTL(t *testing.T) {
	d := NewReactivationDetector(testTable(t))
	now := time.Now()
	text := "please add a new API endpoint"
	first := d.Analyze("task-1", text, now)
	second := d.Analyze("task-1", text, now.Add(time.Minute))
	if !first.RequiresReactivation {
		t.Fatalf("expected first analysis to trigger reactivation, got %+v", first)
	}
	if second.RequiresReactivation {
		t.Fatalf("expected cached repeat to suppress reactivation, got %+v", second)
	}
	if second.Reasoning == "" || second.Confidence != 0.95 {
		t.Fatalf("expected anti-spam response, got %+v", second)
	}
}

func TestReactivationDetector_CacheExpiresAfterTTL(t *testing.T) {
	d := NewReactivationDetector(testTable(t))
	now := time.Now()
	text := "please add a new API endpoint"
	d.Analyze("task-1", text, now)
	later := d.Analyze("task-1", text, now.Add(6*time.Minute))
	if !later.RequiresReactivation {
		t.Fatalf("expected reactivation to re-trigger once the cache entry expires, got %+v", later)
	}
}

func TestReactivationDetector_DifferentTasksDoNotShareCache(t *testing.T) {
	d := NewReactivationDetector(testTable(t))
	now := time.Now()
	text := "please add a new API endpoint"
	first := d.Analyze("task-1", text, now)
	other := d.Analyze("task-2", text, now)
	if !first.RequiresReactivation || !other.RequiresReactivation {
		t.Fatalf("expected both tasks to independently trigger reactivation: %+v / %+v", first, other)
	}
}
