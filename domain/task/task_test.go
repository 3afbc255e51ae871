package task_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskreactor/orchestrator/domain/task"
)

func TestDescription_NoUpdates(t *testing.T) {
	tk := task.Task{BaseDescription: "fix the thing"}
	assert.Equal(t, "fix the thing", tk.Description())
}

func TestDescription_RendersUpdatesRing(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tk := task.Task{BaseDescription: "fix the thing"}
	tk = tk.WithAppendedUpdate(task.UpdateEntry{At: at, Text: "please also check logs"}, 10)

	desc := tk.Description()
	require.Contains(t, desc, "fix the thing")
	require.Contains(t, desc, "--- UPDATES ---")
	require.Contains(t, desc, "please also check logs")
	require.Contains(t, desc, at.Format(time.RFC3339))
}

func TestWithAppendedUpdate_CapsHistory(t *testing.T) {
	tk := task.Task{BaseDescription: "base"}
	for i := 0; i < 5; i++ {
		tk = tk.WithAppendedUpdate(task.UpdateEntry{At: time.Now(), Text: "u"}, 3)
	}
	assert.Len(t, tk.Updates, 3)
}

func TestWithAppendedUpdate_NeverShrinks(t *testing.T) {
	tk := task.Task{BaseDescription: "base"}
	tk = tk.WithAppendedUpdate(task.UpdateEntry{At: time.Now(), Text: "one"}, 10)
	before := len(tk.Updates)
	tk = tk.WithAppendedUpdate(task.UpdateEntry{At: time.Now(), Text: "two"}, 10)
	assert.Greater(t, len(tk.Updates), before)
}

func TestIsReactivatable(t *testing.T) {
	cases := []struct {
		status task.Status
		want   bool
	}{
		{task.StatusCompleted, true},
		{task.StatusFailed, true},
		{task.StatusQualityCheck, true},
		{task.StatusPending, false},
		{task.StatusProcessing, false},
		{task.StatusAbandoned, false},
	}
	for _, c := range cases {
		tk := task.Task{InternalStatus: c.status}
		assert.Equal(t, c.want, tk.IsReactivatable(), "status=%s", c.status)
	}
}
