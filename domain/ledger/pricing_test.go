package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskreactor/orchestrator/domain/ledger"
)

func TestEstimateCost_KnownModel(t *testing.T) {
	cost, err := ledger.EstimateCost("anthropic", "claude-sonnet-4", 1_000_000, 1_000_000)
	require.NoError(t, err)
	assert.InDelta(t, 18.00, cost, 0.0001)
}

func TestEstimateCost_UnknownModelReturnsZeroAndWarning(t *testing.T) {
	cost, err := ledger.EstimateCost("some-new-vendor", "mystery-model", 100, 100)
	assert.Equal(t, float64(0), cost)
	assert.Error(t, err, "unknown (provider, model) must warn, never fail the caller")
}
