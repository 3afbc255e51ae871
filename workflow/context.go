package workflow

import (
	"context"
	"time"

	"github.com/taskreactor/orchestrator/internal/telemetry"
)

// RunContext is what a NodeRunner receives: everything it needs to execute
// one node, read-only except for the StepResult it hands back (spec §4.5:
// "receives the RunContext, read-only except for append-step-result").
type RunContext interface {
	// Context is the Go context for this node execution; it is cancelled if
	// the Run is revoked (spec §4.5 Cancellation).
	Context() context.Context

	RunID() string
	TaskID() int64
	Node() Node
	StepOrder() int
	// Attempt is 1 on the first try, 2 on the first retry, and so on.
	Attempt() int

	// RejectionInstructions carries forward extracted requirements from a
	// prior REJECT verdict when this Run was spawned by a reject-driven
	// reactivation, empty otherwise.
	RejectionInstructions() string

	// IsReactivation and ReactivationCount mirror the owning Run's fields so
	// a node can adapt behaviour (e.g. skip prepare work already done).
	IsReactivation() bool
	ReactivationCount() int

	Now() time.Time
	Logger() telemetry.Logger
	Metrics() telemetry.Metrics
}

// runContext is the concrete RunContext implementation the driver
// constructs once per node attempt.
type runContext struct {
	ctx                   context.Context
	runID                 string
	taskID                int64
	node                  Node
	stepOrder             int
	attempt               int
	rejectionInstructions string
	isReactivation        bool
	reactivationCount     int
	now                   func() time.Time
	logger                telemetry.Logger
	metrics               telemetry.Metrics
}

func (c *runContext) Context() context.Context          { return c.ctx }
func (c *runContext) RunID() string                      { return c.runID }
func (c *runContext) TaskID() int64                      { return c.taskID }
func (c *runContext) Node() Node                         { return c.node }
func (c *runContext) StepOrder() int                     { return c.stepOrder }
func (c *runContext) Attempt() int                       { return c.attempt }
func (c *runContext) RejectionInstructions() string      { return c.rejectionInstructions }
func (c *runContext) IsReactivation() bool               { return c.isReactivation }
func (c *runContext) ReactivationCount() int              { return c.reactivationCount }
func (c *runContext) Now() time.Time                     { return c.now() }
func (c *runContext) Logger() telemetry.Logger           { return c.logger }
func (c *runContext) Metrics() telemetry.Metrics         { return c.metrics }
