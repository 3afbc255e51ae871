// Package workflowtest provides a deterministic fake workflow.NodeRunner
// for exercising the Driver and its engines without a real coding agent,
// test runner, or QA pass behind each node (spec §4.5 treats node
// internals as a black box).
package workflowtest

import (
	"fmt"
	"sync"
	"time"

	"github.com/taskreactor/orchestrator/domain/ledger"
	"github.com/taskreactor/orchestrator/workflow"
)

// Call records one RunNode invocation for assertions.
type Call struct {
	Node    workflow.Node
	Attempt int
}

// FakeRunner is a workflow.NodeRunner whose per-node behaviour is
// configured up front: FailUntilAttempt makes a node fail on every attempt
// strictly before that attempt number, then succeed. A node absent from
// FailUntilAttempt always succeeds on the first attempt.
type FakeRunner struct {
	mu               sync.Mutex
	calls            []Call
	FailUntilAttempt map[workflow.Node]int
	AIUsage          map[workflow.Node][]ledger.Record
	Err              map[workflow.Node]error // non-retryable: always returned
}

// NewFakeRunner constructs an empty FakeRunner; every node succeeds
// immediately unless configured otherwise.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		FailUntilAttempt: make(map[workflow.Node]int),
		AIUsage:          make(map[workflow.Node][]ledger.Record),
		Err:              make(map[workflow.Node]error),
	}
}

// RunNode implements workflow.NodeRunner.
func (f *FakeRunner) RunNode(rc workflow.RunContext) workflow.StepResult {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Node: rc.Node(), Attempt: rc.Attempt()})
	f.mu.Unlock()

	if err, ok := f.Err[rc.Node()]; ok && err != nil {
		return workflow.StepResult{Err: err, Duration: time.Millisecond}
	}
	if threshold, ok := f.FailUntilAttempt[rc.Node()]; ok && rc.Attempt() < threshold {
		return workflow.StepResult{
			Err:      fmt.Errorf("workflowtest: %s attempt %d configured to fail", rc.Node(), rc.Attempt()),
			Duration: time.Millisecond,
		}
	}
	return workflow.StepResult{
		Output:   []byte(string(rc.Node()) + " ok"),
		Duration: time.Millisecond,
		AIUsage:  f.AIUsage[rc.Node()],
	}
}

// Calls returns a copy of every recorded invocation, in order.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}
