// Package workflow drives a Run through its fixed node sequence (spec
// §4.5): prepare, analyze, implement, test, QA, finalize, validation,
// merge, update. The sequence itself is immutable; everything else
// (retries, suspension, cancellation, progress) is policy layered on top.
package workflow

// Node identifies one step in the fixed execution sequence.
type Node string

const (
	NodePrepare    Node = "prepare"
	NodeAnalyze    Node = "analyze"
	NodeImplement  Node = "implement"
	NodeTest       Node = "test"
	NodeQA         Node = "qa"
	NodeFinalize   Node = "finalize"
	NodeValidation Node = "validation"
	NodeMerge      Node = "merge"
	NodeUpdate     Node = "update"
)

// nodeSequence is the strict order every Run executes in.
var nodeSequence = []Node{
	NodePrepare,
	NodeAnalyze,
	NodeImplement,
	NodeTest,
	NodeQA,
	NodeFinalize,
	NodeValidation,
	NodeMerge,
	NodeUpdate,
}

// Nodes returns the fixed node sequence.
func Nodes() []Node {
	out := make([]Node, len(nodeSequence))
	copy(out, nodeSequence)
	return out
}

// IndexOf returns n's position in the sequence, or -1 if n is not a known
// node.
func IndexOf(n Node) int {
	for i, candidate := range nodeSequence {
		if candidate == n {
			return i
		}
	}
	return -1
}

// Progress reports stepOrder/total_nodes as a fraction in [0, 1] (spec
// §4.5: "progress percentage is derived from step_order / total_nodes").
func Progress(stepOrder int) float64 {
	return float64(stepOrder) / float64(len(nodeSequence))
}
