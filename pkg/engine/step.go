package engine

import (
	"context"
	"time"
)

// Step is one unit of work in a node. Run receives a snapshot of run
// state taken when the node began; it never sees writes from siblings
// running in the same node. The returned delta is merged into run state
// on completion.
type Step[S, D any] interface {
	Name() string
	Run(ctx context.Context, snap S) (D, error)
}

// StepFunc adapts a named function to the Step interface.
type StepFunc[S, D any] struct {
	ID string
	Fn func(ctx context.Context, snap S) (D, error)
}

func (s StepFunc[S, D]) Name() string { return s.ID }

func (s StepFunc[S, D]) Run(ctx context.Context, snap S) (D, error) {
	return s.Fn(ctx, snap)
}

// Capture converts a step failure into a delta so the failure becomes
// recorded state instead of aborting the run. The engine merges the
// returned delta and lets the node's barrier proceed.
type Capture[D any] func(step string, err error) D

// Node is a named vertex of the graph holding one or more steps.
// A single step runs inline; multiple steps fan out concurrently and
// node completion is the fan-in barrier. Timeout bounds each step
// individually; an expired step is cancelled and its context error is
// handled like any other step failure.
//
// A node with a nil Capture treats member failure as fatal to the run.
type Node[S, D any] struct {
	Name    string
	Steps   []Step[S, D]
	Timeout time.Duration
	Capture Capture[D]
}

// NewNode builds a single-step or fan-out node.
func NewNode[S, D any](name string, steps ...Step[S, D]) *Node[S, D] {
	return &Node[S, D]{Name: name, Steps: steps}
}

// WithTimeout sets the per-step bound and returns the node.
func (n *Node[S, D]) WithTimeout(d time.Duration) *Node[S, D] {
	n.Timeout = d
	return n
}

// WithCapture sets the failure capture function and returns the node.
func (n *Node[S, D]) WithCapture(c Capture[D]) *Node[S, D] {
	n.Capture = c
	return n
}
