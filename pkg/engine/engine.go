// Package engine runs a fixed directed task graph over a shared run
// state. Nodes hold one step or a parallel fan-out group; the group's
// completion is the fan-in barrier. Every step writes through a typed
// merge function, reads a snapshot taken at node entry, and routing
// between nodes is decided by compiled edge expressions evaluated
// against the merged state — same state, same route.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Merge folds a step delta into run state. It must be total (never
// fail) and, for fields written by parallel siblings, commutative so
// completion order cannot change the merged result.
type Merge[S, D any] func(S, D) S

// Clone returns an independent snapshot of run state. Steps receive
// clones, never the live state, so a running step observes only the
// merges of its predecessors.
type Clone[S any] func(S) S

// Engine executes runs of one graph. It is safe to reuse across runs;
// each Run owns its state and shares nothing with concurrent runs.
type Engine[S, D any] struct {
	graph     *Graph[S, D]
	merge     Merge[S, D]
	clone     Clone[S]
	obs       Observer
	workers   int
	maxVisits int
}

// Option configures an Engine.
type Option[S, D any] func(*Engine[S, D])

// WithObserver attaches an observer receiving all run events.
func WithObserver[S, D any](obs Observer) Option[S, D] {
	return func(e *Engine[S, D]) { e.obs = obs }
}

// WithWorkers bounds how many fan-out steps run concurrently.
// Zero means one worker per step.
func WithWorkers[S, D any](n int) Option[S, D] {
	return func(e *Engine[S, D]) { e.workers = n }
}

// WithMaxVisits bounds total node visits per run. The default of 64 is
// defense-in-depth; graphs with bounded retry loops terminate well
// before it.
func WithMaxVisits[S, D any](n int) Option[S, D] {
	return func(e *Engine[S, D]) { e.maxVisits = n }
}

// New builds an Engine over a compiled graph and the state contract.
func New[S, D any](g *Graph[S, D], merge Merge[S, D], clone Clone[S], opts ...Option[S, D]) *Engine[S, D] {
	e := &Engine[S, D]{graph: g, merge: merge, clone: clone, maxVisits: 64}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives the graph from the start node until a transition reaches
// the done node, a node has no outgoing edges, or a fatal error occurs.
// The (possibly partial) state is always returned so callers can audit
// what happened before a failure.
func (e *Engine[S, D]) Run(ctx context.Context, initial S, start string) (S, error) {
	state := initial
	node, ok := e.graph.nodeIndex[start]
	if !ok {
		err := fmt.Errorf("%w: start node %q", ErrNodeNotFound, start)
		emit(e.obs, Event{Type: EventRunError, Node: start, Err: err})
		return state, err
	}

	visits := 0
	for {
		if err := ctx.Err(); err != nil {
			emit(e.obs, Event{Type: EventRunError, Node: node.Name, Err: err})
			return state, err
		}
		if visits >= e.maxVisits {
			err := fmt.Errorf("%w: %d visits at node %q", ErrMaxVisits, visits, node.Name)
			emit(e.obs, Event{Type: EventRunError, Node: node.Name, Err: err})
			return state, err
		}
		visits++

		emit(e.obs, Event{Type: EventNodeEnter, Node: node.Name})
		nodeStart := time.Now()

		var err error
		state, err = e.runNode(ctx, node, state)
		if err != nil {
			emit(e.obs, Event{Type: EventRunError, Node: node.Name, Err: err})
			return state, err
		}
		emit(e.obs, Event{Type: EventNodeExit, Node: node.Name, Elapsed: time.Since(nodeStart)})

		if len(e.graph.edgeIndex[node.Name]) == 0 {
			emit(e.obs, Event{Type: EventRunComplete, Node: node.Name})
			return state, nil
		}

		matched, err := e.graph.route(node.Name, state, e.obs)
		if err != nil {
			emit(e.obs, Event{Type: EventRunError, Node: node.Name, Err: err})
			return state, err
		}
		emit(e.obs, Event{Type: EventTransition, Node: node.Name, Edge: matched.def.ID})

		if matched.def.To == e.graph.done {
			emit(e.obs, Event{Type: EventRunComplete, Node: node.Name})
			return state, nil
		}
		node = e.graph.nodeIndex[matched.def.To]
	}
}

// runNode executes all steps of a node against one shared snapshot and
// merges their deltas in completion order. A failing step either feeds
// the node's capture function (the failure becomes merged state and the
// barrier proceeds) or, with no capture configured, aborts the run.
func (e *Engine[S, D]) runNode(ctx context.Context, n *Node[S, D], state S) (S, error) {
	snap := e.clone(state)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if e.workers > 0 {
		g.SetLimit(e.workers)
	}

	for _, st := range n.Steps {
		st := st
		g.Go(func() error {
			stepCtx := gctx
			cancel := context.CancelFunc(func() {})
			if n.Timeout > 0 {
				stepCtx, cancel = context.WithTimeout(gctx, n.Timeout)
			}
			defer cancel()

			started := time.Now()
			delta, err := st.Run(stepCtx, snap)
			elapsed := time.Since(started)

			if err != nil {
				if n.Capture == nil {
					return fmt.Errorf("%w: %s/%s: %w", ErrStepFailed, n.Name, st.Name(), err)
				}
				captured := n.Capture(st.Name(), err)
				mu.Lock()
				state = e.merge(state, captured)
				mu.Unlock()
				emit(e.obs, Event{Type: EventStepCaptured, Node: n.Name, Step: st.Name(), Elapsed: elapsed, Err: err})
				return nil
			}

			mu.Lock()
			state = e.merge(state, delta)
			mu.Unlock()
			emit(e.obs, Event{Type: EventStepDone, Node: n.Name, Step: st.Name(), Elapsed: elapsed})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return state, err
	}
	return state, nil
}
