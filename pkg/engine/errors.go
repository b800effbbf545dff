package engine

import "errors"

var (
	// ErrNodeNotFound is returned when a referenced node does not exist in the graph.
	ErrNodeNotFound = errors.New("engine: node not found")

	// ErrNoRoute is returned when no edge from the completed node matches
	// the current state, indicating a gap in the routing table.
	ErrNoRoute = errors.New("engine: no matching edge from node")

	// ErrMaxVisits is returned when a run visits more nodes than the
	// configured bound, guarding against unterminated loops.
	ErrMaxVisits = errors.New("engine: max node visits exceeded")

	// ErrStepFailed wraps an uncaptured step failure. Nodes without a
	// capture function treat any member error as fatal to the run.
	ErrStepFailed = errors.New("engine: step failed")

	// ErrBadEdge is returned at graph build time for an edge whose
	// condition does not compile or whose endpoints are unknown.
	ErrBadEdge = errors.New("engine: invalid edge definition")
)
