package audit

import "context"

// Analyst is an analysis agent collecting evidence about the target.
// Collect must honor ctx cancellation; a failure is captured as an
// error finding rather than propagated.
type Analyst interface {
	Name() string
	Collect(ctx context.Context, target Target) ([]Finding, error)
}

// ReviewRequest carries everything a persona needs to form an opinion.
// Every persona in a round receives the same findings snapshot, so
// scoring divergence reflects persona bias, not differing inputs.
type ReviewRequest struct {
	Target   Target
	Findings map[string][]Finding
	Criteria []Criterion
	Flags    map[string]bool
	Round    int
	ScoreMin float64
	ScoreMax float64
}

// Reviewer is one scoring persona. Review must be independently
// re-invocable: a retry round calls it again with no side effects
// carried over from the prior attempt.
type Reviewer interface {
	Persona() string
	Review(ctx context.Context, req ReviewRequest) (Opinion, error)
}
