package audit

import (
	"context"
	"fmt"

	"gavel/internal/logging"
	"gavel/pkg/engine"
)

// Result is the sole externally observed outcome of one execution: the
// synthesized report plus the full run state for audit.
type Result struct {
	Report *Report   `json:"report"`
	State  *RunState `json:"state"`
}

// Runner wires configuration and agents into an executable pipeline.
type Runner struct {
	Config    Config
	Analysts  []Analyst
	Reviewers []Reviewer
	Observer  engine.Observer
}

// Run executes one audit. Every failure below the synthesis boundary is
// recovered into state; the returned error is non-nil only for graph
// construction problems, context cancellation, or a synthesis
// invariant violation — the cases with no usable report.
func (r *Runner) Run(ctx context.Context, target Target) (*Result, error) {
	graph, err := BuildGraph(r.Config, r.Analysts, r.Reviewers)
	if err != nil {
		return nil, err
	}

	state := NewRunState(target)

	obs := r.Observer
	if obs == nil {
		obs = &engine.LogObserver{Logger: logging.ForRun("pipeline", state.RunID)}
	}

	eng := engine.New(graph, Apply, Snapshot,
		engine.WithWorkers[*RunState, Delta](r.Config.Workers),
		engine.WithObserver[*RunState, Delta](obs),
	)

	state, err = eng.Run(ctx, state, NodeAnalysis)
	if err != nil {
		return &Result{State: state}, fmt.Errorf("audit run %s: %w", state.RunID, err)
	}
	if state.Report == nil {
		return &Result{State: state}, fmt.Errorf("%w: run %s finished without a report", ErrSynthesisInvariant, state.RunID)
	}

	logging.ForRun("pipeline", state.RunID).Info("run complete",
		"verdict", string(state.Report.Verdict),
		"overall", state.Report.OverallScore,
		"dissent", len(state.Report.Dissent),
		"degraded", state.Report.Degraded,
	)
	return &Result{Report: state.Report, State: state}, nil
}
