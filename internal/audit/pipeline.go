package audit

import (
	"fmt"
	"time"

	"gavel/pkg/engine"
)

// Pipeline node names. The topology is fixed; all conditional behavior
// lives in the edge table below.
const (
	NodeAnalysis       = "analysis"
	NodeEvidence       = "evidence_aggregation"
	NodeErrorCollector = "error_collector"
	NodeInsufficient   = "insufficient_evidence"
	NodeRetryGate      = "retry_gate"
	NodeDispatch       = "opinion_dispatch"
	NodePanel          = "review_panel"
	NodeAggregation    = "opinion_aggregation"
	NodeSynthesis      = "synthesis"
)

// pipelineEdges is the routing table. Edges from a node are evaluated
// in order, first match wins, so each unconditional edge is the
// fallthrough of its row. The opinion retry loop is the only cycle and
// is bounded by the round counter carried in state.
func pipelineEdges() []engine.EdgeDef {
	return []engine.EdgeDef{
		{ID: "A1", From: NodeAnalysis, To: NodeEvidence},

		{ID: "A2", From: NodeEvidence, To: NodeErrorCollector, When: `flags.has_node_errors == true`},
		{ID: "A3", From: NodeEvidence, To: NodeInsufficient, When: `flags.insufficient_evidence == true`},
		{ID: "A4", From: NodeEvidence, To: NodeDispatch},

		{ID: "A5", From: NodeErrorCollector, To: NodeRetryGate},
		{ID: "A6", From: NodeInsufficient, To: NodeRetryGate},
		{ID: "A7", From: NodeRetryGate, To: NodeSynthesis},

		{ID: "A8", From: NodeDispatch, To: NodePanel},
		{ID: "A9", From: NodePanel, To: NodeAggregation},

		{ID: "A10", From: NodeAggregation, To: NodeDispatch, Loop: true,
			When: `invalid > 0 && rounds <= config.max_retries`},
		{ID: "A11", From: NodeAggregation, To: NodeSynthesis},

		{ID: "A12", From: NodeSynthesis, To: engine.DoneNode},
	}
}

// routeEnv projects run state into the routing environment. It is a
// pure function of state: flags, the round counter, and the count of
// invalid panel seats.
func routeEnv(cfg Config) engine.EnvFunc[*RunState] {
	return func(s *RunState) map[string]any {
		flags := make(map[string]any, len(s.Flags))
		for name, raised := range s.Flags {
			flags[name] = raised
		}
		return map[string]any{
			"flags":   flags,
			"rounds":  s.Rounds,
			"invalid": len(invalidPersonas(s.Panel)),
			"config": map[string]any{
				"max_retries": cfg.Thresholds.MaxOpinionRetries,
			},
		}
	}
}

// BuildGraph assembles the audit pipeline over the given agents.
func BuildGraph(cfg Config, analysts []Analyst, reviewers []Reviewer) (*engine.Graph[*RunState, Delta], error) {
	if len(analysts) == 0 {
		return nil, fmt.Errorf("audit: no analysts registered")
	}
	if len(reviewers) == 0 {
		return nil, fmt.Errorf("audit: no reviewers registered")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	analysisSteps := make([]engine.Step[*RunState, Delta], len(analysts))
	for i, a := range analysts {
		analysisSteps[i] = analysisStep(a)
	}
	reviewSteps := make([]engine.Step[*RunState, Delta], len(reviewers))
	for i, r := range reviewers {
		reviewSteps[i] = reviewerStep(cfg, r)
	}

	nodes := []*engine.Node[*RunState, Delta]{
		engine.NewNode(NodeAnalysis, analysisSteps...).
			WithTimeout(time.Duration(cfg.StepTimeout)).
			WithCapture(captureAnalysis),
		engine.NewNode(NodeEvidence, evidenceAggregation(cfg), claimVerification()),
		engine.NewNode(NodeErrorCollector, errorCollector()),
		engine.NewNode(NodeInsufficient, insufficientEvidence(cfg)),
		engine.NewNode(NodeRetryGate, retryGate(cfg)),
		engine.NewNode(NodeDispatch, opinionDispatch()),
		engine.NewNode(NodePanel, reviewSteps...).
			WithTimeout(time.Duration(cfg.StepTimeout)).
			WithCapture(captureReview),
		engine.NewNode(NodeAggregation, opinionAggregation(cfg)),
		engine.NewNode(NodeSynthesis, synthesis(cfg)),
	}

	return engine.NewGraph("audit", nodes, pipelineEdges(), routeEnv(cfg))
}
