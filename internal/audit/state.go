package audit

import (
	"time"

	"github.com/google/uuid"
)

// Flag names raised during a run. Flags are monotonic: once raised by
// any branch, they stay raised for the run.
const (
	FlagNodeErrors           = "has_node_errors"
	FlagInsufficientEvidence = "insufficient_evidence"
	FlagInvalidOpinions      = "has_invalid_opinions"
	FlagDegradedRun          = "degraded_run"
	FlagFallbackOpinions     = "fallback_opinions"
	FlagReevalWarranted      = "reevaluation_warranted"
)

// Evidence dimension holding run-quality records (error findings,
// aggregation summaries) as opposed to findings about the target.
const DimensionRunQuality = "run_quality"

// RunState is the shared mutable aggregate for one execution. All
// mutation goes through Apply; steps read snapshots produced by
// Snapshot. Nothing is ever removed: findings merge by set union,
// opinions and node errors append, flags OR, the round counter rises,
// the panel replaces per persona, and the report is set exactly once.
type RunState struct {
	RunID      string               `json:"run_id"`
	Target     Target               `json:"target"`
	StartedAt  time.Time            `json:"started_at"`
	Findings   map[string][]Finding `json:"findings"`
	Opinions   []Opinion            `json:"opinions"`
	Panel      map[string]Opinion   `json:"panel"`
	NodeErrors []NodeError          `json:"node_errors"`
	Flags      map[string]bool      `json:"flags"`
	Rounds     int                  `json:"rounds"`
	Report     *Report              `json:"report,omitempty"`
}

// NewRunState creates the state for one execution.
func NewRunState(target Target) *RunState {
	return &RunState{
		RunID:     uuid.NewString(),
		Target:    target,
		StartedAt: time.Now().UTC(),
		Findings:  make(map[string][]Finding),
		Panel:     make(map[string]Opinion),
		Flags:     make(map[string]bool),
	}
}

// Delta is a partial state update produced by one step. Zero-valued
// fields merge as no-ops, so a step only populates what it writes.
type Delta struct {
	Findings   map[string][]Finding
	Opinions   []Opinion
	Panel      map[string]Opinion
	NodeErrors []NodeError
	Flags      map[string]bool
	Rounds     int
	Report     *Report
}

// Apply folds a delta into state under the per-field merge rules. It is
// total and, for every field parallel siblings write, commutative and
// idempotent, so concurrent completion order cannot change the result.
func Apply(s *RunState, d Delta) *RunState {
	mergeFindings(s.Findings, d.Findings)
	s.Opinions = append(s.Opinions, d.Opinions...)
	for persona, op := range d.Panel {
		s.Panel[persona] = op
	}
	s.NodeErrors = append(s.NodeErrors, d.NodeErrors...)
	for name, raised := range d.Flags {
		s.Flags[name] = s.Flags[name] || raised
	}
	if d.Rounds > s.Rounds {
		s.Rounds = d.Rounds
	}
	if s.Report == nil && d.Report != nil {
		s.Report = d.Report
	}
	return s
}

// mergeFindings unions incoming findings into the per-dimension sets,
// deduplicating by fingerprint so replayed or duplicated writes are
// idempotent.
func mergeFindings(dst map[string][]Finding, src map[string][]Finding) {
	for dim, items := range src {
		existing := make(map[string]bool, len(dst[dim]))
		for _, f := range dst[dim] {
			existing[f.Fingerprint()] = true
		}
		for _, f := range items {
			fp := f.Fingerprint()
			if existing[fp] {
				continue
			}
			existing[fp] = true
			dst[dim] = append(dst[dim], f)
		}
	}
}

// Snapshot deep-copies state so a running step never observes writes
// from concurrently-running siblings.
func Snapshot(s *RunState) *RunState {
	out := &RunState{
		RunID:     s.RunID,
		Target:    s.Target,
		StartedAt: s.StartedAt,
		Findings:  make(map[string][]Finding, len(s.Findings)),
		Panel:     make(map[string]Opinion, len(s.Panel)),
		Flags:     make(map[string]bool, len(s.Flags)),
		Rounds:    s.Rounds,
		Report:    s.Report,
	}
	for dim, items := range s.Findings {
		out.Findings[dim] = append([]Finding(nil), items...)
	}
	out.Opinions = append(out.Opinions, s.Opinions...)
	for persona, op := range s.Panel {
		out.Panel[persona] = op
	}
	out.NodeErrors = append(out.NodeErrors, s.NodeErrors...)
	for name, raised := range s.Flags {
		out.Flags[name] = raised
	}
	return out
}
