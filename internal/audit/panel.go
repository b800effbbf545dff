package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gavel/pkg/engine"
)

// opinionDispatch opens a review round. The round counter is explicit
// state, which is what makes the retry loop provably bounded: routing
// back to dispatch is only allowed while the counter is within budget.
func opinionDispatch() engine.Step[*RunState, Delta] {
	return engine.StepFunc[*RunState, Delta]{
		ID: "opinion_dispatch",
		Fn: func(_ context.Context, snap *RunState) (Delta, error) {
			return Delta{Rounds: snap.Rounds + 1}, nil
		},
	}
}

// reviewerStep adapts a Reviewer to a panel member. A persona whose
// panel seat already holds a valid opinion is settled and skips the
// round, so retries re-dispatch only the invalid personas.
func reviewerStep(cfg Config, r Reviewer) engine.Step[*RunState, Delta] {
	return engine.StepFunc[*RunState, Delta]{
		ID: r.Persona(),
		Fn: func(ctx context.Context, snap *RunState) (Delta, error) {
			if seated, ok := snap.Panel[r.Persona()]; ok && seated.Valid {
				return Delta{}, nil
			}

			op, err := r.Review(ctx, ReviewRequest{
				Target:   snap.Target,
				Findings: snap.Findings,
				Criteria: cfg.Criteria,
				Flags:    snap.Flags,
				Round:    snap.Rounds,
				ScoreMin: cfg.ScoreMin,
				ScoreMax: cfg.ScoreMax,
			})
			if err != nil {
				return Delta{}, err
			}

			op.Persona = r.Persona() // persona identity is assigned, not self-reported
			op.Round = snap.Rounds
			validateOpinion(cfg, &op)

			return Delta{
				Opinions: []Opinion{op},
				Panel:    map[string]Opinion{op.Persona: op},
			}, nil
		},
	}
}

// captureReview converts a failed reviewer branch into an invalid panel
// seat, so aggregation counts it toward the retry budget like any other
// malformed opinion.
func captureReview(step string, err error) Delta {
	op := Opinion{
		Persona:  step,
		Valid:    false,
		Problems: []string{err.Error()},
	}
	return Delta{
		Opinions:   []Opinion{op},
		Panel:      map[string]Opinion{step: op},
		NodeErrors: []NodeError{{Node: NodePanel, Step: step, Err: err.Error()}},
	}
}

// validateOpinion checks an opinion against the declared schema: every
// configured criterion scored, scores within range, rationale present.
// The result is recorded on the opinion itself; invalid opinions stay
// in the audit trail.
func validateOpinion(cfg Config, op *Opinion) {
	var problems []string
	if strings.TrimSpace(op.Rationale) == "" {
		problems = append(problems, "empty rationale")
	}
	for _, crit := range cfg.Criteria {
		score, ok := op.Scores[crit.ID]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing score for %s", crit.ID))
			continue
		}
		if score < cfg.ScoreMin || score > cfg.ScoreMax {
			problems = append(problems, fmt.Sprintf("score %.2f for %s outside [%v, %v]",
				score, crit.ID, cfg.ScoreMin, cfg.ScoreMax))
		}
	}
	op.Problems = problems
	op.Valid = len(problems) == 0
}

// invalidPersonas returns the sorted names of panel seats without a
// valid opinion.
func invalidPersonas(panel map[string]Opinion) []string {
	var out []string
	for persona, op := range panel {
		if !op.Valid {
			out = append(out, persona)
		}
	}
	sort.Strings(out)
	return out
}

// opinionAggregation is the fan-in barrier after the review panel. It
// records a round summary and, when the retry budget is exhausted with
// seats still invalid, degrades the run instead of aborting it.
func opinionAggregation(cfg Config) engine.Step[*RunState, Delta] {
	return engine.StepFunc[*RunState, Delta]{
		ID: "opinion_aggregation",
		Fn: func(_ context.Context, snap *RunState) (Delta, error) {
			invalid := invalidPersonas(snap.Panel)

			d := Delta{
				Findings: map[string][]Finding{
					DimensionRunQuality: {{
						Dimension:  DimensionRunQuality,
						Bucket:     "opinion_aggregation",
						Confidence: 0.95,
						Content: fmt.Sprintf("round=%d seats=%d invalid=%d",
							snap.Rounds, len(snap.Panel), len(invalid)),
						SourceNode: NodeAggregation,
					}},
				},
			}

			if len(invalid) > 0 && snap.Rounds > cfg.Thresholds.MaxOpinionRetries {
				d.Flags = map[string]bool{
					FlagInvalidOpinions: true,
					FlagDegradedRun:     true,
				}
				d.NodeErrors = []NodeError{{
					Node: NodeAggregation,
					Err:  fmt.Sprintf("%v: %s", ErrRetryExhausted, strings.Join(invalid, ", ")),
				}}
			}
			return d, nil
		},
	}
}
