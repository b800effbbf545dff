package audit

import (
	"context"
	"fmt"
	"sort"

	"gavel/pkg/engine"
)

// errorCollector turns accumulated node errors into user-facing
// evidence of failure and marks the run degraded. Nothing is swallowed
// and nothing re-raised; the run continues to a best-effort report.
func errorCollector() engine.Step[*RunState, Delta] {
	return engine.StepFunc[*RunState, Delta]{
		ID: "error_collector",
		Fn: func(_ context.Context, snap *RunState) (Delta, error) {
			findings := make([]Finding, 0, len(snap.NodeErrors))
			for _, ne := range snap.NodeErrors {
				findings = append(findings, Finding{
					Dimension:  DimensionRunQuality,
					Bucket:     "error_collection",
					Confidence: 0.9,
					Content:    fmt.Sprintf("step %s/%s failed: %s", ne.Node, ne.Step, ne.Err),
					SourceNode: NodeErrorCollector,
				})
			}
			return Delta{
				Findings: map[string][]Finding{DimensionRunQuality: findings},
				Flags:    map[string]bool{FlagDegradedRun: true},
			}, nil
		},
	}
}

// insufficientEvidence marks the run degraded without fabricating
// evidence.
func insufficientEvidence(cfg Config) engine.Step[*RunState, Delta] {
	return engine.StepFunc[*RunState, Delta]{
		ID: "insufficient_evidence",
		Fn: func(_ context.Context, snap *RunState) (Delta, error) {
			stats := computeEvidenceStats(snap.Findings)
			return Delta{
				Findings: map[string][]Finding{
					DimensionRunQuality: {{
						Dimension:  DimensionRunQuality,
						Bucket:     "insufficient_evidence",
						Confidence: 0.9,
						Content: fmt.Sprintf("collected %d findings from %d sources (mean confidence %.3f), below minimum %d/%d/%.2f",
							stats.Total, len(stats.Sources), stats.MeanConfidence,
							cfg.Thresholds.MinFindings, cfg.Thresholds.MinSources, cfg.Thresholds.ConfidenceFloor),
						SourceNode: NodeInsufficient,
					}},
				},
				Flags: map[string]bool{FlagDegradedRun: true},
			}, nil
		},
	}
}

// retryGate seats a deterministic fallback opinion for every persona
// without a valid one, so degraded runs still reach synthesis with a
// full panel instead of failing the synthesis invariant.
func retryGate(cfg Config) engine.Step[*RunState, Delta] {
	return engine.StepFunc[*RunState, Delta]{
		ID: "retry_gate",
		Fn: func(_ context.Context, snap *RunState) (Delta, error) {
			d := Delta{Panel: make(map[string]Opinion)}
			for _, persona := range cfg.Personas {
				if seated, ok := snap.Panel[persona.Name]; ok && seated.Valid {
					continue
				}
				op := fallbackOpinion(cfg, persona.Name, snap)
				d.Opinions = append(d.Opinions, op)
				d.Panel[persona.Name] = op
			}
			if len(d.Opinions) > 0 {
				d.Flags = map[string]bool{FlagFallbackOpinions: true}
			}
			return d, nil
		},
	}
}

// fallbackOpinion derives a flag-aware score without consulting any
// reviewer: the prosecutor seat turns harsh under node errors, the
// defense seat stays lenient, the rest sit near the middle. Fallback
// confidence is kept low so a fallback can never trip the security
// override.
func fallbackOpinion(cfg Config, persona string, snap *RunState) Opinion {
	hasErrors := snap.Flags[FlagNodeErrors]
	insufficient := snap.Flags[FlagInsufficientEvidence]

	span := cfg.ScoreMax - cfg.ScoreMin
	level := func(quarters float64) float64 {
		s := cfg.ScoreMin + span*quarters/4
		if s < cfg.ScoreMin {
			return cfg.ScoreMin
		}
		if s > cfg.ScoreMax {
			return cfg.ScoreMax
		}
		return s
	}

	var score float64
	switch persona {
	case "Prosecutor":
		switch {
		case hasErrors:
			score = level(0)
		case insufficient:
			score = level(1)
		default:
			score = level(2)
		}
	case "Defense":
		if insufficient {
			score = level(2)
		} else {
			score = level(3)
		}
	default:
		if hasErrors {
			score = level(1)
		} else {
			score = level(2)
		}
	}

	scores := make(map[string]float64, len(cfg.Criteria))
	for _, crit := range cfg.Criteria {
		scores[crit.ID] = score
	}

	seen := make(map[string]bool)
	var buckets []string
	for _, items := range snap.Findings {
		for _, f := range items {
			if f.IsError {
				continue
			}
			if !seen[f.Bucket] {
				seen[f.Bucket] = true
				buckets = append(buckets, f.Bucket)
			}
		}
	}
	sort.Strings(buckets)
	if len(buckets) > 4 {
		buckets = buckets[:4]
	}

	return Opinion{
		Persona: persona,
		Scores:  scores,
		Rationale: fmt.Sprintf("%s fallback opinion generated without reviewer call; flags: has_node_errors=%t insufficient_evidence=%t",
			persona, hasErrors, insufficient),
		Citations:  buckets,
		Confidence: 0.4,
		Round:      snap.Rounds,
		Valid:      true,
		Fallback:   true,
	}
}
