package audit

import (
	"context"
	"fmt"
	"sort"

	"gavel/pkg/engine"
)

// analysisStep adapts an Analyst to a pipeline step. Findings missing a
// source are stamped with the agent's name so citations stay traceable.
func analysisStep(a Analyst) engine.Step[*RunState, Delta] {
	return engine.StepFunc[*RunState, Delta]{
		ID: a.Name(),
		Fn: func(ctx context.Context, snap *RunState) (Delta, error) {
			findings, err := a.Collect(ctx, snap.Target)
			if err != nil {
				return Delta{}, &CollectionError{Agent: a.Name(), Err: err}
			}
			d := Delta{Findings: make(map[string][]Finding)}
			for _, f := range findings {
				if f.SourceNode == "" {
					f.SourceNode = a.Name()
				}
				if f.Dimension == "" {
					f.Dimension = a.Name()
				}
				d.Findings[f.Dimension] = append(d.Findings[f.Dimension], f)
			}
			return d, nil
		},
	}
}

// captureAnalysis converts a failed analysis branch into merged state:
// a synthetic error finding plus a structured node error. The fan-in
// barrier proceeds; nothing is swallowed.
func captureAnalysis(step string, err error) Delta {
	return Delta{
		Findings: map[string][]Finding{
			DimensionRunQuality: {{
				Dimension:  DimensionRunQuality,
				Bucket:     step + "_error",
				Content:    err.Error(),
				SourceNode: step,
				IsError:    true,
			}},
		},
		NodeErrors: []NodeError{{Node: NodeAnalysis, Step: step, Err: err.Error()}},
	}
}

// evidenceStats summarizes the merged findings map. Error findings are
// excluded from evidence counts and confidence; they count as failures.
type evidenceStats struct {
	Total          int
	Errors         int
	MeanConfidence float64
	BucketCounts   map[string]int
	Sources        map[string]bool
}

func computeEvidenceStats(findings map[string][]Finding) evidenceStats {
	stats := evidenceStats{
		BucketCounts: make(map[string]int),
		Sources:      make(map[string]bool),
	}
	var confSum float64
	for _, items := range findings {
		for _, f := range items {
			if f.IsError {
				stats.Errors++
				continue
			}
			stats.Total++
			confSum += f.Confidence
			stats.BucketCounts[f.Bucket]++
			stats.Sources[f.SourceNode] = true
		}
	}
	if stats.Total > 0 {
		stats.MeanConfidence = confSum / float64(stats.Total)
	}
	return stats
}

// evidenceAggregation is the fan-in barrier step after the analysis
// agents. Pure computation over already-collected data: it derives the
// run's summary flags and records an aggregation finding. A failure
// here is a programming error and is deliberately fatal (no capture).
func evidenceAggregation(cfg Config) engine.Step[*RunState, Delta] {
	return engine.StepFunc[*RunState, Delta]{
		ID: "evidence_aggregation",
		Fn: func(_ context.Context, snap *RunState) (Delta, error) {
			stats := computeEvidenceStats(snap.Findings)

			flags := make(map[string]bool)
			if stats.Errors > 0 || len(snap.NodeErrors) > 0 {
				flags[FlagNodeErrors] = true
			}
			if stats.Total < cfg.Thresholds.MinFindings ||
				len(stats.Sources) < cfg.Thresholds.MinSources ||
				stats.MeanConfidence < cfg.Thresholds.ConfidenceFloor {
				flags[FlagInsufficientEvidence] = true
			}

			buckets := make([]string, 0, len(stats.BucketCounts))
			for b := range stats.BucketCounts {
				buckets = append(buckets, b)
			}
			sort.Strings(buckets)

			summary := fmt.Sprintf("findings=%d errors=%d sources=%d mean_confidence=%.3f buckets=%v",
				stats.Total, stats.Errors, len(stats.Sources), stats.MeanConfidence, buckets)

			return Delta{
				Findings: map[string][]Finding{
					DimensionRunQuality: {{
						Dimension:  DimensionRunQuality,
						Bucket:     "evidence_aggregation",
						Confidence: 0.95,
						Content:    summary,
						SourceNode: NodeEvidence,
					}},
				},
				Flags: flags,
			}, nil
		},
	}
}
