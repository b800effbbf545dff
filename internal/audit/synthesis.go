package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gavel/pkg/engine"
)

// Synthesis rule names recorded in Report.OverridesApplied, in firing order.
const (
	RuleSecurityOverride = "security_override"
	RuleFactSupremacy    = "fact_supremacy"
	RuleVarianceReeval   = "variance_reevaluation"
)

// synthesis is the terminal rule engine. It runs once over the
// finalized (possibly partial) opinion set and is a pure function of
// state and config: same inputs, same report. Zero valid opinions is
// the single structural impossibility that fails a run, so this node
// carries no capture.
func synthesis(cfg Config) engine.Step[*RunState, Delta] {
	return engine.StepFunc[*RunState, Delta]{
		ID: "synthesis",
		Fn: func(_ context.Context, snap *RunState) (Delta, error) {
			panel := validPanel(snap.Panel)
			if len(panel) == 0 {
				return Delta{}, fmt.Errorf("%w: no valid opinions reached synthesis", ErrSynthesisInvariant)
			}
			report := synthesize(cfg, snap, panel)
			d := Delta{Report: report}
			if report.ReevaluationWarranted {
				d.Flags = map[string]bool{FlagReevalWarranted: true}
			}
			return d, nil
		},
	}
}

// validPanel returns the valid seated opinions sorted by persona name,
// the iteration order for every synthesis rule.
func validPanel(panel map[string]Opinion) []Opinion {
	out := make([]Opinion, 0, len(panel))
	for _, op := range panel {
		if op.Valid {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Persona < out[j].Persona })
	return out
}

func synthesize(cfg Config, snap *RunState, panel []Opinion) *Report {
	var (
		results      []CriterionResult
		dissent      []string
		overrides    []string
		securityHit  bool
		factFlagged  = make(map[string]bool) // persona -> already recorded
		unsupported  = make(map[string]bool) // persona -> has unsupported citations
		baseline     = evidenceBaseline(cfg, snap.Findings)
	)

	for _, op := range panel {
		unsupported[op.Persona] = hasUnsupportedCitations(op, snap.Findings)
	}

	for _, crit := range cfg.Criteria {
		contributing := make([]Opinion, 0, len(panel))
		for _, op := range panel {
			if _, ok := op.Scores[crit.ID]; ok {
				contributing = append(contributing, op)
			}
		}
		if len(contributing) == 0 {
			continue
		}

		// Rule 1: security override short-circuits everything else
		// for this criterion.
		if crit.Security {
			if res, ok := securityOverride(cfg, crit, contributing); ok {
				overrides = append(overrides, RuleSecurityOverride+":"+crit.ID)
				securityHit = true
				results = append(results, res)
				continue
			}
		}

		// Rule 2: fact supremacy discounts opinions whose citations
		// the findings do not support.
		scores := make(map[string]float64, len(contributing))
		for _, op := range contributing {
			s := op.Scores[crit.ID]
			if unsupported[op.Persona] {
				s = (s + baseline) / 2
				if !factFlagged[op.Persona] {
					factFlagged[op.Persona] = true
					overrides = append(overrides, RuleFactSupremacy+":"+op.Persona)
				}
			}
			scores[op.Persona] = s
		}

		// Rule 3: persona-weighted combination, never a plain average.
		var weighted, weightSum float64
		var bestPersona string
		var bestWeight float64
		for _, op := range contributing {
			w := personaWeight(cfg, op.Persona, crit.ID)
			weighted += w * scores[op.Persona]
			weightSum += w
			if w > bestWeight {
				bestWeight = w
				bestPersona = op.Persona
			}
		}
		final := weighted / weightSum

		// Rule 4: dissent tracking instead of silently averaging away
		// a wide spread.
		spread := scoreSpread(contributing, scores)
		lowConfidence := false
		if spread > cfg.Thresholds.DissentSpread {
			dissent = append(dissent, crit.ID)
			lowConfidence = true
		}

		results = append(results, CriterionResult{
			ID:            crit.ID,
			Name:          crit.Name,
			FinalScore:    final,
			Rationale:     rationaleOf(contributing, bestPersona),
			PersonaScores: scores,
			LowConfidence: lowConfidence,
		})
	}

	// Rule 5: high variance across all criteria warrants a future
	// re-evaluation; the current run still finishes with its best
	// synthesis rather than looping.
	reeval := criteriaVariance(results) > cfg.Thresholds.ReevalVariance
	if reeval {
		overrides = append(overrides, RuleVarianceReeval)
	}

	overall := overallScore(cfg, results)
	verdict := verdictFor(cfg, overall, securityHit, dissent)
	degraded := snap.Flags[FlagDegradedRun]

	return &Report{
		RunID:                 snap.RunID,
		Target:                snap.Target,
		Criteria:              results,
		Dissent:               dissent,
		OverridesApplied:      overrides,
		OverallScore:          overall,
		Verdict:               verdict,
		ReevaluationWarranted: reeval,
		Degraded:              degraded,
		Summary:               summaryText(overall, verdict, degraded, len(dissent)),
	}
}

// securityOverride forces a security criterion to the failing value
// when any opinion fails it with high confidence.
func securityOverride(cfg Config, crit Criterion, contributing []Opinion) (CriterionResult, bool) {
	fired := false
	forced := cfg.ScoreMax
	rationale := ""
	scores := make(map[string]float64, len(contributing))
	for _, op := range contributing {
		s := op.Scores[crit.ID]
		scores[op.Persona] = s
		if s <= cfg.Thresholds.SecurityFailScore && op.Confidence >= cfg.Thresholds.SecurityConfidence {
			if !fired || s < forced {
				forced = s
				rationale = op.Rationale
			}
			fired = true
		}
	}
	if !fired {
		return CriterionResult{}, false
	}
	return CriterionResult{
		ID:            crit.ID,
		Name:          crit.Name,
		FinalScore:    forced,
		Rationale:     rationale,
		PersonaScores: scores,
	}, true
}

// evidenceBaseline maps mean evidence confidence onto the score range;
// it is the finding-supported value discounted opinions move toward.
func evidenceBaseline(cfg Config, findings map[string][]Finding) float64 {
	stats := computeEvidenceStats(findings)
	if stats.Total == 0 {
		return cfg.ScoreMin
	}
	return cfg.ScoreMin + stats.MeanConfidence*(cfg.ScoreMax-cfg.ScoreMin)
}

// hasUnsupportedCitations reports whether any citation fails to match a
// bucket with non-error evidence or a finding fingerprint.
func hasUnsupportedCitations(op Opinion, findings map[string][]Finding) bool {
	for _, cite := range op.Citations {
		if !citationSupported(cite, findings) {
			return true
		}
	}
	return false
}

func citationSupported(cite string, findings map[string][]Finding) bool {
	for _, items := range findings {
		for _, f := range items {
			if f.IsError {
				continue
			}
			if f.Bucket == cite || f.Fingerprint() == cite {
				return true
			}
		}
	}
	return false
}

func personaWeight(cfg Config, persona, criterionID string) float64 {
	for _, p := range cfg.Personas {
		if p.Name == persona {
			return p.WeightFor(criterionID)
		}
	}
	return 1
}

func scoreSpread(contributing []Opinion, scores map[string]float64) float64 {
	if len(contributing) == 0 {
		return 0
	}
	min, max := scores[contributing[0].Persona], scores[contributing[0].Persona]
	for _, op := range contributing[1:] {
		s := scores[op.Persona]
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return max - min
}

// rationaleOf picks the winning rationale: the heaviest-weighted
// persona, ties broken by the sorted panel order.
func rationaleOf(contributing []Opinion, bestPersona string) string {
	for _, op := range contributing {
		if op.Persona == bestPersona {
			return op.Rationale
		}
	}
	return contributing[0].Rationale
}

// criteriaVariance is the population variance of the final scores.
func criteriaVariance(results []CriterionResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.FinalScore
	}
	mu := sum / float64(len(results))
	var sq float64
	for _, r := range results {
		d := r.FinalScore - mu
		sq += d * d
	}
	return sq / float64(len(results))
}

// overallScore is the criterion-weighted combination of final scores.
func overallScore(cfg Config, results []CriterionResult) float64 {
	var weighted, weightSum float64
	for _, r := range results {
		w := criterionWeight(cfg, r.ID)
		weighted += w * r.FinalScore
		weightSum += w
	}
	if weightSum == 0 {
		return cfg.ScoreMin
	}
	return weighted / weightSum
}

func criterionWeight(cfg Config, id string) float64 {
	for _, c := range cfg.Criteria {
		if c.ID == id {
			return c.CriterionWeight()
		}
	}
	return 1
}

// verdictFor derives the terminal judgment: a fired security override
// forces fail; dissent on a critical criterion downgrades pass to
// escalate.
func verdictFor(cfg Config, overall float64, securityHit bool, dissent []string) Verdict {
	if securityHit {
		return VerdictFail
	}
	verdict := VerdictFail
	if overall >= cfg.Thresholds.PassThreshold {
		verdict = VerdictPass
	}
	if verdict == VerdictPass {
		for _, id := range dissent {
			for _, c := range cfg.Criteria {
				if c.ID == id && c.Critical {
					return VerdictEscalate
				}
			}
		}
	}
	return verdict
}

func summaryText(overall float64, verdict Verdict, degraded bool, dissentCount int) string {
	var b strings.Builder
	if degraded {
		b.WriteString("[RUN QUALITY WARNING] evidence collection or review was degraded; scores are conservative. ")
	}
	fmt.Fprintf(&b, "Synthesized panel opinions under deterministic precedence rules: overall %.2f, verdict %s", overall, verdict)
	if dissentCount > 0 {
		fmt.Fprintf(&b, ", dissent on %d criteria", dissentCount)
	}
	b.WriteString(".")
	return b.String()
}
