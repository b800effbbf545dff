// Package panel implements the deterministic reviewer seats. Each
// persona applies a fixed bias to per-criterion evidence statistics, so
// the same findings always produce the same three opinions: the
// Prosecutor scores what the evidence proves, the Defense credits
// intent, the TechLead sits between. Divergence across the panel is
// the signal the synthesis rules consume.
package panel

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"gavel/internal/audit"
)

// lens maps evidence support in [0,1] to a score fraction in [0,1].
type lens struct {
	floor float64 // score fraction granted with zero support
	gain  float64 // how much support raises the fraction
}

var personaLenses = map[string]lens{
	"Prosecutor": {floor: 0.0, gain: 0.85},
	"Defense":    {floor: 0.35, gain: 0.65},
	"TechLead":   {floor: 0.15, gain: 0.75},
}

// Reviewer is one deterministic panel seat.
type Reviewer struct {
	persona string
	bias    lens
}

// New returns the seat for a persona. Unknown personas get the
// TechLead lens.
func New(persona string) *Reviewer {
	bias, ok := personaLenses[persona]
	if !ok {
		bias = personaLenses["TechLead"]
	}
	return &Reviewer{persona: persona, bias: bias}
}

// DefaultPanel returns the three standard seats.
func DefaultPanel() []audit.Reviewer {
	return []audit.Reviewer{New("Defense"), New("Prosecutor"), New("TechLead")}
}

func (r *Reviewer) Persona() string { return r.persona }

// Review scores every criterion from the evidence collected for its
// dimension. Scores are half-point granular so small confidence jitter
// in inputs cannot produce spurious panel spread.
func (r *Reviewer) Review(_ context.Context, req audit.ReviewRequest) (audit.Opinion, error) {
	span := req.ScoreMax - req.ScoreMin
	if span <= 0 {
		return audit.Opinion{}, fmt.Errorf("empty score range [%v, %v]", req.ScoreMin, req.ScoreMax)
	}

	scores := make(map[string]float64, len(req.Criteria))
	cited := make(map[string]bool)
	var supportSum float64

	for _, crit := range req.Criteria {
		support, buckets := dimensionSupport(req.Findings, crit.ID)
		supportSum += support
		for _, b := range buckets {
			cited[b] = true
		}

		fraction := r.bias.floor + r.bias.gain*support
		if fraction > 1 {
			fraction = 1
		}
		scores[crit.ID] = clamp(req.ScoreMin+roundHalf(fraction*span), req.ScoreMin, req.ScoreMax)
	}

	meanSupport := supportSum / float64(len(req.Criteria))

	citations := make([]string, 0, len(cited))
	for b := range cited {
		citations = append(citations, b)
	}
	sort.Strings(citations)
	if len(citations) > 6 {
		citations = citations[:6]
	}

	return audit.Opinion{
		Scores:     scores,
		Rationale:  r.rationale(meanSupport, req.Flags),
		Citations:  citations,
		Confidence: 0.5 + 0.4*meanSupport,
	}, nil
}

// dimensionSupport summarizes non-error evidence for one criterion:
// mean confidence weighted by coverage (two findings saturate it), and
// the buckets that contributed.
func dimensionSupport(findings map[string][]audit.Finding, criterionID string) (float64, []string) {
	items := findings[criterionID]
	var confSum float64
	var buckets []string
	n := 0
	for _, f := range items {
		if f.IsError {
			continue
		}
		n++
		confSum += f.Confidence
		buckets = append(buckets, f.Bucket)
	}
	if n == 0 {
		return 0, nil
	}
	coverage := float64(n) / 2
	if coverage > 1 {
		coverage = 1
	}
	return (confSum / float64(n)) * coverage, buckets
}

func (r *Reviewer) rationale(meanSupport float64, flags map[string]bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: mean evidence support %.2f across criteria", r.persona, meanSupport)
	if flags[audit.FlagNodeErrors] {
		b.WriteString("; collection errors noted")
	}
	if flags[audit.FlagInsufficientEvidence] {
		b.WriteString("; evidence base is thin")
	}
	switch r.persona {
	case "Prosecutor":
		b.WriteString("; unproven claims scored at the floor")
	case "Defense":
		b.WriteString("; implementation intent credited where evidence is partial")
	default:
		b.WriteString("; weighed operability against demonstrated structure")
	}
	return b.String()
}

func roundHalf(v float64) float64 {
	return math.Round(v*2) / 2
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
