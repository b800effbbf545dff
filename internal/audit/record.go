// Package audit orchestrates one audit run: parallel analysis agents
// collect findings about a target artifact, a biased reviewer panel
// scores them, and a deterministic synthesis combines the scored
// opinions into a single report. The package owns the run state, its
// merge semantics, and the pipeline topology; agent internals are
// pluggable through the Analyst and Reviewer contracts.
package audit

import "fmt"

// Target identifies the artifact under audit: a repository locator and
// an accompanying document.
type Target struct {
	RepoURL string `json:"repo_url"`
	DocPath string `json:"doc_path"`
}

// Finding is one immutable unit of evidence produced by an analysis
// agent. Error findings (IsError) are synthetic records materialized
// from a captured agent failure; they carry the failure as evidence
// instead of aborting the run.
type Finding struct {
	Dimension  string  `json:"dimension"`
	Bucket     string  `json:"bucket"`
	Confidence float64 `json:"confidence"`
	Content    string  `json:"content"`
	SourceNode string  `json:"source_node"`
	IsError    bool    `json:"is_error,omitempty"`
}

// Fingerprint returns a deterministic identity for set-union merging.
// Two findings with equal fingerprints are the same piece of evidence
// no matter which branch delivered them first.
func (f Finding) Fingerprint() string {
	input := f.Dimension + "|" + f.Bucket + "|" + f.SourceNode + "|" + f.Content
	if f.IsError {
		input += "|err"
	}
	// FNV-1a
	var h uint64 = 14695981039346656037
	for i := 0; i < len(input); i++ {
		h ^= uint64(input[i])
		h *= 1099511628211
	}
	return fmt.Sprintf("%016x", h)
}

// Opinion is one reviewer persona's scored judgment over the aggregated
// findings. Opinions are never mutated: a retry produces a replacement
// tracked by persona identity in the panel, while the audit trail keeps
// every round's output.
type Opinion struct {
	Persona    string             `json:"persona"`
	Scores     map[string]float64 `json:"criterion_scores"`
	Rationale  string             `json:"rationale"`
	Citations  []string           `json:"citations,omitempty"`
	Confidence float64            `json:"confidence"`
	Round      int                `json:"round"`
	Valid      bool               `json:"is_valid"`
	Fallback   bool               `json:"fallback,omitempty"`
	Problems   []string           `json:"problems,omitempty"`
}

// NodeError is a structured record of a captured step failure.
type NodeError struct {
	Node string `json:"node"`
	Step string `json:"step"`
	Err  string `json:"error"`
}

// Verdict is the terminal judgment of one run.
type Verdict string

const (
	VerdictPass     Verdict = "pass"
	VerdictFail     Verdict = "fail"
	VerdictEscalate Verdict = "escalate"
)

// CriterionResult is the synthesized outcome for one rubric criterion.
type CriterionResult struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	FinalScore    float64            `json:"final_score"`
	Rationale     string             `json:"rationale"`
	PersonaScores map[string]float64 `json:"persona_scores"`
	LowConfidence bool               `json:"low_confidence,omitempty"`
}

// Report is the single synthesized output of a run. It is created
// exactly once by the synthesis step and never mutated afterwards.
type Report struct {
	RunID                 string            `json:"run_id"`
	Target                Target            `json:"target"`
	Criteria              []CriterionResult `json:"criteria"`
	Dissent               []string          `json:"dissent,omitempty"`
	OverridesApplied      []string          `json:"overrides_applied,omitempty"`
	OverallScore          float64           `json:"overall_score"`
	Verdict               Verdict           `json:"verdict"`
	ReevaluationWarranted bool              `json:"reevaluation_warranted,omitempty"`
	Degraded              bool              `json:"degraded,omitempty"`
	Summary               string            `json:"summary"`
}
