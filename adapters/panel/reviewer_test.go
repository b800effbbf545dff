package panel

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gavel/internal/audit"
)

func reviewRequest(findings map[string][]audit.Finding) audit.ReviewRequest {
	return audit.ReviewRequest{
		Findings: findings,
		Criteria: []audit.Criterion{
			{ID: "git_forensic_analysis", Name: "Git Forensic Analysis"},
			{ID: "graph_orchestration", Name: "Graph Orchestration"},
		},
		ScoreMin: 1,
		ScoreMax: 5,
		Round:    1,
	}
}

func strongEvidence() map[string][]audit.Finding {
	return map[string][]audit.Finding{
		"git_forensic_analysis": {
			{Dimension: "git_forensic_analysis", Bucket: "commit_history", Confidence: 0.9, SourceNode: "repo"},
			{Dimension: "git_forensic_analysis", Bucket: "branch_topology", Confidence: 0.9, SourceNode: "repo"},
		},
		"graph_orchestration": {
			{Dimension: "graph_orchestration", Bucket: "graph_topology", Confidence: 0.85, SourceNode: "repo"},
		},
	}
}

func TestReview_ScoresStayInRange(t *testing.T) {
	for _, persona := range []string{"Prosecutor", "Defense", "TechLead"} {
		op, err := New(persona).Review(context.Background(), reviewRequest(strongEvidence()))
		if err != nil {
			t.Fatalf("%s: %v", persona, err)
		}
		if len(op.Scores) != 2 {
			t.Errorf("%s scored %d criteria, want all 2", persona, len(op.Scores))
		}
		for id, s := range op.Scores {
			if s < 1 || s > 5 {
				t.Errorf("%s score %v for %s outside [1, 5]", persona, s, id)
			}
		}
		if op.Rationale == "" {
			t.Errorf("%s produced an empty rationale", persona)
		}
	}
}

func TestReview_PersonaBiasOrdering(t *testing.T) {
	// Partial evidence separates the personas: the prosecutor scores
	// strictly below the defense, the tech lead between or equal.
	findings := map[string][]audit.Finding{
		"git_forensic_analysis": {
			{Dimension: "git_forensic_analysis", Bucket: "commit_history", Confidence: 0.6, SourceNode: "repo"},
		},
	}
	req := reviewRequest(findings)

	score := func(persona string) float64 {
		op, err := New(persona).Review(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: %v", persona, err)
		}
		return op.Scores["git_forensic_analysis"]
	}

	p, d, l := score("Prosecutor"), score("Defense"), score("TechLead")
	if !(p < d) {
		t.Errorf("prosecutor %v must score below defense %v on partial evidence", p, d)
	}
	if l < p || l > d {
		t.Errorf("tech lead %v must sit between prosecutor %v and defense %v", l, p, d)
	}
}

func TestReview_NoEvidenceSinksProsecutor(t *testing.T) {
	op, err := New("Prosecutor").Review(context.Background(), reviewRequest(nil))
	if err != nil {
		t.Fatal(err)
	}
	for id, s := range op.Scores {
		if s != 1 {
			t.Errorf("prosecutor score %v for %s, want floor 1 with no evidence", s, id)
		}
	}
	if len(op.Citations) != 0 {
		t.Errorf("citations = %v, want none without evidence", op.Citations)
	}
}

func TestReview_ErrorFindingsDoNotCount(t *testing.T) {
	withError := map[string][]audit.Finding{
		"git_forensic_analysis": {
			{Dimension: "git_forensic_analysis", Bucket: "repo_error", Confidence: 0, IsError: true, SourceNode: "repo"},
		},
	}
	op, err := New("Prosecutor").Review(context.Background(), reviewRequest(withError))
	if err != nil {
		t.Fatal(err)
	}
	if op.Scores["git_forensic_analysis"] != 1 {
		t.Errorf("score = %v, error findings must contribute no support", op.Scores["git_forensic_analysis"])
	}
	for _, c := range op.Citations {
		if c == "repo_error" {
			t.Error("error buckets must not be cited as evidence")
		}
	}
}

func TestReview_Deterministic(t *testing.T) {
	req := reviewRequest(strongEvidence())
	r := New("TechLead")

	first, err := r.Review(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Review(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("same request produced different opinions (-first +second):\n%s", diff)
	}
}

func TestReview_CitationsSorted(t *testing.T) {
	op, err := New("Defense").Review(context.Background(), reviewRequest(strongEvidence()))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"branch_topology", "commit_history", "graph_topology"}
	if diff := cmp.Diff(want, op.Citations); diff != "" {
		t.Errorf("citations (-want +got):\n%s", diff)
	}
}

func TestReview_EmptyScoreRange(t *testing.T) {
	req := reviewRequest(nil)
	req.ScoreMax = req.ScoreMin
	if _, err := New("Defense").Review(context.Background(), req); err == nil {
		t.Error("expected error for empty score range")
	}
}

func TestDefaultPanel(t *testing.T) {
	seats := DefaultPanel()
	if len(seats) != 3 {
		t.Fatalf("panel size = %d, want 3", len(seats))
	}
	want := map[string]bool{"Defense": true, "Prosecutor": true, "TechLead": true}
	for _, s := range seats {
		if !want[s.Persona()] {
			t.Errorf("unexpected persona %q", s.Persona())
		}
		delete(want, s.Persona())
	}
}
