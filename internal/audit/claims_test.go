package audit

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestVerifyClaims(t *testing.T) {
	got := VerifyClaims(
		[]string{"src/graph.py", "src/missing.py"},
		[]string{"src/graph.py", "README.md"},
	)
	want := ClaimCheck{
		Verified:     []string{"src/graph.py"},
		Hallucinated: []string{"src/missing.py"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("claim check (-want +got):\n%s", diff)
	}
}

func claimState(findings ...Finding) *RunState {
	s := NewRunState(Target{})
	for _, f := range findings {
		s.Findings[f.Dimension] = append(s.Findings[f.Dimension], f)
	}
	return s
}

func TestClaimVerification_RecordsPathCheck(t *testing.T) {
	state := claimState(
		Finding{
			Dimension:  "report_accuracy",
			Bucket:     BucketClaimedPaths,
			Content:    "src/graph.py\nsrc/missing.py",
			SourceNode: "doc_analyst",
		},
		Finding{
			Dimension:  "report_accuracy",
			Bucket:     BucketFileInventory,
			Content:    `["src/graph.py", "README.md"]`,
			SourceNode: "repo_investigator",
		},
	)

	delta, err := claimVerification().Run(context.Background(), state)
	if err != nil {
		t.Fatalf("claim verification: %v", err)
	}
	checks := delta.Findings["report_accuracy"]
	if len(checks) != 1 {
		t.Fatalf("findings = %d, want 1 path check", len(checks))
	}
	got := checks[0]
	if got.Bucket != BucketPathCheck || got.SourceNode != NodeEvidence {
		t.Errorf("path check malformed: %+v", got)
	}
	if !strings.Contains(got.Content, "src/missing.py") {
		t.Errorf("hallucinated path missing from payload: %s", got.Content)
	}
	if !strings.Contains(got.Content, `"verified_paths"`) {
		t.Errorf("payload missing verified split: %s", got.Content)
	}
}

func TestClaimVerification_MissingSideIsNoop(t *testing.T) {
	state := claimState(Finding{
		Dimension:  "report_accuracy",
		Bucket:     BucketClaimedPaths,
		Content:    "src/graph.py",
		SourceNode: "doc_analyst",
	})

	delta, err := claimVerification().Run(context.Background(), state)
	if err != nil {
		t.Fatalf("claim verification: %v", err)
	}
	if len(delta.Findings) != 0 {
		t.Errorf("expected empty delta without an inventory, got %+v", delta.Findings)
	}
}

func TestClaimVerification_BadInventoryPayloadIsFatal(t *testing.T) {
	state := claimState(
		Finding{
			Dimension:  "report_accuracy",
			Bucket:     BucketClaimedPaths,
			Content:    "src/graph.py",
			SourceNode: "doc_analyst",
		},
		Finding{
			Dimension:  "report_accuracy",
			Bucket:     BucketFileInventory,
			Content:    "not json",
			SourceNode: "repo_investigator",
		},
	)

	if _, err := claimVerification().Run(context.Background(), state); err == nil {
		t.Error("expected error for undecodable inventory payload")
	}
}
