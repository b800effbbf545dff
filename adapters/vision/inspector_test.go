package vision

import (
	"context"
	"testing"

	"gavel/internal/audit"
)

func TestCollect_ReportsScaffoldedStatus(t *testing.T) {
	findings, err := NewInspector().Collect(context.Background(), audit.Target{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	f := findings[0]
	if f.Dimension != "diagram_analysis" || f.SourceNode != "vision_inspector" {
		t.Errorf("finding misattributed: %+v", f)
	}
	if f.Confidence >= 0.7 {
		t.Errorf("confidence = %v, scaffold evidence must stay low-grade", f.Confidence)
	}
	if f.IsError {
		t.Error("scaffolded status is evidence, not an error")
	}
}
