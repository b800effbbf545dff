// Package vision implements the diagram inspector. Visual analysis of
// architecture diagrams needs a model backend this module does not
// carry, so the inspector reports its scaffolded status as low-grade
// evidence instead of pretending to see anything.
package vision

import (
	"context"

	"gavel/internal/audit"
)

// Inspector is the scaffolded diagram analysis agent.
type Inspector struct{}

// NewInspector returns the scaffolded inspector.
func NewInspector() *Inspector { return &Inspector{} }

func (i *Inspector) Name() string { return "vision_inspector" }

// Collect emits a single honest finding: diagram inspection is wired
// into the pipeline but not executed. Low confidence keeps it from
// dominating evidence statistics.
func (i *Inspector) Collect(_ context.Context, _ audit.Target) ([]audit.Finding, error) {
	return []audit.Finding{{
		Dimension:  "diagram_analysis",
		Bucket:     "diagram_scaffold",
		Confidence: 0.6,
		Content:    "diagram inspection is scaffolded but not executed; no visual evidence was gathered",
		SourceNode: i.Name(),
	}}, nil
}
