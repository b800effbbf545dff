// Package render turns a finished audit into human-readable output.
package render

import (
	"fmt"
	"sort"
	"strings"

	"gavel/internal/audit"
)

// Markdown renders the report plus a run snapshot summary. Ordering is
// fixed everywhere: criteria in report order, personas and evidence
// dimensions sorted, so the same result renders the same document.
func Markdown(res *audit.Result) string {
	report := res.Report
	var b strings.Builder

	fmt.Fprintf(&b, "# Audit Report\n\n")
	fmt.Fprintf(&b, "## Executive Summary\n\n%s\n\n", report.Summary)
	fmt.Fprintf(&b, "- Run: `%s`\n", report.RunID)
	if report.Target.RepoURL != "" {
		fmt.Fprintf(&b, "- Repo: `%s`\n", report.Target.RepoURL)
	}
	if report.Target.DocPath != "" {
		fmt.Fprintf(&b, "- Document: `%s`\n", report.Target.DocPath)
	}
	fmt.Fprintf(&b, "- Overall Score: **%.2f**\n", report.OverallScore)
	fmt.Fprintf(&b, "- Verdict: **%s**\n", report.Verdict)
	if report.Degraded {
		b.WriteString("- Run quality: **degraded** (see run log below)\n")
	}
	if report.ReevaluationWarranted {
		b.WriteString("- Re-evaluation warranted: score variance exceeded the configured bound\n")
	}
	b.WriteString("\n")

	b.WriteString("## Criterion Breakdown\n\n")
	for _, c := range report.Criteria {
		fmt.Fprintf(&b, "### %s (`%s`)\n\n", c.Name, c.ID)
		fmt.Fprintf(&b, "- Final Score: **%.2f**\n", c.FinalScore)
		for _, persona := range sortedKeys(c.PersonaScores) {
			fmt.Fprintf(&b, "- %s: **%.2f**\n", persona, c.PersonaScores[persona])
		}
		if c.LowConfidence {
			b.WriteString("- Dissent: panel spread exceeded the configured bound; treat this score as low-confidence\n")
		}
		if c.Rationale != "" {
			fmt.Fprintf(&b, "- Rationale: %s\n", c.Rationale)
		}
		b.WriteString("\n")
	}

	if len(report.OverridesApplied) > 0 {
		b.WriteString("## Synthesis Overrides\n\n")
		for _, o := range report.OverridesApplied {
			fmt.Fprintf(&b, "- `%s`\n", o)
		}
		b.WriteString("\n")
	}

	if res.State != nil {
		renderRunLog(&b, res.State)
	}
	return b.String()
}

func renderRunLog(b *strings.Builder, state *audit.RunState) {
	b.WriteString("## Run Log\n\n")
	fmt.Fprintf(b, "- Rounds: %d\n", state.Rounds)

	for _, dim := range sortedFindingDims(state.Findings) {
		fmt.Fprintf(b, "- `%s`: %d findings\n", dim, len(state.Findings[dim]))
	}

	if len(state.NodeErrors) > 0 {
		b.WriteString("\n### Node Errors\n\n")
		for _, ne := range state.NodeErrors {
			if ne.Step != "" {
				fmt.Fprintf(b, "- %s/%s: %s\n", ne.Node, ne.Step, ne.Err)
			} else {
				fmt.Fprintf(b, "- %s: %s\n", ne.Node, ne.Err)
			}
		}
	}

	raised := raisedFlags(state.Flags)
	if len(raised) > 0 {
		b.WriteString("\n### Flags\n\n")
		for _, f := range raised {
			fmt.Fprintf(b, "- `%s`\n", f)
		}
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFindingDims(m map[string][]audit.Finding) []string {
	dims := make([]string, 0, len(m))
	for d := range m {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	return dims
}

func raisedFlags(flags map[string]bool) []string {
	var raised []string
	for name, up := range flags {
		if up {
			raised = append(raised, name)
		}
	}
	sort.Strings(raised)
	return raised
}
