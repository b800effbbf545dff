package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gavel/pkg/engine"
)

// Buckets correlated by the claim verification step. Analysts that
// report document path claims or the repository file inventory use
// these names so the evidence barrier can match the two up.
const (
	BucketClaimedPaths  = "claimed_paths"
	BucketFileInventory = "file_inventory"
	BucketPathCheck     = "path_verification"
)

// ClaimCheck splits document path claims into those present in the
// repository inventory and those that are not.
type ClaimCheck struct {
	Verified     []string `json:"verified_paths"`
	Hallucinated []string `json:"hallucinated_paths"`
}

// VerifyClaims checks claimed paths against the repository file list,
// preserving claim order.
func VerifyClaims(claimed, repoFiles []string) ClaimCheck {
	inRepo := make(map[string]bool, len(repoFiles))
	for _, f := range repoFiles {
		inRepo[f] = true
	}
	var check ClaimCheck
	for _, p := range claimed {
		if inRepo[p] {
			check.Verified = append(check.Verified, p)
		} else {
			check.Hallucinated = append(check.Hallucinated, p)
		}
	}
	return check
}

// claimVerification cross-references the document's claimed paths
// against the repository inventory and records the split as evidence.
// With either side missing there is nothing to verify and the step
// contributes an empty delta. It shares the evidence barrier with
// evidenceAggregation; a decode failure here means a producer broke
// its payload contract and is deliberately fatal.
func claimVerification() engine.Step[*RunState, Delta] {
	return engine.StepFunc[*RunState, Delta]{
		ID: "claim_verification",
		Fn: func(_ context.Context, snap *RunState) (Delta, error) {
			claims, okClaims := findByBucket(snap.Findings, BucketClaimedPaths)
			inv, okInv := findByBucket(snap.Findings, BucketFileInventory)
			if !okClaims || !okInv {
				return Delta{}, nil
			}

			var repoFiles []string
			if err := json.Unmarshal([]byte(inv.Content), &repoFiles); err != nil {
				return Delta{}, fmt.Errorf("decode %s payload from %s: %w", BucketFileInventory, inv.SourceNode, err)
			}

			check := VerifyClaims(splitClaimLines(claims.Content), repoFiles)
			payload, err := json.MarshalIndent(check, "", "  ")
			if err != nil {
				return Delta{}, err
			}

			return Delta{
				Findings: map[string][]Finding{
					claims.Dimension: {{
						Dimension:  claims.Dimension,
						Bucket:     BucketPathCheck,
						Confidence: 0.9,
						Content:    string(payload),
						SourceNode: NodeEvidence,
					}},
				},
			}, nil
		},
	}
}

// findByBucket returns the first non-error finding with the given
// bucket, scanning dimensions in sorted order for determinism.
func findByBucket(findings map[string][]Finding, bucket string) (Finding, bool) {
	dims := make([]string, 0, len(findings))
	for dim := range findings {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	for _, dim := range dims {
		for _, f := range findings[dim] {
			if f.Bucket == bucket && !f.IsError {
				return f, true
			}
		}
	}
	return Finding{}, false
}

func splitClaimLines(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
