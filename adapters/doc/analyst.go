// Package doc implements the document analyst: it ingests the target's
// accompanying report (markdown or plain text), splits it into
// overlapping chunks, and derives findings about claimed file paths and
// theoretical vocabulary.
package doc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gavel/internal/audit"
	"gavel/internal/logging"
)

// Concept vocabulary whose presence in the report signals theoretical
// depth. Matched case-insensitively against the whole document.
var depthTerms = []string{
	"dialectical synthesis",
	"fan-in",
	"fan-out",
	"metacognition",
	"state synchronization",
}

// Claimed paths look like relative file references with at least one
// directory component and an extension.
var claimedPathPattern = regexp.MustCompile(`\b[A-Za-z0-9_.-]+(?:/[A-Za-z0-9_.-]+)+\.[A-Za-z0-9]+\b`)

var whitespacePattern = regexp.MustCompile(`\s+`)

// Analyst collects document evidence for an audit run.
type Analyst struct {
	// ChunkSize is the chunk length in bytes; 1600 when zero.
	ChunkSize int
	// Overlap is how much consecutive chunks share; 200 when zero.
	Overlap int
}

// NewAnalyst returns an Analyst with default chunking.
func NewAnalyst() *Analyst {
	return &Analyst{ChunkSize: 1600, Overlap: 200}
}

func (a *Analyst) Name() string { return "doc_analyst" }

// Collect ingests the document at target.DocPath and produces depth and
// path-claim findings. A missing or empty document is an error; the
// pipeline captures it as evidence of absence.
func (a *Analyst) Collect(_ context.Context, target audit.Target) ([]audit.Finding, error) {
	if target.DocPath == "" {
		return nil, fmt.Errorf("no document supplied")
	}
	raw, err := os.ReadFile(target.DocPath)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	text := normalize(string(raw))
	if text == "" {
		return nil, fmt.Errorf("document %s is empty after normalization", target.DocPath)
	}
	chunks := Chunk(text, a.chunkSize(), a.overlap())

	claimed := ExtractClaimedPaths(text)
	depth := depthEvidence{
		Terms:    scanDepthTerms(text),
		Excerpts: QueryChunks(chunks, strings.Join(depthTerms, " "), 2),
	}

	logging.New(a.Name()).Info("document evidence collected",
		"doc", target.DocPath, "chunks", len(chunks), "claimed_paths", len(claimed))

	findings := []audit.Finding{
		{
			Dimension:  "theoretical_depth",
			Bucket:     "depth_terms",
			Confidence: 0.75,
			Content:    mustJSON(depth),
			SourceNode: a.Name(),
		},
		{
			Dimension:  "report_accuracy",
			Bucket:     audit.BucketClaimedPaths,
			Confidence: 0.8,
			Content:    strings.Join(claimed, "\n"),
			SourceNode: a.Name(),
		},
	}
	return findings, nil
}

// depthEvidence is the depth finding payload: which vocabulary terms
// the document uses, plus the chunks most relevant to that vocabulary.
type depthEvidence struct {
	Terms    map[string]bool `json:"terms"`
	Excerpts []string        `json:"excerpts"`
}

func (a *Analyst) chunkSize() int {
	if a.ChunkSize > 0 {
		return a.ChunkSize
	}
	return 1600
}

func (a *Analyst) overlap() int {
	if a.Overlap > 0 {
		return a.Overlap
	}
	return 200
}

func normalize(text string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

// Chunk splits text into size-byte windows advancing by size-overlap.
func Chunk(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	step := size - overlap
	if step < 1 {
		step = 1
	}
	var chunks []string
	for i := 0; i < len(text); i += step {
		end := i + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[i:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}

// QueryChunks ranks chunks by keyword overlap with the question and
// returns the top k. With no scoring signal it falls back to the first
// k chunks rather than returning nothing.
func QueryChunks(chunks []string, question string, k int) []string {
	keywords := regexp.MustCompile(`[A-Za-z]{4,}`).FindAllString(strings.ToLower(question), -1)

	type scored struct {
		score int
		index int
	}
	ranked := make([]scored, len(chunks))
	for i, chunk := range chunks {
		lower := strings.ToLower(chunk)
		s := 0
		for _, kw := range keywords {
			s += strings.Count(lower, kw)
		}
		ranked[i] = scored{score: s, index: i}
	}
	// stable by original position on ties
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].score > ranked[j-1].score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	var out []string
	for _, r := range ranked {
		if len(out) == k {
			break
		}
		if r.score > 0 {
			out = append(out, chunks[r.index])
		}
	}
	if len(out) > 0 {
		return out
	}
	if len(chunks) > k {
		return chunks[:k]
	}
	return chunks
}

// ExtractClaimedPaths returns the distinct relative file paths the
// document mentions, in first-occurrence order.
func ExtractClaimedPaths(text string) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, p := range claimedPathPattern.FindAllString(text, -1) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	return paths
}

func scanDepthTerms(text string) map[string]bool {
	lower := strings.ToLower(text)
	hits := make(map[string]bool, len(depthTerms))
	for _, term := range depthTerms {
		hits[term] = strings.Contains(lower, term)
	}
	return hits
}

func mustJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
