package doc

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gavel/internal/audit"
)

func TestChunk(t *testing.T) {
	text := strings.Repeat("a", 10)

	got := Chunk(text, 4, 1)
	want := []string{"aaaa", "aaaa", "aaaa"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("chunks (-want +got):\n%s", diff)
	}

	if got := Chunk("", 4, 1); got != nil {
		t.Errorf("empty text produced chunks: %v", got)
	}
	// overlap >= size must still advance
	got = Chunk("abc", 2, 5)
	want = []string{"ab", "bc"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("degenerate overlap (-want +got):\n%s", diff)
	}
}

func TestQueryChunks(t *testing.T) {
	chunks := []string{
		"the graph uses a fan-out pattern for parallel detectives",
		"nothing relevant here",
		"synthesis combines opinions deterministically, synthesis is pure",
	}

	got := QueryChunks(chunks, "how does synthesis work?", 2)
	if len(got) == 0 || got[0] != chunks[2] {
		t.Errorf("top chunk = %q, want the synthesis chunk first", got)
	}

	// no keyword hits: fall back to the leading chunks
	got = QueryChunks(chunks, "zzzz", 2)
	if diff := cmp.Diff(chunks[:2], got); diff != "" {
		t.Errorf("fallback (-want +got):\n%s", diff)
	}
}

func TestExtractClaimedPaths(t *testing.T) {
	text := "See src/graph.py and reports/final.pdf; src/graph.py appears twice, " +
		"while plainword and trailing/slash/ are not paths."

	got := ExtractClaimedPaths(text)
	want := []string{"src/graph.py", "reports/final.pdf"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("paths (-want +got):\n%s", diff)
	}
}

func TestCollect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	body := `# Audit Report

The   pipeline uses fan-out and fan-in with dialectical synthesis.
Implementation lives in src/graph.py and src/state.py.
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	a := NewAnalyst()
	findings, err := a.Collect(context.Background(), audit.Target{DocPath: path})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("findings = %d, want 2", len(findings))
	}

	depth := findings[0]
	if depth.Dimension != "theoretical_depth" || !strings.Contains(depth.Content, `"fan-out": true`) {
		t.Errorf("depth finding malformed: %+v", depth)
	}
	if !strings.Contains(depth.Content, `"metacognition": false`) {
		t.Errorf("absent terms must be reported false: %s", depth.Content)
	}
	if !strings.Contains(depth.Content, "dialectical synthesis") {
		t.Errorf("depth finding must carry the matching excerpts: %s", depth.Content)
	}

	claims := findings[1]
	if claims.Dimension != "report_accuracy" || claims.Bucket != audit.BucketClaimedPaths {
		t.Errorf("claims finding malformed: %+v", claims)
	}
	if !strings.Contains(claims.Content, "src/graph.py") {
		t.Errorf("claims finding missing path: %s", claims.Content)
	}
	for _, f := range findings {
		if f.SourceNode != "doc_analyst" {
			t.Errorf("finding source = %q, want doc_analyst", f.SourceNode)
		}
	}
}

func TestCollect_MissingDocument(t *testing.T) {
	a := NewAnalyst()
	if _, err := a.Collect(context.Background(), audit.Target{DocPath: "/nonexistent/report.md"}); err == nil {
		t.Error("expected error for missing document")
	}
	if _, err := a.Collect(context.Background(), audit.Target{}); err == nil {
		t.Error("expected error for unset document path")
	}
}
