package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://github.com/acme/widget", false},
		{"https://github.com/acme/widget.git", false},
		{"https://github.com/acme/my-repo_v2.1", false},
		{"http://github.com/acme/widget", true},
		{"https://gitlab.com/acme/widget", true},
		{"git@github.com:acme/widget.git", true},
		{"https://github.com/acme", true},
		{"https://github.com/acme/widget; rm -rf /", true},
		{"", true},
	}

	for _, tc := range tests {
		err := ValidateURL(tc.url)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateURL(%q) = %v, wantErr %t", tc.url, err, tc.wantErr)
		}
	}
}

func TestParseCommits(t *testing.T) {
	out := "abc123|2026-01-02T10:00:00+00:00|initial scaffold\n" +
		"def456|2026-01-03T11:30:00+00:00|add state reducers\n" +
		"malformed line without separators\n" +
		"0a1b2c|2026-01-04T09:15:00+00:00|wire graph | with pipe in message"

	got := parseCommits(out)
	want := []Commit{
		{Hash: "abc123", Timestamp: "2026-01-02T10:00:00+00:00", Message: "initial scaffold"},
		{Hash: "def456", Timestamp: "2026-01-03T11:30:00+00:00", Message: "add state reducers"},
		{Hash: "0a1b2c", Timestamp: "2026-01-04T09:15:00+00:00", Message: "wire graph | with pipe in message"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("commits (-want +got):\n%s", diff)
	}
}

func writeFixture(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestInventory_SkipsGitInternals(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "src/graph.py", "x = 1\n")
	writeFixture(t, root, "README.md", "# target\n")
	writeFixture(t, root, ".git/HEAD", "ref: refs/heads/main\n")

	got, err := inventory(root)
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	want := []string{"README.md", "src/graph.py"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("inventory (-want +got):\n%s", diff)
	}
}

func TestScanOrchestration(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "src/graph.py", `
builder = StateGraph(AgentState)
builder.add_edge("evidence", "prosecutor")
builder.add_edge("evidence", "defense")
builder.add_edge("prosecutor", "aggregate")
builder.add_conditional_edges("aggregate", route_after_aggregate)
`)
	writeFixture(t, root, "src/state.py", "class AgentState(TypedDict):\n    pass\n")
	writeFixture(t, root, "notes.md", "add_edge mentioned in prose is not source\n")

	files, err := inventory(root)
	if err != nil {
		t.Fatal(err)
	}
	got := scanOrchestration(root, files)

	if diff := cmp.Diff([]string{"src/graph.py"}, got.GraphFiles); diff != "" {
		t.Errorf("graph files (-want +got):\n%s", diff)
	}
	if got.EdgeCount != 3 || got.ConditionalCount != 1 {
		t.Errorf("edges=%d conditionals=%d, want 3 and 1", got.EdgeCount, got.ConditionalCount)
	}
	if diff := cmp.Diff([]string{"evidence"}, got.FanOutNodes); diff != "" {
		t.Errorf("fan-out nodes (-want +got):\n%s", diff)
	}
	if !got.HasParallelism {
		t.Error("out-degree 2 must register as a parallel pattern")
	}
}

func TestScanStateManagement(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "src/state.py", `
import operator
from typing import Annotated, TypedDict
from pydantic import BaseModel

class Evidence(BaseModel):
    goal: str

class AgentState(TypedDict):
    evidences: Annotated[dict, operator.ior]
`)

	files, err := inventory(root)
	if err != nil {
		t.Fatal(err)
	}
	got := scanStateManagement(root, files)

	if len(got.StateFiles) != 1 || got.TypedModels != 2 {
		t.Errorf("state files=%v models=%d, want 1 file and 2 models", got.StateFiles, got.TypedModels)
	}
	if !got.ReducersDetected["operator.ior"] || got.ReducersDetected["operator.add"] {
		t.Errorf("reducers = %v, want only operator.ior detected", got.ReducersDetected)
	}
}
