// Package repo implements the repository investigator: it clones the
// target, reads its git history, and scans the working tree for
// orchestration and state-management signals. All subprocess work runs
// through exec.CommandContext, so a node timeout kills the child.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gavel/internal/audit"
	"gavel/internal/logging"
)

// Only HTTPS GitHub URLs are cloneable; anything else is rejected
// before a subprocess is spawned.
var repoURLPattern = regexp.MustCompile(`^https://github\.com/[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+(\.git)?$`)

// Investigator collects repository evidence for an audit run.
type Investigator struct {
	// GitBin is the git executable, "git" when empty.
	GitBin string
	// CloneDepth bounds history transfer; 100 when zero.
	CloneDepth int
	// MaxCommits bounds the commits embedded in evidence; 15 when zero.
	MaxCommits int
}

// NewInvestigator returns an Investigator with default limits.
func NewInvestigator() *Investigator {
	return &Investigator{GitBin: "git", CloneDepth: 100, MaxCommits: 15}
}

func (v *Investigator) Name() string { return "repo_investigator" }

// Collect clones the target into a throwaway directory and derives all
// repository findings from the clone. The directory is removed before
// returning; evidence carries extracted content, never paths into a
// temp tree.
func (v *Investigator) Collect(ctx context.Context, target audit.Target) ([]audit.Finding, error) {
	if err := ValidateURL(target.RepoURL); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "gavel_repo_")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	repoPath := filepath.Join(workDir, "target_repo")
	if err := v.clone(ctx, target.RepoURL, repoPath); err != nil {
		return nil, err
	}

	commits, err := v.gitHistory(ctx, repoPath)
	if err != nil {
		return nil, err
	}

	files, err := inventory(repoPath)
	if err != nil {
		return nil, fmt.Errorf("walk clone: %w", err)
	}

	graph := scanOrchestration(repoPath, files)
	state := scanStateManagement(repoPath, files)

	logging.New(v.Name()).Info("repository evidence collected",
		"repo", target.RepoURL, "commits", len(commits), "files", len(files))

	return []audit.Finding{
		{
			Dimension:  "git_forensic_analysis",
			Bucket:     "commit_history",
			Confidence: 0.9,
			Content:    mustJSON(truncCommits(commits, v.maxCommits())),
			SourceNode: v.Name(),
		},
		{
			Dimension:  "graph_orchestration",
			Bucket:     "graph_topology",
			Confidence: 0.85,
			Content:    mustJSON(graph),
			SourceNode: v.Name(),
		},
		{
			Dimension:  "state_management_rigor",
			Bucket:     "state_reducers",
			Confidence: 0.9,
			Content:    mustJSON(state),
			SourceNode: v.Name(),
		},
		{
			Dimension:  "report_accuracy",
			Bucket:     audit.BucketFileInventory,
			Confidence: 1.0,
			Content:    mustJSON(files),
			SourceNode: v.Name(),
		},
	}, nil
}

// ValidateURL rejects everything but HTTPS GitHub repository URLs.
func ValidateURL(repoURL string) error {
	if !repoURLPattern.MatchString(repoURL) {
		return fmt.Errorf("unsupported repo URL %q: expected an HTTPS GitHub URL", repoURL)
	}
	return nil
}

func (v *Investigator) gitBin() string {
	if v.GitBin != "" {
		return v.GitBin
	}
	return "git"
}

func (v *Investigator) maxCommits() int {
	if v.MaxCommits > 0 {
		return v.MaxCommits
	}
	return 15
}

func (v *Investigator) clone(ctx context.Context, repoURL, dst string) error {
	depth := v.CloneDepth
	if depth <= 0 {
		depth = 100
	}
	cmd := exec.CommandContext(ctx, v.gitBin(), "clone", "--depth", strconv.Itoa(depth), repoURL, dst)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone %s: %v: %s", repoURL, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Commit is one entry of the extracted history, oldest first.
type Commit struct {
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

func (v *Investigator) gitHistory(ctx context.Context, repoPath string) ([]Commit, error) {
	cmd := exec.CommandContext(ctx, v.gitBin(), "log", "--pretty=format:%H|%aI|%s", "--reverse")
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git log: %v", err)
	}
	return parseCommits(string(out)), nil
}

// parseCommits reads hash|iso-timestamp|subject lines; malformed lines
// are skipped rather than failing the whole history.
func parseCommits(out string) []Commit {
	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			continue
		}
		commits = append(commits, Commit{
			Hash:      strings.TrimSpace(parts[0]),
			Timestamp: strings.TrimSpace(parts[1]),
			Message:   strings.TrimSpace(parts[2]),
		})
	}
	return commits
}

func truncCommits(commits []Commit, max int) []Commit {
	if len(commits) > max {
		return commits[:max]
	}
	return commits
}

// inventory lists the clone's files as sorted slash paths relative to
// the root, excluding git internals.
func inventory(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// OrchestrationScan summarizes graph-wiring signals found in source.
type OrchestrationScan struct {
	GraphFiles       []string `json:"graph_files"`
	EdgeCount        int      `json:"edge_count"`
	ConditionalCount int      `json:"conditional_edge_count"`
	FanOutNodes      []string `json:"fan_out_nodes"`
	HasParallelism   bool     `json:"has_parallel_pattern"`
}

var (
	edgePattern        = regexp.MustCompile(`add_edge\(\s*["']?([\w.]+)["']?\s*,\s*["']?([\w.]+)["']?`)
	conditionalPattern = regexp.MustCompile(`add_conditional_edges\(`)
	graphFilePattern   = regexp.MustCompile(`StateGraph|add_edge|add_conditional_edges`)
)

// scanOrchestration greps source files for graph construction calls and
// derives fan-out from edge source out-degree. A text scan is coarse
// next to real parsing, but it is language-independent and never
// executes target code.
func scanOrchestration(root string, files []string) OrchestrationScan {
	scan := OrchestrationScan{}
	outDegree := make(map[string]int)

	for _, rel := range files {
		if !isSourceFile(rel) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			continue
		}
		src := string(raw)
		if !graphFilePattern.MatchString(src) {
			continue
		}
		scan.GraphFiles = append(scan.GraphFiles, rel)
		scan.ConditionalCount += len(conditionalPattern.FindAllString(src, -1))
		for _, m := range edgePattern.FindAllStringSubmatch(src, -1) {
			scan.EdgeCount++
			outDegree[m[1]]++
		}
	}

	for node, degree := range outDegree {
		if degree > 1 {
			scan.FanOutNodes = append(scan.FanOutNodes, node)
		}
	}
	sort.Strings(scan.FanOutNodes)
	scan.HasParallelism = len(scan.FanOutNodes) > 0
	return scan
}

// StateScan summarizes typed-state and reducer signals found in source.
type StateScan struct {
	StateFiles       []string        `json:"state_files"`
	TypedModels      int             `json:"typed_models"`
	ReducersDetected map[string]bool `json:"reducers_detected"`
}

var (
	statePattern = regexp.MustCompile(`BaseModel|TypedDict|Annotated\[`)
	modelPattern = regexp.MustCompile(`class\s+\w+\((?:[^)]*\b)?(?:BaseModel|TypedDict)\b`)
)

func scanStateManagement(root string, files []string) StateScan {
	scan := StateScan{ReducersDetected: map[string]bool{
		"operator.add": false,
		"operator.ior": false,
	}}

	for _, rel := range files {
		if !isSourceFile(rel) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			continue
		}
		src := string(raw)
		if !statePattern.MatchString(src) {
			continue
		}
		scan.StateFiles = append(scan.StateFiles, rel)
		scan.TypedModels += len(modelPattern.FindAllString(src, -1))
		for reducer := range scan.ReducersDetected {
			if strings.Contains(src, reducer) {
				scan.ReducersDetected[reducer] = true
			}
		}
	}
	return scan
}

func isSourceFile(rel string) bool {
	switch filepath.Ext(rel) {
	case ".py", ".go", ".ts", ".js":
		return true
	}
	return false
}

func mustJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
