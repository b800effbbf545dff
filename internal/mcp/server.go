// Package mcp exposes the audit pipeline over the Model Context
// Protocol: run_audit executes one audit of a target, get_report
// returns the last completed run.
package mcp

import (
	"context"
	"fmt"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"gavel/adapters/doc"
	"gavel/adapters/panel"
	"gavel/adapters/repo"
	"gavel/adapters/vision"
	"gavel/internal/audit"
	"gavel/internal/logging"
	"gavel/internal/render"
)

// Server wraps the MCP SDK server around the audit runner. One audit
// runs at a time; the last result is kept for get_report.
type Server struct {
	MCPServer *sdkmcp.Server
	Config    audit.Config

	mu      sync.Mutex
	running bool
	last    *audit.Result
}

// NewServer creates an MCP server with the audit tools registered.
func NewServer(cfg audit.Config) *Server {
	s := &Server{Config: cfg}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "gavel", Version: "dev"},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "run_audit",
		Description: "Run a full audit of a repository and its accompanying report. Blocks until the verdict is synthesized.",
	}, s.handleRunAudit)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_report",
		Description: "Get the report of the last completed audit, as structured data plus rendered markdown.",
	}, s.handleGetReport)
}

type runAuditInput struct {
	RepoURL string `json:"repo_url" jsonschema:"HTTPS GitHub URL of the repository under audit"`
	DocPath string `json:"doc_path,omitempty" jsonschema:"path to the accompanying report (markdown or plain text)"`
}

type runAuditOutput struct {
	RunID        string        `json:"run_id"`
	Verdict      string        `json:"verdict"`
	OverallScore float64       `json:"overall_score"`
	Degraded     bool          `json:"degraded"`
	Dissent      []string      `json:"dissent,omitempty"`
	Report       *audit.Report `json:"report"`
}

type getReportInput struct{}

type getReportOutput struct {
	Report   *audit.Report `json:"report"`
	Markdown string        `json:"markdown"`
}

func (s *Server) handleRunAudit(ctx context.Context, _ *sdkmcp.CallToolRequest, input runAuditInput) (*sdkmcp.CallToolResult, runAuditOutput, error) {
	if err := repo.ValidateURL(input.RepoURL); err != nil {
		return nil, runAuditOutput{}, err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, runAuditOutput{}, fmt.Errorf("an audit is already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	runner := &audit.Runner{
		Config: s.Config,
		Analysts: []audit.Analyst{
			repo.NewInvestigator(),
			doc.NewAnalyst(),
			vision.NewInspector(),
		},
		Reviewers: panel.DefaultPanel(),
	}

	logging.New("mcp").Info("audit requested", "repo", input.RepoURL, "doc", input.DocPath)
	res, err := runner.Run(ctx, audit.Target{RepoURL: input.RepoURL, DocPath: input.DocPath})
	if err != nil {
		return nil, runAuditOutput{}, err
	}

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()

	return nil, runAuditOutput{
		RunID:        res.Report.RunID,
		Verdict:      string(res.Report.Verdict),
		OverallScore: res.Report.OverallScore,
		Degraded:     res.Report.Degraded,
		Dissent:      res.Report.Dissent,
		Report:       res.Report,
	}, nil
}

func (s *Server) handleGetReport(_ context.Context, _ *sdkmcp.CallToolRequest, _ getReportInput) (*sdkmcp.CallToolResult, getReportOutput, error) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	if last == nil {
		return nil, getReportOutput{}, fmt.Errorf("no audit has completed yet")
	}
	return nil, getReportOutput{
		Report:   last.Report,
		Markdown: render.Markdown(last),
	}, nil
}
