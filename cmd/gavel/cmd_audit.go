package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"gavel/adapters/doc"
	"gavel/adapters/panel"
	"gavel/adapters/repo"
	"gavel/adapters/vision"
	"gavel/internal/audit"
	"gavel/internal/render"
)

var (
	flagRepoURL string
	flagDoc     string
	flagRubric  string
	flagConfig  string
	flagOut     string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run one audit and write the report",
	Long: `Runs the full pipeline against a repository and its accompanying report,
then writes report.json and report.md into the output directory.

Exit code reflects pipeline health, not the verdict: a completed audit
with a "fail" verdict still exits 0.`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&flagRepoURL, "repo-url", "", "HTTPS GitHub URL of the repository under audit (required)")
	auditCmd.Flags().StringVar(&flagDoc, "doc", "", "path to the accompanying report (markdown or plain text)")
	auditCmd.Flags().StringVar(&flagRubric, "rubric", "", "YAML rubric file overriding the built-in criteria")
	auditCmd.Flags().StringVar(&flagConfig, "config", "", "YAML config file overriding defaults")
	auditCmd.Flags().StringVar(&flagOut, "out", "audit-output", "output directory for report.json and report.md")
	_ = auditCmd.MarkFlagRequired("repo-url")
}

func runAudit(cmd *cobra.Command, _ []string) error {
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}

	runner := &audit.Runner{
		Config: cfg,
		Analysts: []audit.Analyst{
			repo.NewInvestigator(),
			doc.NewAnalyst(),
			vision.NewInspector(),
		},
		Reviewers: panel.DefaultPanel(),
	}

	res, err := runner.Run(cmd.Context(), audit.Target{RepoURL: flagRepoURL, DocPath: flagDoc})
	if err != nil {
		return err
	}

	if err := writeReport(flagOut, res); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "verdict: %s (overall %.2f)\nreport written to %s\n",
		res.Report.Verdict, res.Report.OverallScore, flagOut)
	return nil
}

func loadRunConfig() (audit.Config, error) {
	cfg := audit.DefaultConfig()
	if flagConfig != "" {
		loaded, err := audit.LoadConfig(flagConfig)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if flagRubric != "" {
		criteria, err := audit.LoadRubric(flagRubric)
		if err != nil {
			return cfg, err
		}
		cfg.Criteria = criteria
	}
	return cfg, cfg.Validate()
}

func writeReport(dir string, res *audit.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	raw, err := json.MarshalIndent(res.Report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.json"), raw, 0o644); err != nil {
		return fmt.Errorf("write report.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(render.Markdown(res)), 0o644); err != nil {
		return fmt.Errorf("write report.md: %w", err)
	}
	return nil
}
