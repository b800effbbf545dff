package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gavel/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "gavel",
	Short: "Deterministic multi-agent repository audits",
	Long: "Gavel audits a repository and its accompanying report: parallel analysis\n" +
		"agents collect evidence, a biased reviewer panel scores it, and a\n" +
		"deterministic synthesis turns the opinions into a single verdict.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(*cobra.Command, []string) {
		logging.Init(logging.ParseLevel(flagLogLevel), flagLogFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log format (text, json)")
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
