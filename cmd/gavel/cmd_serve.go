package main

import (
	"github.com/spf13/cobra"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"gavel/internal/audit"
	"gavel/internal/logging"
	mcpserver "gavel/internal/mcp"
)

var serveConfigFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio",
	Long: `Starts an MCP server over stdin/stdout exposing run_audit and get_report,
so an MCP client can trigger audits and fetch results directly.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigFlag, "config", "", "YAML config file overriding defaults")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := audit.DefaultConfig()
	if serveConfigFlag != "" {
		loaded, err := audit.LoadConfig(serveConfigFlag)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	srv := mcpserver.NewServer(cfg)
	logging.New("mcp").Info("starting gavel MCP server over stdio")
	return srv.MCPServer.Run(cmd.Context(), &sdkmcp.StdioTransport{})
}
