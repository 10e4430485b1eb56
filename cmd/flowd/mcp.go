package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/flowd/internal/mcpserver"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve workflows as MCP tools on stdio",
	Long: `Run the MCP server on stdin/stdout. The workflow_run tool executes a
full design, implement, review workflow and returns the produced files
with the review verdict. Add it to an MCP host config, for example:

  {
    "mcpServers": {
      "flowd": {"command": "flowd", "args": ["mcp"]}
    }
  }`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Stdout is the MCP transport; logs must stay off it.
	logger, err := buildLogger(cfg, nil, true)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	srv, err := mcpserver.New(cfg, version, mcpserver.WithLogger(logger.Underlying()))
	if err != nil {
		return fmt.Errorf("create mcp server: %w", err)
	}
	return srv.Run(ctx)
}
