package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/choice-lab/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve dcesim tools over the Model Context Protocol",
		Long: `Run an MCP server on stdin/stdout exposing the dce_simulate, dce_load
and dce_runs tools, plus each run's sampler data as a resource.

Logs go to stderr. Tool calls are recorded in .dcesim/audit.jsonl.

Example client configuration:
  {"command": "dcesim", "args": ["mcp-server", "--root", "/path/to/project"]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			root, err := filepath.Abs(a.root)
			if err != nil {
				return fmt.Errorf("resolving project root: %w", err)
			}
			srv, err := mcp.NewServer(&mcp.Config{
				Name:     "dcesim",
				Version:  version,
				Root:     root,
				Settings: a.cfg,
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}
			a.logger.Info("mcp server starting", "root", root)
			return srv.Run(cmd.Context())
		},
	}
}
