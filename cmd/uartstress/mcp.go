package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/mcpserver"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start a Model Context Protocol (MCP) server over stdio",
		Long: `Starts a JSON-RPC server implementing the Model Context Protocol (MCP).
This lets an AI agent (e.g. Claude Desktop, Cursor) drive run_burst,
run_baud_sweep, run_stress, and run_status_snapshot interactively.

Communication happens over standard input/output (stdio).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcpserver.NewServer(version)
			return srv.Start(ctx)
		},
	}
}
