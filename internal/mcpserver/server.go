// Package mcpserver exposes the burst, baud-sweep, stress, and
// status-snapshot surfaces as Model Context Protocol tools over stdio, so an AI agent can
// drive the harness the same way an MCP client drives melisai's system
// diagnostics.
package mcpserver

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the MCP server instance.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server with registered tools.
func NewServer(version string) *Server {
	s := server.NewMCPServer("uartstress", version, server.WithLogging())
	registerTools(s)
	return &Server{mcpServer: s}
}

// Start runs the server in stdio mode (blocking).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools adds all supported tools to the server.
func registerTools(s *server.MCPServer) {
	burstTool := mcp.NewTool("run_burst",
		mcp.WithDescription("Run a paced echo burst against the device and return sent/received/latency/status-delta results as JSON. Opens the serial device for the duration of the call."),
		mcp.WithString("device",
			mcp.Required(),
			mcp.Description("Serial device path, e.g. /dev/ttyUSB0"),
		),
		mcp.WithNumber("baud",
			mcp.Description("Initial baud rate"),
		),
		mcp.WithNumber("samples",
			mcp.Description("Echoes to publish per iteration"),
		),
		mcp.WithNumber("length",
			mcp.Description("Echo message length in bytes"),
		),
		mcp.WithNumber("num_times",
			mcp.Description("Number of burst iterations"),
		),
	)
	s.AddTool(burstTool, handleRunBurst)

	sweepTool := mcp.NewTool("run_baud_sweep",
		mcp.WithDescription("Sweep a list of baud rates, publishing echoes and taking a status snapshot at each rate. Restores the original baud rate when done."),
		mcp.WithString("device",
			mcp.Required(),
			mcp.Description("Serial device path, e.g. /dev/ttyUSB0"),
		),
		mcp.WithNumber("baud",
			mcp.Description("Initial baud rate to restore at the end of the sweep"),
		),
	)
	s.AddTool(sweepTool, handleRunBaudSweep)

	stressTool := mcp.NewTool("run_stress",
		mcp.WithDescription("Run the default stress scenario suite (echo_only, mixed, status_poll, baud_flip, noise_and_recovery) and return a pass/warn/fail verdict report as JSON."),
		mcp.WithString("device",
			mcp.Required(),
			mcp.Description("Serial device path, e.g. /dev/ttyUSB0"),
		),
		mcp.WithNumber("baud",
			mcp.Description("Initial baud rate"),
		),
	)
	s.AddTool(stressTool, handleRunStress)

	statusTool := mcp.NewTool("run_status_snapshot",
		mcp.WithDescription("Request a full status snapshot (14 statistics slots, 9 task slots) from the device and return it as JSON."),
		mcp.WithString("device",
			mcp.Required(),
			mcp.Description("Serial device path, e.g. /dev/ttyUSB0"),
		),
		mcp.WithNumber("baud",
			mcp.Description("Baud rate"),
		),
	)
	s.AddTool(statusTool, handleRunStatusSnapshot)
}
