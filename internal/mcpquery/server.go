// Package mcpquery exposes a read-only MCP stdio tool server over
// completed recording sessions (SPEC_FULL.md §6 "added"): list_sessions,
// session_summary, and session_events. It is additive tooling around the
// CORE's recorded output, not a reimplementation of the symbolizing
// report renderer spec.md §1 excludes.
package mcpquery

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the MCP server instance.
type Server struct {
	mcpServer *server.MCPServer
	sessions  *SessionIndex
}

// NewServer creates an MCP server with the three session-query tools
// registered, rooted at sessionsDir.
func NewServer(version, sessionsDir string) *Server {
	idx := NewSessionIndex(sessionsDir)
	s := server.NewMCPServer("miniperf", version, server.WithLogging())
	registerTools(s, idx)
	return &Server{mcpServer: s, sessions: idx}
}

// Start runs the server in stdio mode (blocking).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func registerTools(s *server.MCPServer, idx *SessionIndex) {
	listTool := mcp.NewTool("list_sessions",
		mcp.WithDescription("List recorded session directories under the configured sessions root, newest first."),
	)
	s.AddTool(listTool, handleListSessions(idx))

	summaryTool := mcp.NewTool("session_summary",
		mcp.WithDescription("Summarize one recorded session: event counts by type and the process/thread ids observed."),
		mcp.WithString("dir",
			mcp.Required(),
			mcp.Description("Session directory, as returned by list_sessions."),
		),
	)
	s.AddTool(summaryTool, handleSessionSummary(idx))

	eventsTool := mcp.NewTool("session_events",
		mcp.WithDescription("Return the raw events of a recorded session, optionally filtered by event type."),
		mcp.WithString("dir",
			mcp.Required(),
			mcp.Description("Session directory, as returned by list_sessions."),
		),
		mcp.WithString("type",
			mcp.Description("Canonical EventType name to filter by (e.g. rooflineLoopStart); omit for all events."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of events to return (default 500)."),
			mcp.DefaultNumber(500),
		),
	)
	s.AddTool(eventsTool, handleSessionEvents(idx))
}
