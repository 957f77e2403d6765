package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/pulse/internal/mcp/handlers"
)

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Presence  handlers.Presence
	Notifier  handlers.Notifier
	Directory handlers.Directory
	Version   string
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"Pulse",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}
