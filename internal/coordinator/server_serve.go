package coordinator

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
)

// This file contains server startup methods that start blocking servers and
// are exercised by the coordinator daemon rather than unit tests.

// ServeStdio runs the MCP server over stdin/stdout until the input closes
func (ms *MCPServer) ServeStdio(logger *slog.Logger) error {
	logger.Info("Starting MCP server with stdio transport")
	return server.ServeStdio(ms.server)
}

// NewSSEServer builds the MCP HTTP/SSE transport for addr under /mcp
func (ms *MCPServer) NewSSEServer(addr string) *server.SSEServer {
	return server.NewSSEServer(ms.server,
		server.WithBaseURL("http://"+addr),
		server.WithStaticBasePath("/mcp"),
	)
}
