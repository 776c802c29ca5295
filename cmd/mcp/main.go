// Staking farm MCP server.
// Exposes farm tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcptools "github.com/gateway-fm/stakefarm/internal/mcp"
)

func main() {
	farmURL := os.Getenv("STAKEFARM_URL")
	if farmURL == "" {
		farmURL = "http://localhost:3002"
	}

	s := server.NewMCPServer(
		"stakefarm",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(farmURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
