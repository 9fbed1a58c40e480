// Command mcp serves ElderGuard risk data over the Model Context
// Protocol on stdio, for use by LLM assistants working with care teams.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/elderguard/elderguard/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL:   envOrDefault("ELDERGUARD_API_URL", "http://localhost:8080"),
		APIToken: os.Getenv("ELDERGUARD_API_TOKEN"),
	}

	if cfg.APIToken == "" {
		fmt.Fprintln(os.Stderr, "ELDERGUARD_API_TOKEN is required (a care-team token)")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
