package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all ElderGuard tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("elderguard", "0.1.0")
	client := NewClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetRiskAssessment, h.HandleGetRiskAssessment)
	s.AddTool(ToolListRecentAlerts, h.HandleListRecentAlerts)
	s.AddTool(ToolTriggerReview, h.HandleTriggerReview)
	s.AddTool(ToolRecordEmergencyInteraction, h.HandleRecordEmergencyInteraction)

	return s
}
