package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Aegis tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("aegis", "1.0.0")
	client := NewAegisClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetWalletInsights, h.HandleGetWalletInsights)
	s.AddTool(ToolGetNetworkGraph, h.HandleGetNetworkGraph)
	s.AddTool(ToolGetRecentSignals, h.HandleGetRecentSignals)
	s.AddTool(ToolGetSensitivityStatus, h.HandleGetSensitivityStatus)
	s.AddTool(ToolGetForecast, h.HandleGetForecast)
	s.AddTool(ToolGetPipelineStatus, h.HandleGetPipelineStatus)
	s.AddTool(ToolSubmitTransaction, h.HandleSubmitTransaction)

	return s
}
