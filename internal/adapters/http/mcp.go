package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/paperless-ai-queue/internal/core/ports"
	"github.com/kirillkom/paperless-ai-queue/internal/core/usecase"
)

const (
	mcpServerName    = "paperless-ai-queue"
	mcpServerVersion = "1.0.0"
	mcpEndpointPath  = "/mcp"
)

var mcpToolDescriptions = map[string]string{
	usecase.ToolSearchTags:           "Search existing tags of a document-store instance by name.",
	usecase.ToolSearchCorrespondents: "Search existing correspondents of a document-store instance by name.",
	usecase.ToolSearchDocumentTypes:  "Search existing document types of a document-store instance by name.",
}

// newMCPServer exposes the read-only entity search tools over MCP.
func newMCPServer(search ports.EntitySearch) *server.MCPServer {
	s := server.NewMCPServer(mcpServerName, mcpServerVersion, server.WithToolCapabilities(false))
	for _, name := range usecase.SearchToolNames {
		tool := mcp.NewTool(name,
			mcp.WithDescription(mcpToolDescriptions[name]),
			mcp.WithString("instanceId", mcp.Required(), mcp.Description("Document-store instance id.")),
			mcp.WithString("query", mcp.Description("Case-insensitive part of the name. Empty returns everything.")),
		)
		s.AddTool(tool, searchToolHandler(search, name))
	}
	return s
}

func searchToolHandler(search ports.EntitySearch, tool string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		instanceID, err := req.RequireString("instanceId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		entities, err := search.Search(ctx, instanceID, tool, req.GetString("query", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		encoded, err := json.Marshal(entities)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(encoded)), nil
	}
}

func newMCPHandler(search ports.EntitySearch) http.Handler {
	return server.NewStreamableHTTPServer(
		newMCPServer(search),
		server.WithEndpointPath(mcpEndpointPath),
		server.WithStateLess(true),
	)
}
