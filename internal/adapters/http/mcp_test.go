package httpadapter

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

func TestMCPSearchTools(t *testing.T) {
	search := &searchFake{entities: []domain.StoreEntity{{ID: 3, Name: "ACME GmbH"}}}
	s := newMCPServer(search)

	tools := s.ListTools()
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(tools))
	}

	tool := s.GetTool("search_correspondents")
	if tool == nil {
		t.Fatalf("expected search_correspondents tool")
	}
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{
		Name:      "search_correspondents",
		Arguments: map[string]any{"instanceId": "inst-1", "query": "acme"},
	}}
	result, err := tool.Handler(context.Background(), req)
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error %+v", result)
	}
	if len(search.calls) != 1 || search.calls[0] != "inst-1|search_correspondents|acme" {
		t.Fatalf("unexpected search calls %v", search.calls)
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok || text.Text != `[{"id":3,"name":"ACME GmbH"}]` {
		t.Fatalf("unexpected tool content %#v", result.Content[0])
	}

	req.Params.Arguments = map[string]any{"query": "acme"}
	result, err = tool.Handler(context.Background(), req)
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected tool error without instanceId")
	}
}

func TestMCPSearchToolReportsSearchErrors(t *testing.T) {
	search := &searchFake{err: errors.New("document store unavailable")}
	tool := newMCPServer(search).GetTool("search_tags")
	if tool == nil {
		t.Fatalf("expected search_tags tool")
	}

	result, err := tool.Handler(context.Background(), mcp.CallToolRequest{Params: mcp.CallToolParams{
		Name:      "search_tags",
		Arguments: map[string]any{"instanceId": "inst-1"},
	}})
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected tool error result")
	}
	if search.calls[0] != "inst-1|search_tags|" {
		t.Fatalf("expected empty query, got %v", search.calls)
	}
}
