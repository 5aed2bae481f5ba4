package mcp

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// errorResult wraps a failure the caller can correct, such as a malformed
// enum value, as a tool result with IsError set. Infrastructure failures
// are returned as protocol errors instead and never pass through here.
func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

// dataToMCP converts arbitrary data to MCP text content via JSON
// marshaling. All data becomes JSON, clients parse it.
func dataToMCP(data any) *mcp.CallToolResult {
	b, err := json.Marshal(data)
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "marshal error"}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}
}
