// Package mcptest provides a small MCP server for tests.
package mcptest

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates an MCP server with a sum tool and a tool that always
// fails.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"calculator",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.AddTool(mcp.NewTool("sum",
		mcp.WithDescription("Calculates the sum of an array of numbers"),
		mcp.WithArray("numbers",
			mcp.Required(),
			mcp.Description("Array of numbers to sum"),
			mcp.Items(map[string]any{"type": "number"}),
		),
	), sumHandler)

	s.AddTool(mcp.NewTool("fail",
		mcp.WithDescription("Always reports a tool error"),
		mcp.WithString("reason", mcp.Description("Error message to return")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError(req.GetString("reason", "failed on purpose")), nil
	})

	return s
}

// NewStreamableServer serves NewServer over streamable HTTP. The endpoint is
// the returned server's URL plus "/mcp".
func NewStreamableServer() *httptest.Server {
	return server.NewTestStreamableHTTPServer(NewServer())
}

// NewSSEServer serves NewServer over SSE. The endpoint is the returned
// server's URL plus "/sse".
func NewSSEServer() *httptest.Server {
	return server.NewTestServer(NewServer())
}

// ServeStdio serves NewServer on stdin/stdout until stdin closes.
func ServeStdio() error {
	return server.ServeStdio(NewServer())
}

func sumHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := req.GetArguments()["numbers"]
	if !ok {
		return mcp.NewToolResultError("numbers argument is required"), nil
	}
	arr, ok := raw.([]any)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("expected array, got %T", raw)), nil
	}
	var sum float64
	for i, v := range arr {
		n, ok := v.(float64)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("element %d is not a number: %T", i, v)), nil
		}
		sum += n
	}
	return mcp.NewToolResultText(strconv.FormatFloat(sum, 'f', -1, 64)), nil
}
