package mcp

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/codeagent/internal/permission"
	"github.com/opencode-ai/codeagent/internal/tool"
)

// ToolWrapper exposes an MCP tool through the tool.Tool interface. Its
// permission kind is mcp and its target is the qualified tool name, so rules
// like {permission: mcp, pattern: "calc_*"} apply.
type ToolWrapper struct {
	mcpTool Tool // qualified name from Client.ListTools
	client  *Client
}

// NewToolWrapper creates a wrapper for an MCP tool.
func NewToolWrapper(mcpTool Tool, client *Client) *ToolWrapper {
	return &ToolWrapper{
		mcpTool: mcpTool,
		client:  client,
	}
}

func (w *ToolWrapper) ID() string                            { return w.mcpTool.Name }
func (w *ToolWrapper) Description() string                   { return w.mcpTool.Description }
func (w *ToolWrapper) Parameters() json.RawMessage           { return w.mcpTool.InputSchema }
func (w *ToolWrapper) Permission() permission.Kind           { return permission.KindMCP }
func (w *ToolWrapper) Target(json.RawMessage, string) string { return w.mcpTool.Name }

// Execute calls the tool on its server.
func (w *ToolWrapper) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
	res, err := w.client.CallTool(ctx, w.mcpTool.Name, input)
	if err != nil {
		return nil, err
	}
	toolCtx.SetMetadata(w.mcpTool.Name, map[string]any{"type": "mcp"})
	return &tool.Result{
		Title:    w.mcpTool.Name,
		Output:   res.Output,
		IsError:  res.IsError,
		Metadata: map[string]any{"type": "mcp", "tool": w.mcpTool.Name},
	}, nil
}

// Name implements tool.Provider.
func (c *Client) Name() string { return "mcp" }

// Tools implements tool.Provider, wrapping every tool of every connected
// server.
func (c *Client) Tools(ctx context.Context) []tool.Tool {
	listed := c.ListTools()
	tools := make([]tool.Tool, len(listed))
	for i, t := range listed {
		tools[i] = NewToolWrapper(t, c)
	}
	return tools
}

var (
	_ tool.Tool     = (*ToolWrapper)(nil)
	_ tool.Provider = (*Client)(nil)
)
