package mcp

import (
	"encoding/json"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opencode-ai/codeagent/pkg/types"
)

// Config defines MCP server configuration.
type Config struct {
	Enabled     bool              `json:"enabled"`
	Type        TransportType     `json:"type"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Timeout     int               `json:"timeout,omitempty"` // milliseconds
}

// ConfigFromTypes converts a configured server entry. Servers are enabled
// unless switched off explicitly; a server with a URL and no type is remote.
func ConfigFromTypes(c types.MCPConfig) *Config {
	cfg := &Config{
		Enabled:     c.Enabled == nil || *c.Enabled,
		Type:        TransportType(c.Type),
		URL:         c.URL,
		Headers:     c.Headers,
		Command:     c.Command,
		Environment: c.Environment,
		Timeout:     c.Timeout,
	}
	switch {
	case cfg.Type == "sse":
		cfg.Type = TransportTypeSSE
	case cfg.Type == "" && cfg.URL != "":
		cfg.Type = TransportTypeRemote
	case cfg.Type == "":
		cfg.Type = TransportTypeLocal
	}
	return cfg
}

// TransportType represents the type of MCP transport.
type TransportType string

const (
	// TransportTypeRemote tries streamable HTTP, then SSE.
	TransportTypeRemote TransportType = "remote"
	// TransportTypeSSE only uses the legacy SSE transport.
	TransportTypeSSE   TransportType = "sse"
	TransportTypeLocal TransportType = "local"
	TransportTypeStdio TransportType = "stdio"
)

// Tool represents an MCP tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// FromSDKTool converts a tool listed by a server.
func FromSDKTool(t *sdkmcp.Tool) Tool {
	out := Tool{Name: t.Name, Description: t.Description}
	if t.InputSchema != nil {
		if data, err := json.Marshal(t.InputSchema); err == nil {
			out.InputSchema = data
		}
	}
	if len(out.InputSchema) == 0 || string(out.InputSchema) == "null" {
		out.InputSchema = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return out
}

// ServerStatus reports one configured server.
type ServerStatus struct {
	Name      string  `json:"name"`
	Status    Status  `json:"status"`
	ToolCount int     `json:"toolCount"`
	Server    string  `json:"server,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// Status is the connection state of a server.
type Status string

const (
	StatusConnected Status = "connected"
	StatusDisabled  Status = "disabled"
	StatusFailed    Status = "failed"
)
