package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opencode-ai/codeagent/internal/logging"
)

// ErrToolNotFound is returned when no connected server provides a tool.
var ErrToolNotFound = errors.New("mcp tool not found")

// Client holds the connections to the configured MCP servers.
type Client struct {
	sdk *sdkmcp.Client

	mu      sync.RWMutex
	servers map[string]*server
}

// server is one configured server. conn is nil unless it is connected.
type server struct {
	config *Config
	status Status
	err    error
	conn   *conn
}

type conn struct {
	session *sdkmcp.ClientSession
	server  string
	tools   []Tool
}

func NewClient() *Client {
	return &Client{
		sdk:     sdkmcp.NewClient(&sdkmcp.Implementation{Name: "codeagent", Version: "1.0.0"}, nil),
		servers: make(map[string]*server),
	}
}

// AddServer connects a server and records the outcome. A server that fails
// to connect stays listed in Status with its error.
func (c *Client) AddServer(ctx context.Context, name string, cfg *Config) error {
	log := logging.Component("mcp")

	c.mu.Lock()
	if _, ok := c.servers[name]; ok {
		c.mu.Unlock()
		return fmt.Errorf("server already exists: %s", name)
	}
	entry := &server{config: cfg, status: StatusDisabled}
	c.servers[name] = entry
	c.mu.Unlock()

	if !cfg.Enabled {
		log.Debug().Str("server", name).Msg("mcp server disabled")
		return nil
	}

	cn, err := c.dial(ctx, cfg)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		entry.status, entry.err = StatusFailed, err
		log.Warn().Err(err).Str("server", name).Msg("mcp server failed to connect")
		return fmt.Errorf("mcp server %s: %w", name, err)
	}
	entry.status, entry.conn = StatusConnected, cn
	log.Info().Str("server", name).Str("info", cn.server).Int("tools", len(cn.tools)).Msg("mcp server connected")
	return nil
}

// ListTools returns the tools of every connected server under their
// qualified <server>_<tool> names, sorted.
func (c *Client) ListTools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Tool
	for name, s := range c.servers {
		if s.conn == nil {
			continue
		}
		for _, t := range s.conn.tools {
			t.Name = qualifiedName(name, t.Name)
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// lookup maps a qualified tool name to its connection and the name the
// server knows it by.
func (c *Client) lookup(qualified string) (*conn, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, s := range c.servers {
		if s.conn == nil {
			continue
		}
		for _, t := range s.conn.tools {
			if qualifiedName(name, t.Name) == qualified {
				return s.conn, t.Name, true
			}
		}
	}
	return nil, "", false
}

// CallResult is the flattened outcome of a tools/call.
type CallResult struct {
	Output  string
	IsError bool
}

// CallTool runs a tool by its qualified name. A failure the tool reports
// itself comes back as a result with IsError set, not as an error.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	cn, original, ok := c.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	var arguments map[string]any
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("failed to parse arguments: %w", err)
		}
	}
	res, err := cn.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: original, Arguments: arguments})
	if err != nil {
		return nil, err
	}

	out := contentText(res.Content)
	if res.IsError && out == "" {
		out = "tool execution failed"
	}
	return &CallResult{Output: out, IsError: res.IsError}, nil
}

// contentText renders tool output as text. Binary content is described
// rather than inlined.
func contentText(content []sdkmcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		switch v := item.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, v.Text)
		case *sdkmcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes]", v.MIMEType, len(v.Data)))
		case *sdkmcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[audio %s, %d bytes]", v.MIMEType, len(v.Data)))
		case *sdkmcp.EmbeddedResource:
			if v.Resource != nil && v.Resource.Text != "" {
				parts = append(parts, v.Resource.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// Status reports every configured server, sorted by name.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ServerStatus, 0, len(c.servers))
	for name, s := range c.servers {
		st := ServerStatus{Name: name, Status: s.status}
		if s.conn != nil {
			st.Server = s.conn.server
			st.ToolCount = len(s.conn.tools)
		}
		if s.err != nil {
			msg := s.err.Error()
			st.Error = &msg
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close disconnects every server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, s := range c.servers {
		if s.conn == nil {
			continue
		}
		if err := s.conn.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	clear(c.servers)
	return errors.Join(errs...)
}

func qualifiedName(server, tool string) string {
	return sanitizeToolName(server) + "_" + sanitizeToolName(tool)
}

// sanitizeToolName keeps ASCII letters and digits and maps everything else
// to an underscore.
func sanitizeToolName(name string) string {
	return strings.Map(func(r rune) rune {
		if r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
}
