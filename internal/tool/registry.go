package tool

import (
	"context"
	"sort"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/provider"
)

// Provider contributes tools discovered at runtime, such as those of an MCP
// server.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	// Tools returns the currently available tools.
	Tools(ctx context.Context) []Tool
}

// Registry manages tool registration and lookup. It is an explicit value
// passed to the processor.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	providers []Provider
	workDir   string
}

// NewRegistry creates an empty tool registry.
func NewRegistry(workDir string) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		workDir: workDir,
	}
}

// WorkDir returns the directory tools resolve relative paths against.
func (r *Registry) WorkDir() string {
	return r.workDir
}

// Register adds a tool, replacing one with the same id.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	logging.Debug().Str("tool", tool.ID()).Msg("registering tool")
	r.tools[tool.ID()] = tool
}

// RegisterProvider adds a source of dynamic tools. Registered tools win over
// provider tools of the same id.
func (r *Registry) RegisterProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
}

// Get retrieves a tool by ID.
func (r *Registry) Get(ctx context.Context, id string) (Tool, bool) {
	r.mu.RLock()
	tool, ok := r.tools[id]
	providers := append([]Provider(nil), r.providers...)
	r.mu.RUnlock()
	if ok {
		return tool, true
	}
	for _, p := range providers {
		for _, t := range p.Tools(ctx) {
			if t.ID() == id {
				return t, true
			}
		}
	}
	return nil, false
}

// List returns all tools sorted by id.
func (r *Registry) List(ctx context.Context) []Tool {
	r.mu.RLock()
	tools := make([]Tool, 0, len(r.tools))
	seen := make(map[string]bool, len(r.tools))
	for id, t := range r.tools {
		tools = append(tools, t)
		seen[id] = true
	}
	providers := append([]Provider(nil), r.providers...)
	r.mu.RUnlock()

	for _, p := range providers {
		for _, t := range p.Tools(ctx) {
			if seen[t.ID()] {
				logging.Warn().Str("tool", t.ID()).Str("provider", p.Name()).Msg("tool id shadowed")
				continue
			}
			seen[t.ID()] = true
			tools = append(tools, t)
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID() < tools[j].ID() })
	return tools
}

// IDs returns all tool IDs, sorted.
func (r *Registry) IDs(ctx context.Context) []string {
	tools := r.List(ctx)
	ids := make([]string, len(tools))
	for i, t := range tools {
		ids[i] = t.ID()
	}
	return ids
}

// Specs returns the tool catalogue in provider request form. enabled, when
// non-nil, filters by id; ids missing from it stay enabled.
func (r *Registry) Specs(ctx context.Context, enabled map[string]bool) []provider.ToolSpec {
	var specs []provider.ToolSpec
	for _, t := range r.List(ctx) {
		if on, ok := enabled[t.ID()]; ok && !on {
			continue
		}
		specs = append(specs, provider.ToolSpec{
			Name:        t.ID(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return specs
}

// ToolInfos returns eino tool infos for all tools.
func (r *Registry) ToolInfos(ctx context.Context) []*schema.ToolInfo {
	return provider.ConvertToEinoTools(r.Specs(ctx, nil))
}

// DefaultRegistry creates a registry with all built-in tools.
func DefaultRegistry(workDir string) *Registry {
	r := NewRegistry(workDir)
	r.Register(NewReadTool(workDir))
	r.Register(NewWriteTool(workDir))
	r.Register(NewEditTool(workDir))
	r.Register(NewBashTool(workDir))
	r.Register(NewGlobTool(workDir))
	r.Register(NewGrepTool(workDir))
	r.Register(NewListTool(workDir))
	r.Register(NewWebFetchTool(workDir))
	return r
}
