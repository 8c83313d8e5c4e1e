// Package tool provides the tool framework for model tool calls.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencode-ai/codeagent/internal/permission"
)

// Tool defines the interface for all tools.
type Tool interface {
	// ID returns the tool identifier the model calls it by.
	ID() string

	// Description returns the tool description.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Permission returns the permission kind the tool needs.
	Permission() permission.Kind

	// Target resolves the resource a call touches, for permission checks.
	// Paths are taken relative to workDir, the directory of the turn; an
	// empty workDir means the directory the tool was built for.
	Target(input json.RawMessage, workDir string) string

	// Execute runs the tool. Returned errors become error results.
	Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// Timeouter is implemented by tools that need a specific timeout.
type Timeouter interface {
	Timeout() time.Duration
}

// PermissionChecker answers permission questions for secondary accesses a
// tool makes while running.
type PermissionChecker interface {
	Check(kind permission.Kind, target string) permission.Decision
}

// Context provides execution context to tools.
type Context struct {
	SessionID string
	MessageID string
	CallID    string
	WorkDir   string

	// Permissions checks accesses the processor could not see up front.
	Permissions PermissionChecker
	// Ask asks the user a yes/no question. Nil means no one can answer.
	Ask func(ctx context.Context, question string) (bool, error)

	// OnMetadata receives progress updates while the tool runs.
	OnMetadata func(title string, meta map[string]any)
}

// Check consults the permission checker. Without one, only KindNone is
// allowed.
func (c *Context) Check(kind permission.Kind, target string) permission.Decision {
	if c == nil || c.Permissions == nil {
		if kind == permission.KindNone {
			return permission.Decision{Action: permission.ActionAllow, Allowed: true}
		}
		return permission.Decision{Action: permission.ActionAsk, Reason: "no permission checker"}
	}
	return c.Permissions.Check(kind, target)
}

// Confirm resolves a permission check, asking when the decision is ask.
func (c *Context) Confirm(ctx context.Context, kind permission.Kind, target, question string) (bool, string, error) {
	d := c.Check(kind, target)
	switch d.Action {
	case permission.ActionAllow:
		return true, d.Reason, nil
	case permission.ActionDeny:
		return false, d.Reason, nil
	}
	if c == nil || c.Ask == nil {
		return false, d.Reason, nil
	}
	ok, err := c.Ask(ctx, question)
	if err != nil {
		return false, d.Reason, err
	}
	if !ok {
		return false, "rejected by user", nil
	}
	return true, "approved by user", nil
}

// dir is the directory a call works in: the turn's, else fallback.
func (c *Context) dir(fallback string) string {
	if c != nil && c.WorkDir != "" {
		return c.WorkDir
	}
	return fallback
}

// SetMetadata updates tool execution metadata.
func (c *Context) SetMetadata(title string, meta map[string]any) {
	if c != nil && c.OnMetadata != nil {
		c.OnMetadata(title, meta)
	}
}

// Result represents the output of a tool execution.
type Result struct {
	Title    string         `json:"title"`
	Output   string         `json:"output"`
	IsError  bool           `json:"isError,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ErrorResult is a result the model sees as a failed call.
func ErrorResult(format string, args ...any) *Result {
	return &Result{Output: fmt.Sprintf(format, args...), IsError: true}
}

// BaseTool provides a function-backed implementation for tools.
type BaseTool struct {
	id          string
	description string
	parameters  json.RawMessage
	kind        permission.Kind
	target      func(json.RawMessage) string
	execute     func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// NewBaseTool creates a new base tool. target may be nil.
func NewBaseTool(id, description string, params json.RawMessage, kind permission.Kind, target func(json.RawMessage) string, execute func(context.Context, json.RawMessage, *Context) (*Result, error)) *BaseTool {
	return &BaseTool{
		id:          id,
		description: description,
		parameters:  params,
		kind:        kind,
		target:      target,
		execute:     execute,
	}
}

func (t *BaseTool) ID() string                  { return t.id }
func (t *BaseTool) Description() string         { return t.description }
func (t *BaseTool) Parameters() json.RawMessage { return t.parameters }
func (t *BaseTool) Permission() permission.Kind { return t.kind }

func (t *BaseTool) Target(input json.RawMessage, _ string) string {
	if t.target == nil {
		return ""
	}
	return t.target(input)
}

func (t *BaseTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	return t.execute(ctx, input, toolCtx)
}

// resolvePath makes p absolute against workDir.
func resolvePath(workDir, p string) string {
	if p == "" {
		return workDir
	}
	if strings.HasPrefix(p, "~/") {
		return p
	}
	if filepath.IsAbs(p) || workDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(workDir, p)
}

// permissionPath is the form of p that path rules are written against:
// relative to workDir when inside it, absolute otherwise.
func permissionPath(workDir, p string) string {
	abs := resolvePath(workDir, p)
	if workDir == "" {
		return abs
	}
	rel, err := filepath.Rel(workDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return abs
	}
	return filepath.ToSlash(rel)
}

// pathField extracts a string field from raw tool input.
func pathField(input json.RawMessage, names ...string) string {
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return ""
	}
	for _, n := range names {
		if s, ok := m[n].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
