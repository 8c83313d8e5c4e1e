package tool

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencode-ai/codeagent/internal/permission"
)

const globMaxFiles = 100

const globDescription = `Fast file pattern matching tool that works with any codebase size.

Usage:
- Supports glob patterns like "**/*.js" or "src/**/*.ts"
- Returns matching file paths sorted by modification time, newest first
- Use this tool when you need to find files by name patterns`

// skipDirs are never descended into by the search tools.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
}

// GlobTool implements file pattern matching.
type GlobTool struct {
	workDir string
}

// GlobInput represents the input for the glob tool.
type GlobInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// NewGlobTool creates a new glob tool.
func NewGlobTool(workDir string) *GlobTool {
	return &GlobTool{workDir: workDir}
}

func (t *GlobTool) ID() string                  { return "glob" }
func (t *GlobTool) Description() string         { return globDescription }
func (t *GlobTool) Permission() permission.Kind { return permission.KindRead }

func (t *GlobTool) Target(input json.RawMessage, workDir string) string {
	return permissionPath(cmp.Or(workDir, t.workDir), pathField(input, "path"))
}

func (t *GlobTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The glob pattern to match files against"
			},
			"path": {
				"type": "string",
				"description": "Directory to search in (default: working directory)"
			}
		},
		"required": ["pattern"]
	}`)
}

func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	workDir := toolCtx.dir(t.workDir)
	var params GlobInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	if !doublestar.ValidatePattern(params.Pattern) {
		return nil, fmt.Errorf("invalid glob pattern: %s", params.Pattern)
	}
	searchDir := resolvePath(workDir, params.Path)

	type match struct {
		path    string
		modTime int64
	}
	var matches []match
	err := doublestar.GlobWalk(os.DirFS(searchDir), params.Pattern, func(p string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || inSkippedDir(p) {
			return nil
		}
		var mod int64
		if info, err := d.Info(); err == nil {
			mod = info.ModTime().UnixNano()
		}
		matches = append(matches, match{path: filepath.Join(searchDir, filepath.FromSlash(p)), modTime: mod})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", params.Pattern, err)
	}

	if len(matches) == 0 {
		return &Result{
			Title:    "Glob search",
			Output:   "No files matched the pattern",
			Metadata: map[string]any{"pattern": params.Pattern, "count": 0},
		}, nil
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].modTime > matches[j].modTime })
	truncated := len(matches) > globMaxFiles
	if truncated {
		matches = matches[:globMaxFiles]
	}
	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.path
	}

	output := strings.Join(paths, "\n")
	if truncated {
		output += fmt.Sprintf("\n\n(Showing first %d files. Use a more specific pattern.)", globMaxFiles)
	}
	return &Result{
		Title:  fmt.Sprintf("Found %d files", len(paths)),
		Output: output,
		Metadata: map[string]any{
			"pattern":   params.Pattern,
			"count":     len(paths),
			"truncated": truncated,
		},
	}, nil
}

func inSkippedDir(slashPath string) bool {
	for _, part := range strings.Split(slashPath, "/") {
		if skipDirs[part] {
			return true
		}
	}
	return false
}
