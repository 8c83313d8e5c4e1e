package tool

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencode-ai/codeagent/internal/permission"
)

const (
	grepMaxMatches = 100
	grepMaxLineLen = 500
)

const grepDescription = `A fast content search tool.

Usage:
- Supports full regex syntax (e.g., "log.*Error", "function\\s+\\w+")
- Filter files with the include parameter (e.g., "*.js", "**/*.tsx")
- Returns matching lines with file paths and line numbers`

// GrepTool implements content search.
type GrepTool struct {
	workDir string
}

// GrepInput represents the input for the grep tool.
type GrepInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Include string `json:"include,omitempty"` // file pattern to include (e.g., "*.js")
}

// GrepMatch represents a search match.
type GrepMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// NewGrepTool creates a new grep tool.
func NewGrepTool(workDir string) *GrepTool {
	return &GrepTool{workDir: workDir}
}

func (t *GrepTool) ID() string                  { return "grep" }
func (t *GrepTool) Description() string         { return grepDescription }
func (t *GrepTool) Permission() permission.Kind { return permission.KindRead }

func (t *GrepTool) Target(input json.RawMessage, workDir string) string {
	return permissionPath(cmp.Or(workDir, t.workDir), pathField(input, "path"))
}

func (t *GrepTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The regex pattern to search for in file contents"
			},
			"path": {
				"type": "string",
				"description": "The directory to search in. Defaults to the working directory."
			},
			"include": {
				"type": "string",
				"description": "File pattern to include in the search (e.g. \"*.js\", \"*.{ts,tsx}\")"
			}
		},
		"required": ["pattern"]
	}`)
}

func (t *GrepTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	workDir := toolCtx.dir(t.workDir)
	var params GrepInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	re, err := regexp.Compile(params.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	if params.Include != "" && !doublestar.ValidatePattern(params.Include) {
		return nil, fmt.Errorf("invalid include pattern: %s", params.Include)
	}
	root := resolvePath(workDir, params.Path)

	var matches []GrepMatch
	truncated := false
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if params.Include != "" && !includeMatches(params.Include, root, path) {
			return nil
		}
		found, full := grepFile(path, re, grepMaxMatches-len(matches))
		matches = append(matches, found...)
		if full {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return &Result{
			Title:    "Search results",
			Output:   "No matches found",
			Metadata: map[string]any{"pattern": params.Pattern, "count": 0},
		}, nil
	}

	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.File, m.Line, m.Content)
	}
	if truncated {
		fmt.Fprintf(&sb, "\n(Showing first %d matches)", grepMaxMatches)
	}
	return &Result{
		Title:  fmt.Sprintf("Found %d matches", len(matches)),
		Output: sb.String(),
		Metadata: map[string]any{
			"pattern":   params.Pattern,
			"count":     len(matches),
			"truncated": truncated,
		},
	}, nil
}

// includeMatches applies an include pattern to the path relative to root,
// or to the base name when the pattern has no slash.
func includeMatches(pattern, root, path string) bool {
	if !strings.Contains(pattern, "/") {
		ok, _ := doublestar.Match(pattern, filepath.Base(path))
		return ok
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel))
	return ok
}

// grepFile returns up to limit matching lines, and whether the limit was
// reached with lines left to scan.
func grepFile(path string, re *regexp.Regexp, limit int) ([]GrepMatch, bool) {
	if isBinaryFile(path) {
		return nil, false
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var out []GrepMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !re.MatchString(text) {
			continue
		}
		if len(out) == limit {
			return out, true
		}
		if len(text) > grepMaxLineLen {
			text = text[:grepMaxLineLen] + "..."
		}
		out = append(out, GrepMatch{File: path, Line: line, Content: text})
	}
	return out, false
}
