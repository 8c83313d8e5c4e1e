package tool

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencode-ai/codeagent/internal/permission"
)

const listDescription = `Shows the directory tree below a path.

Usage:
- Directories end with "/", files show their size
- Build output, dependency and cache directories are skipped
- Pass "ignore" glob patterns to hide more entries
- At most 100 entries are listed; narrow the path when the tree is truncated`

const listLimit = 100

// skippedDirs are directory names the tree never descends into.
var skippedDirs = []string{
	"node_modules", "__pycache__", ".git", "dist", "build", "target",
	"vendor", "bin", "obj", ".idea", ".vscode", ".zig-cache", "zig-out",
	"coverage", "tmp", "temp", ".cache", "cache", "logs", ".venv", "venv", "env",
}

// ListTool renders a directory tree.
type ListTool struct {
	workDir string
}

// ListInput is the input of the list tool.
type ListInput struct {
	Path   string   `json:"path,omitempty"`
	Ignore []string `json:"ignore,omitempty"`
}

func NewListTool(workDir string) *ListTool {
	return &ListTool{workDir: workDir}
}

func (t *ListTool) ID() string                  { return "list" }
func (t *ListTool) Description() string         { return listDescription }
func (t *ListTool) Permission() permission.Kind { return permission.KindRead }

func (t *ListTool) Target(input json.RawMessage, workDir string) string {
	return permissionPath(cmp.Or(workDir, t.workDir), pathField(input, "path"))
}

func (t *ListTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Directory to show, absolute or relative to the working directory"
			},
			"ignore": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Glob patterns of entries to hide, matched against names and relative paths"
			}
		}
	}`)
}

// treeNode is one directory of the rendered tree.
type treeNode struct {
	dirs  map[string]*treeNode
	files map[string]int64
}

func newTreeNode() *treeNode {
	return &treeNode{dirs: map[string]*treeNode{}, files: map[string]int64{}}
}

func (n *treeNode) dir(parts []string) *treeNode {
	for _, p := range parts {
		child, ok := n.dirs[p]
		if !ok {
			child = newTreeNode()
			n.dirs[p] = child
		}
		n = child
	}
	return n
}

func (t *ListTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	workDir := toolCtx.dir(t.workDir)
	var params ListInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	root := resolvePath(workDir, params.Path)

	tree := newTreeNode()
	count := 0
	truncated := false
	errStop := errors.New("limit")

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path == root {
			if !d.IsDir() {
				return fmt.Errorf("%s is not a directory", root)
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		if ignored(rel, d.IsDir(), params.Ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if count >= listLimit {
			truncated = true
			return errStop
		}
		count++

		parent := strings.Split(rel, "/")
		name := parent[len(parent)-1]
		node := tree.dir(parent[:len(parent)-1])
		if d.IsDir() {
			node.dir([]string{name})
			return nil
		}
		var size int64
		if info, err := d.Info(); err == nil {
			size = info.Size()
		}
		node.files[name] = size
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(root + "/\n")
	renderTree(&sb, tree, 1)
	if truncated {
		fmt.Fprintf(&sb, "\n(showing the first %d entries; list a subdirectory to see more)\n", listLimit)
	}

	return &Result{
		Title:  relativePath(root, workDir),
		Output: sb.String(),
		Metadata: map[string]any{
			"path":      root,
			"count":     count,
			"truncated": truncated,
		},
	}, nil
}

func renderTree(sb *strings.Builder, n *treeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	dirs := make([]string, 0, len(n.dirs))
	for name := range n.dirs {
		dirs = append(dirs, name)
	}
	sort.Strings(dirs)
	for _, name := range dirs {
		fmt.Fprintf(sb, "%s%s/\n", indent, name)
		renderTree(sb, n.dirs[name], depth+1)
	}

	files := make([]string, 0, len(n.files))
	for name := range n.files {
		files = append(files, name)
	}
	sort.Strings(files)
	for _, name := range files {
		fmt.Fprintf(sb, "%s%s (%d bytes)\n", indent, name, n.files[name])
	}
}

// ignored reports whether the entry at rel is hidden. Skipped directory
// names apply to directories only; user patterns match the base name or
// the whole relative path.
func ignored(rel string, isDir bool, patterns []string) bool {
	name := rel[strings.LastIndex(rel, "/")+1:]
	if isDir {
		for _, d := range skippedDirs {
			if name == d {
				return true
			}
		}
	}
	for _, p := range patterns {
		p = strings.TrimSuffix(p, "/")
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
