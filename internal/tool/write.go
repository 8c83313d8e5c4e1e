package tool

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opencode-ai/codeagent/internal/permission"
)

const writeDescription = `Creates or replaces a file with the given content.

Usage:
- filePath may be absolute or relative to the working directory
- Missing parent directories are created
- An existing file is overwritten and keeps its permissions
- Prefer the edit tool for changes to existing files`

type WriteTool struct {
	workDir string
}

// WriteInput is the input of the write tool.
type WriteInput struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

func NewWriteTool(workDir string) *WriteTool {
	return &WriteTool{workDir: workDir}
}

func (t *WriteTool) ID() string                  { return "write" }
func (t *WriteTool) Description() string         { return writeDescription }
func (t *WriteTool) Permission() permission.Kind { return permission.KindWrite }

func (t *WriteTool) Target(input json.RawMessage, workDir string) string {
	return permissionPath(cmp.Or(workDir, t.workDir), pathField(input, "filePath"))
}

func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "File to write, absolute or relative to the working directory"
			},
			"content": {
				"type": "string",
				"description": "The complete new content of the file"
			}
		},
		"required": ["filePath", "content"]
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	workDir := toolCtx.dir(t.workDir)
	var params WriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.FilePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}
	path := resolvePath(workDir, params.FilePath)

	before, mode, err := readExisting(path)
	if err != nil {
		return nil, err
	}
	created := mode == 0
	if created {
		mode = 0o644
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := writeFileAtomic(path, []byte(params.Content), mode); err != nil {
		return nil, err
	}

	title := "Wrote " + relativePath(path, workDir)
	if created {
		title = "Created " + relativePath(path, workDir)
	}
	return &Result{
		Title:  title,
		Output: fmt.Sprintf("Successfully wrote %d bytes to %s", len(params.Content), path),
		Metadata: diffFile(path, before, params.Content, workDir).addTo(map[string]any{
			"file":    path,
			"bytes":   len(params.Content),
			"created": created,
		}),
	}, nil
}

// readExisting returns the current content and mode of path. A missing file
// has mode 0.
func readExisting(path string) (string, fs.FileMode, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	if info.IsDir() {
		return "", 0, fmt.Errorf("path is a directory, not a file: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read file: %w", err)
	}
	return string(data), info.Mode().Perm(), nil
}

// writeFileAtomic replaces path through a temp file in the same directory,
// so an interrupted write never leaves a half-written file behind.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	name := tmp.Name()
	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Chmod(perm)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(name, path)
	}
	if err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
