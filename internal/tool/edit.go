package tool

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/opencode-ai/codeagent/internal/permission"
)

// fuzzyThreshold is the minimum similarity for a near match to be replaced.
const fuzzyThreshold = 0.7

const editDescription = `Replaces text in a file.

Usage:
- filePath may be absolute or relative to the working directory
- oldString must match the file exactly; near matches differing in line endings or whitespace are accepted
- oldString must be unique unless replaceAll is set
- An empty oldString creates the file with newString as its content
- Read the file first so oldString reflects its current content`

type EditTool struct {
	workDir string
}

// EditInput is the input of the edit tool.
type EditInput struct {
	FilePath   string `json:"filePath"`
	OldString  string `json:"oldString"`
	NewString  string `json:"newString"`
	ReplaceAll bool   `json:"replaceAll,omitempty"`
}

func NewEditTool(workDir string) *EditTool {
	return &EditTool{workDir: workDir}
}

func (t *EditTool) ID() string                  { return "edit" }
func (t *EditTool) Description() string         { return editDescription }
func (t *EditTool) Permission() permission.Kind { return permission.KindEdit }

func (t *EditTool) Target(input json.RawMessage, workDir string) string {
	return permissionPath(cmp.Or(workDir, t.workDir), pathField(input, "filePath"))
}

func (t *EditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The path to the file to edit"
			},
			"oldString": {
				"type": "string",
				"description": "The exact text to replace"
			},
			"newString": {
				"type": "string",
				"description": "The text to replace it with"
			},
			"replaceAll": {
				"type": "boolean",
				"description": "Replace all occurrences (default: false)"
			}
		},
		"required": ["filePath", "oldString", "newString"]
	}`)
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	workDir := toolCtx.dir(t.workDir)
	var params EditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.FilePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}
	if params.OldString == params.NewString {
		return nil, fmt.Errorf("oldString and newString must be different")
	}
	path := resolvePath(workDir, params.FilePath)

	if params.OldString == "" {
		return t.create(ctx, path, params.NewString, workDir)
	}

	text, perm, err := readExisting(path)
	if err != nil {
		return nil, err
	}
	if perm == 0 {
		return nil, fmt.Errorf("failed to read file: %s does not exist", params.FilePath)
	}

	newText, count, mode, err := replace(text, params)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(path, []byte(newText), perm); err != nil {
		return nil, err
	}

	title := "Edited " + relativePath(path, workDir)
	if mode != "" {
		title += " (" + mode + ")"
	}
	return &Result{
		Title:  title,
		Output: fmt.Sprintf("Replaced %d occurrence(s)", count),
		Metadata: diffFile(path, text, newText, workDir).addTo(map[string]any{
			"file":         path,
			"replacements": count,
		}),
	}, nil
}

// create writes a new file. Replacing an existing file needs oldString.
func (t *EditTool) create(ctx context.Context, path, content, workDir string) (*Result, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("file already exists: %s. Provide oldString to edit it", path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := writeFileAtomic(path, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return &Result{
		Title:  "Created " + relativePath(path, workDir),
		Output: fmt.Sprintf("Created %s", path),
		Metadata: diffFile(path, "", content, workDir).addTo(map[string]any{
			"file":         path,
			"replacements": 0,
			"created":      true,
		}),
	}, nil
}

// replace applies the edit, falling back to line-ending normalization and
// then to the most similar block of text.
func replace(text string, params EditInput) (string, int, string, error) {
	count := strings.Count(text, params.OldString)
	switch {
	case count > 1 && !params.ReplaceAll:
		return "", 0, "", fmt.Errorf("oldString appears %d times in file. Use replaceAll or provide more context", count)
	case count > 0 && params.ReplaceAll:
		return strings.ReplaceAll(text, params.OldString, params.NewString), count, "", nil
	case count == 1:
		return strings.Replace(text, params.OldString, params.NewString, 1), 1, "", nil
	}

	normalizedOld := normalizeLineEndings(params.OldString)
	normalizedText := normalizeLineEndings(text)
	if strings.Contains(normalizedText, normalizedOld) {
		return strings.Replace(normalizedText, normalizedOld, params.NewString, 1), 1, "normalized", nil
	}

	match, sim := findBestMatch(text, params.OldString)
	if match != "" && sim >= fuzzyThreshold {
		return strings.Replace(text, match, params.NewString, 1), 1, fmt.Sprintf("fuzzy %.0f%%", sim*100), nil
	}
	return "", 0, "", fmt.Errorf("oldString not found in file. The content may have changed or the string doesn't exist")
}

func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// findBestMatch finds the block of lines most similar to target.
func findBestMatch(text, target string) (string, float64) {
	lines := strings.Split(text, "\n")
	span := len(strings.Split(target, "\n"))

	bestMatch := ""
	bestSimilarity := 0.0
	for i := 0; i+span <= len(lines); i++ {
		block := strings.Join(lines[i:i+span], "\n")
		if sim := similarity(block, target); sim > bestSimilarity {
			bestSimilarity = sim
			bestMatch = block
		}
	}
	return bestMatch, bestSimilarity
}

// similarity is the normalized Levenshtein similarity of a and b.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	maxLen := max(len(a), len(b))
	if maxLen > 10000 {
		return float64(min(len(a), len(b))) / float64(maxLen)
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}
