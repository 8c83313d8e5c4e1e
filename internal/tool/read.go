package tool

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencode-ai/codeagent/internal/permission"
)

const (
	readDefaultLimit = 2000
	readMaxLineLen   = 2000
	sniffLen         = 8000
)

const readDescription = `Reads a text file and returns its lines prefixed with line numbers.

Usage:
- filePath may be absolute or relative to the working directory
- Up to 2000 lines are returned; use offset (1-based) and limit to page through longer files
- Lines longer than 2000 characters are cut
- Binary files and directories are refused`

// binaryExts are refused without looking at their content.
var binaryExts = map[string]bool{
	".zip": true, ".gz": true, ".tar": true, ".7z": true, ".jar": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".o": true, ".a": true,
	".class": true, ".wasm": true, ".pyc": true, ".bin": true, ".dat": true,
}

type ReadTool struct {
	workDir string
}

// ReadInput is the input of the read tool.
type ReadInput struct {
	FilePath string `json:"filePath"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func NewReadTool(workDir string) *ReadTool {
	return &ReadTool{workDir: workDir}
}

func (t *ReadTool) ID() string                  { return "read" }
func (t *ReadTool) Description() string         { return readDescription }
func (t *ReadTool) Permission() permission.Kind { return permission.KindRead }

func (t *ReadTool) Target(input json.RawMessage, workDir string) string {
	return permissionPath(cmp.Or(workDir, t.workDir), pathField(input, "filePath"))
}

func (t *ReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "File to read, absolute or relative to the working directory"
			},
			"offset": {
				"type": "integer",
				"description": "First line to return, starting at 1"
			},
			"limit": {
				"type": "integer",
				"description": "Maximum number of lines to return, 2000 when omitted"
			}
		},
		"required": ["filePath"]
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	workDir := toolCtx.dir(t.workDir)
	var params ReadInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.FilePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}
	first := max(params.Offset, 1)
	limit := params.Limit
	if limit <= 0 {
		limit = readDefaultLimit
	}
	path := resolvePath(workDir, params.FilePath)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file not found: %s%s", params.FilePath, similarFiles(path))
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", params.FilePath)
	}

	r := bufio.NewReaderSize(f, 64*1024)
	head, _ := r.Peek(sniffLen)
	if binaryExts[strings.ToLower(filepath.Ext(path))] || looksBinary(head) {
		return nil, fmt.Errorf("file appears to be binary: %s", params.FilePath)
	}

	var out strings.Builder
	out.WriteString("<file>\n")
	total, shown := 0, 0
	for {
		line, err := r.ReadString('\n')
		if line == "" && err != nil {
			if err != io.EOF {
				return nil, fmt.Errorf("read %s: %w", params.FilePath, err)
			}
			break
		}
		total++
		if total >= first && shown < limit {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			line = strings.TrimRight(line, "\r\n")
			if len(line) > readMaxLineLen {
				line = line[:readMaxLineLen] + "..."
			}
			if shown > 0 {
				out.WriteByte('\n')
			}
			fmt.Fprintf(&out, "%05d| %s", total, line)
			shown++
		}
		if err != nil {
			break
		}
	}

	last := first - 1 + shown
	if total > last {
		fmt.Fprintf(&out, "\n\n(File has more lines. Use 'offset' parameter to read beyond line %d)", last)
	} else {
		fmt.Fprintf(&out, "\n\n(End of file - total %d lines)", total)
	}
	out.WriteString("\n</file>")

	return &Result{
		Title:  relativePath(path, workDir),
		Output: out.String(),
		Metadata: map[string]any{
			"file":       path,
			"lines":      shown,
			"totalLines": total,
		},
	}, nil
}

// looksBinary treats content with a NUL byte, or mostly control
// characters, as binary.
func looksBinary(head []byte) bool {
	if len(head) == 0 {
		return false
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	control := 0
	for _, b := range head {
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			control++
		}
	}
	return control*10 > len(head)*3
}

// similarFiles lists up to three files next to a missing path whose names
// are close to it.
func similarFiles(path string) string {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	want := strings.ToLower(filepath.Base(path))
	wantStem := strings.TrimSuffix(want, filepath.Ext(want))

	type candidate struct {
		name  string
		score float64
	}
	var found []candidate
	for _, e := range entries {
		name := strings.ToLower(e.Name())
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		score := max(similarity(want, name), similarity(wantStem, stem))
		if stem != "" && wantStem != "" && (strings.Contains(name, wantStem) || strings.Contains(wantStem, stem)) {
			score = max(score, 0.9)
		}
		if score >= 0.6 {
			found = append(found, candidate{e.Name(), score})
		}
	}
	if len(found) == 0 {
		return ""
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].score > found[j].score })

	var sb strings.Builder
	sb.WriteString("\n\nDid you mean one of these?")
	for i, c := range found {
		if i == 3 {
			break
		}
		sb.WriteString("\n" + filepath.Join(dir, c.name))
	}
	return sb.String()
}

func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, sniffLen)
	n, _ := io.ReadFull(f, head)
	return binaryExts[strings.ToLower(filepath.Ext(path))] || looksBinary(head[:n])
}
