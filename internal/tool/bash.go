package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/opencode-ai/codeagent/internal/permission"
)

const (
	DefaultBashTimeout = 120 * time.Second
	MaxBashTimeout     = 10 * time.Minute
	MaxOutputLength    = 30000
	SigkillTimeout     = 200 * time.Millisecond
)

const bashDescription = `Runs a shell command in the working directory and returns its combined stdout and stderr.

Usage:
- Each command line is checked against the bash permission rules, command by command
- timeout is in milliseconds; the default is 2 minutes and the maximum 10 minutes
- Give a short description of what the command does; it is shown to the user
- Output beyond 30000 characters is dropped
- Avoid interactive commands; stdin is not connected`

// shells that do not accept POSIX "-c" scripts reliably.
var unsupportedShells = map[string]bool{"fish": true, "nu": true}

type BashTool struct {
	workDir string
	shell   string
	timeout time.Duration
}

// BashInput is the input of the bash tool. Timeout is in milliseconds.
type BashInput struct {
	Command     string `json:"command"`
	Timeout     int    `json:"timeout,omitempty"`
	Description string `json:"description"`
}

type BashToolOption func(*BashTool)

// WithBashTimeout sets the timeout of calls that do not ask for one.
func WithBashTimeout(d time.Duration) BashToolOption {
	return func(t *BashTool) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithShell overrides shell detection.
func WithShell(shell string) BashToolOption {
	return func(t *BashTool) {
		if shell != "" {
			t.shell = shell
		}
	}
}

func NewBashTool(workDir string, opts ...BashToolOption) *BashTool {
	t := &BashTool{workDir: workDir, timeout: DefaultBashTimeout}
	for _, opt := range opts {
		opt(t)
	}
	if t.shell == "" {
		t.shell = detectShell()
	}
	return t
}

// detectShell prefers $SHELL, then the platform's usual shell.
func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" && !unsupportedShells[filepath.Base(s)] {
		return s
	}
	switch runtime.GOOS {
	case "windows":
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	case "darwin":
		return "/bin/zsh"
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

func (t *BashTool) ID() string                  { return "bash" }
func (t *BashTool) Description() string         { return bashDescription }
func (t *BashTool) Permission() permission.Kind { return permission.KindBash }

// Target is the whole command line. The permission checker splits it into
// commands and decides each one.
func (t *BashTool) Target(input json.RawMessage, _ string) string {
	return pathField(input, "command")
}

// Timeout bounds the call from outside; the command's own deadline is
// applied in Execute so a timed out command still reports its output.
func (t *BashTool) Timeout() time.Duration {
	return MaxBashTimeout + time.Second
}

func (t *BashTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "Shell command line to run"
			},
			"timeout": {
				"type": "integer",
				"description": "Timeout in milliseconds, at most 600000"
			},
			"description": {
				"type": "string",
				"description": "What the command does, in 5 to 10 words"
			}
		},
		"required": ["command"]
	}`)
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BashInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if strings.TrimSpace(params.Command) == "" {
		return nil, fmt.Errorf("command is required")
	}

	limit := t.timeout
	if params.Timeout > 0 {
		limit = min(time.Duration(params.Timeout)*time.Millisecond, MaxBashTimeout)
	}
	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	dir := toolCtx.dir(t.workDir)
	out := &cappedOutput{max: MaxOutputLength}
	cmd := t.command(runCtx, params.Command)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.Stdout = out
	cmd.Stderr = out

	toolCtx.SetMetadata(params.Description, map[string]any{"description": params.Description})

	runErr := cmd.Run()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	var exitErr *exec.ExitError
	if runErr != nil && !timedOut && !errors.As(runErr, &exitErr) {
		return nil, fmt.Errorf("run command: %w", runErr)
	}

	output := out.String()
	if timedOut {
		output += fmt.Sprintf("\n\n(Command timed out after %v)", limit)
	}
	exit := -1
	if cmd.ProcessState != nil {
		exit = cmd.ProcessState.ExitCode()
	}
	title := params.Description
	if title == "" {
		title = params.Command
	}
	return &Result{
		Title:   title,
		Output:  output,
		IsError: timedOut,
		Metadata: map[string]any{
			"exit":        exit,
			"description": params.Description,
			"timedOut":    timedOut,
			"truncated":   out.dropped > 0,
		},
	}, nil
}

// command builds the shell invocation. On Unix the shell leads its own
// process group so cancellation reaches every child.
func (t *BashTool) command(ctx context.Context, line string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, t.shell, "/c", line)
	}
	cmd := exec.CommandContext(ctx, t.shell, "-c", line)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 5 * SigkillTimeout
	return cmd
}

// killProcessGroup sends SIGTERM to the group, then SIGKILL shortly after.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid := -cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		return cmd.Process.Kill()
	}
	time.AfterFunc(SigkillTimeout, func() { _ = syscall.Kill(pgid, syscall.SIGKILL) })
	return nil
}

// cappedOutput keeps the first max bytes written to it and counts the rest.
type cappedOutput struct {
	mu      sync.Mutex
	max     int
	buf     []byte
	dropped int
}

func (c *cappedOutput) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.max - len(c.buf)
	if room >= len(p) {
		c.buf = append(c.buf, p...)
	} else {
		c.buf = append(c.buf, p[:max(room, 0)]...)
		c.dropped += len(p) - max(room, 0)
	}
	return len(p), nil
}

func (c *cappedOutput) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped == 0 {
		return string(c.buf)
	}
	return fmt.Sprintf("%s\n\n(Output truncated, %d more bytes)", c.buf, c.dropped)
}
