// Package headless runs one turn from the command line and renders it.
package headless

import (
	"encoding/json"
	"time"

	"github.com/opencode-ai/codeagent/pkg/types"
)

// OutputFormat selects how a run is printed: streamed text, one JSON
// result at the end, or one JSON event per line.
type OutputFormat string

const (
	OutputText  OutputFormat = "default"
	OutputJSON  OutputFormat = "json"
	OutputJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat accepts default, text, json and jsonl.
func ParseOutputFormat(s string) (OutputFormat, bool) {
	switch s {
	case "", "default", "text":
		return OutputText, true
	case "json":
		return OutputJSON, true
	case "jsonl":
		return OutputJSONL, true
	}
	return "", false
}

// ExitCode is the process status of a run. Cancelled covers both Ctrl-C
// and --timeout; ProviderError covers authentication, transport and vendor
// failures.
type ExitCode int

const (
	ExitSuccess          ExitCode = 0
	ExitError            ExitCode = 1
	ExitCancelled        ExitCode = 2
	ExitPermissionDenied ExitCode = 3
	ExitProviderError    ExitCode = 4
	ExitInvalidInput     ExitCode = 5
	ExitSessionNotFound  ExitCode = 6
)

// Config holds the inputs of one run.
type Config struct {
	// Prompt is the instruction to execute.
	Prompt string
	// WorkDir is the project directory of a new session.
	WorkDir string
	// Files are attached to the prompt as text.
	Files []string
	// ReadStdin appends standard input to the prompt.
	ReadStdin bool
	// SessionID is an existing session to continue.
	SessionID string
	// ContinueLast continues the most recent session of WorkDir.
	ContinueLast bool
	// Title of a new session; empty derives it from the prompt.
	Title string
	// Model is reported in the result.
	Model string
	// Timeout bounds the turn; zero means none.
	Timeout time.Duration
}

// ToolCall is one tool call of the run as reported in the result.
type ToolCall struct {
	ID      string          `json:"id"`
	Tool    string          `json:"tool"`
	Input   json.RawMessage `json:"input,omitempty"`
	Output  string          `json:"output,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// Result holds the outcome of a run.
type Result struct {
	SessionID    string       `json:"session_id"`
	Status       string       `json:"status"` // success | error | cancelled | permission_denied
	Model        string       `json:"model,omitempty"`
	DurationMS   int64        `json:"duration_ms"`
	Usage        *types.Usage `json:"usage,omitempty"`
	Steps        int          `json:"steps"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	FinalMessage string       `json:"final_message,omitempty"`
	Error        string       `json:"error,omitempty"`
	ExitCode     ExitCode     `json:"exit_code"`
}

// Event is one line of jsonl output.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	Data      any       `json:"data"`
}
