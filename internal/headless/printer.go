package headless

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/tidwall/gjson"

	"github.com/opencode-ai/codeagent/internal/session"
	"github.com/opencode-ai/codeagent/pkg/types"
)

var (
	toolColor  = color.New(color.FgYellow)
	faintColor = color.New(color.FgHiBlack)
	errorColor = color.New(color.FgRed)
	doneColor  = color.New(color.FgGreen, color.Bold)
)

// Printer renders processor events in one of the output formats and
// collects the run result. Handle is a session.EventCallback.
type Printer struct {
	mu        sync.Mutex
	writer    io.Writer
	format    OutputFormat
	quiet     bool
	verbose   bool
	prompter  *Prompter
	startTime time.Time

	result    *Result
	toolCalls []ToolCall
	toolIndex map[string]int
	midLine   bool
}

// NewPrinter creates a new event printer. prompter may be nil, in which case
// permission questions are only shown.
func NewPrinter(writer io.Writer, format OutputFormat, quiet, verbose bool, prompter *Prompter) *Printer {
	return &Printer{
		writer:    writer,
		format:    format,
		quiet:     quiet,
		verbose:   verbose,
		prompter:  prompter,
		startTime: time.Now(),
		result:    &Result{Status: "running"},
		toolIndex: make(map[string]int),
	}
}

// Handle processes one processor event.
func (p *Printer) Handle(ev types.ProcessorEvent) {
	p.mu.Lock()
	p.track(ev)
	switch p.format {
	case OutputText:
		p.handleText(ev)
	case OutputJSONL:
		p.handleJSONL(ev)
	}
	p.mu.Unlock()

	// The prompt blocks on input; the lock is not held meanwhile.
	if ev.Type == types.PEPermissionAsk && ev.Permission != nil && p.prompter != nil {
		p.prompter.Ask(ev.Permission)
	}
}

func (p *Printer) handleText(ev types.ProcessorEvent) {
	switch ev.Type {
	case types.PEText:
		fmt.Fprint(p.writer, ev.Delta)
		p.midLine = !strings.HasSuffix(ev.Delta, "\n")
	case types.PEThinking:
		if p.verbose {
			fmt.Fprint(p.writer, faintColor.Sprint(ev.Delta))
			p.midLine = true
		}
	case types.PEToolStart:
		if p.quiet || ev.ToolUse == nil {
			return
		}
		p.newline()
		info := formatToolInfo(ev.ToolUse.Name, ev.ToolUse.Input)
		fmt.Fprintln(p.writer, toolColor.Sprintf("→ tool %s %s", ev.ToolUse.Name, info))
	case types.PEToolResult:
		if p.quiet || ev.ToolResult == nil {
			return
		}
		if ev.ToolResult.IsError {
			fmt.Fprintln(p.writer, errorColor.Sprintf("  error: %s", firstLine(ev.ToolResult.Output, 200)))
		} else if p.verbose {
			fmt.Fprintln(p.writer, faintColor.Sprint(truncateOutput(ev.ToolResult.Output, 500)))
		}
	case types.PEPermissionAsk:
		if p.prompter == nil && ev.Permission != nil {
			p.newline()
			fmt.Fprintln(p.writer, toolColor.Sprintf("[permission] %s %s needs approval", ev.Permission.Permission, ev.Permission.Target))
		}
	case types.PECompacted:
		if p.verbose {
			p.newline()
			fmt.Fprintln(p.writer, faintColor.Sprint("[history compacted]"))
		}
	case types.PEError:
		if ev.Error != nil {
			p.newline()
			fmt.Fprintln(p.writer, errorColor.Sprintf("[error] %s: %s", ev.Error.Kind, ev.Error.Message))
		}
	}
}

func (p *Printer) newline() {
	if p.midLine {
		fmt.Fprintln(p.writer)
		p.midLine = false
	}
}

// handleJSONL outputs every event as one JSON line.
func (p *Printer) handleJSONL(ev types.ProcessorEvent) {
	if !p.verbose && (ev.Type == types.PEState || ev.Type == types.PEThinking) {
		return
	}
	data, err := json.Marshal(&Event{Type: string(ev.Type), Timestamp: time.Now(), Data: ev})
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

// track records what the result reports.
func (p *Printer) track(ev types.ProcessorEvent) {
	if ev.SessionID != "" {
		p.result.SessionID = ev.SessionID
	}
	switch ev.Type {
	case types.PEToolStart:
		if ev.ToolUse != nil {
			p.toolIndex[ev.ToolUse.ID] = len(p.toolCalls)
			p.toolCalls = append(p.toolCalls, ToolCall{ID: ev.ToolUse.ID, Tool: ev.ToolUse.Name, Input: ev.ToolUse.Input})
		}
	case types.PEToolResult:
		if ev.ToolResult != nil {
			if i, ok := p.toolIndex[ev.ToolResult.ToolUseID]; ok {
				p.toolCalls[i].Output = truncateOutput(ev.ToolResult.Output, 500)
				p.toolCalls[i].IsError = ev.ToolResult.IsError
			}
		}
	case types.PEMessage:
		if ev.Message != nil && ev.Message.Role == types.RoleAssistant {
			if text := types.PlainText(ev.Message.Content); text != "" {
				p.result.FinalMessage = text
			}
		}
	}
}

// Finish completes the result from the turn outcome and, in text and json
// format, prints the summary. err is a failure that kept the turn from
// running.
func (p *Printer) Finish(res *session.TurnResult, err error) *Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.result
	r.DurationMS = time.Since(p.startTime).Milliseconds()
	r.ToolCalls = p.toolCalls
	switch {
	case err != nil:
		r.Status = "error"
		r.Error = err.Error()
		if r.ExitCode == ExitSuccess {
			r.ExitCode = ExitError
		}
	case res != nil:
		r.SessionID = res.SessionID
		r.Steps = res.Steps
		usage := res.Usage
		r.Usage = &usage
		r.Status, r.ExitCode = outcome(res)
		if res.Error != nil {
			r.Error = res.Error.Message
		}
	}

	switch p.format {
	case OutputText:
		p.newline()
		if !p.quiet {
			p.printSummary(r)
		}
	case OutputJSON:
		data, mErr := json.MarshalIndent(r, "", "  ")
		if mErr == nil {
			fmt.Fprintln(p.writer, string(data))
		}
	}
	return r
}

// SetExitCode presets the exit code reported for a failure passed to Finish.
func (p *Printer) SetExitCode(code ExitCode) {
	p.mu.Lock()
	p.result.ExitCode = code
	p.mu.Unlock()
}

// SetModel sets the model reported in the result.
func (p *Printer) SetModel(model string) {
	p.mu.Lock()
	p.result.Model = model
	p.mu.Unlock()
}

func (p *Printer) printSummary(r *Result) {
	line := fmt.Sprintf("[%s] session %s in %s", r.Status, truncateID(r.SessionID), formatDuration(time.Duration(r.DurationMS)*time.Millisecond))
	if r.Usage != nil && r.Usage.Total() > 0 {
		line += fmt.Sprintf(" (input: %d tokens, output: %d tokens)", r.Usage.InputTokens, r.Usage.OutputTokens)
	}
	if r.ExitCode == ExitSuccess {
		fmt.Fprintln(p.writer, doneColor.Sprint(line))
	} else {
		fmt.Fprintln(p.writer, errorColor.Sprint(line))
	}
}

// outcome maps a turn result to a status and exit code.
func outcome(res *session.TurnResult) (string, ExitCode) {
	switch res.State {
	case types.StateCancelled:
		return "cancelled", ExitCancelled
	case types.StateFailed:
		if res.Error == nil {
			return "error", ExitError
		}
		switch res.Error.Kind {
		case types.ErrAuthentication, types.ErrTransport, types.ErrVendor, types.ErrProtocol:
			return "error", ExitProviderError
		case types.ErrPermissionDenied:
			return "permission_denied", ExitPermissionDenied
		case types.ErrCancelled:
			return "cancelled", ExitCancelled
		}
		return "error", ExitError
	}
	return "success", ExitSuccess
}

// Helper functions

func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncateOutput(s, max)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// formatToolInfo summarizes a tool input for the status line.
func formatToolInfo(tool string, input json.RawMessage) string {
	get := func(field string) string { return gjson.GetBytes(input, field).String() }

	switch tool {
	case "read", "write", "edit":
		if path := get("filePath"); path != "" {
			return path
		}
	case "bash":
		if cmd := get("command"); cmd != "" {
			return "$ " + firstLine(cmd, 60)
		}
	case "glob", "grep":
		if pattern := get("pattern"); pattern != "" {
			return pattern
		}
	case "list":
		return get("path")
	case "webfetch":
		return get("url")
	}
	return ""
}
