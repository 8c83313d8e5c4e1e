package headless

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/permission"
	"github.com/opencode-ai/codeagent/pkg/types"
)

// Responder answers permission requests; *permission.Asker implements it.
type Responder interface {
	Respond(requestID, action string) bool
}

var _ Responder = (*permission.Asker)(nil)

// Prompter asks permission questions on a terminal. An answer of y or yes
// allows once, a or always remembers the approval for the session; anything
// else, including end of input, rejects.
type Prompter struct {
	mu        sync.Mutex
	responder Responder
	in        *bufio.Reader
	out       io.Writer
}

// NewPrompter reads answers from in and writes questions to out.
func NewPrompter(responder Responder, in io.Reader, out io.Writer) *Prompter {
	return &Prompter{responder: responder, in: bufio.NewReader(in), out: out}
}

// Ask shows the question, waits for one line of input and responds.
func (p *Prompter) Ask(ask *types.PermissionAsk) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\n%s %s\n", color.New(color.FgYellow, color.Bold).Sprint("permission ›"), describe(ask))
	if ask.Reason != "" {
		fmt.Fprintln(p.out, color.New(color.FgHiBlack).Sprint("  "+ask.Reason))
	}
	fmt.Fprint(p.out, "  allow? [y]es / [a]lways / [N]o: ")

	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(p.out)
	}
	action := parseAnswer(line)
	if !p.responder.Respond(ask.ID, action) {
		logging.Debug().Str("request", ask.ID).Msg("permission request no longer pending")
	}
}

func describe(ask *types.PermissionAsk) string {
	switch permission.Kind(ask.Permission) {
	case permission.KindBash:
		return fmt.Sprintf("%s wants to run: %s", ask.ToolName, ask.Target)
	case permission.KindDoomLoop:
		return fmt.Sprintf("%s keeps repeating the same call", ask.ToolName)
	}
	return fmt.Sprintf("%s wants %s access to %s", ask.ToolName, ask.Permission, ask.Target)
}

func parseAnswer(line string) string {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return permission.ResponseOnce
	case "a", "always":
		return permission.ResponseAlways
	}
	return permission.ResponseReject
}
