// Package permission decides whether a tool may touch a resource.
package permission

import (
	"errors"
	"fmt"

	"github.com/opencode-ai/codeagent/pkg/types"
)

// Kind is the resource class a tool declares.
type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
	KindEdit  Kind = "edit"
	KindBash  Kind = "bash"
	KindWeb   Kind = "web"
	KindMCP   Kind = "mcp"
	// KindAll in a rule matches every kind.
	KindAll Kind = "all"
	// KindDoomLoop is asked about when a tool repeats the same call.
	KindDoomLoop Kind = "doom_loop"
	// KindNone marks tools that need no permission.
	KindNone Kind = ""
)

// Action is the outcome a rule prescribes.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionAsk   Action = "ask"
)

// Mode is the policy default applied when no rule matches.
type Mode string

const (
	ModeAsk      Mode = "ask"
	ModeAllowAll Mode = "allow-all"
	ModeDenyAll  Mode = "deny-all"
)

// Rule gates one kind of access. An empty Pattern matches every target.
type Rule struct {
	Permission Kind   `json:"permission" yaml:"permission"`
	Pattern    string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Action     Action `json:"action" yaml:"action"`
}

func (r Rule) String() string {
	if r.Pattern == "" {
		return fmt.Sprintf("%s %s", r.Action, r.Permission)
	}
	return fmt.Sprintf("%s %s %q", r.Action, r.Permission, r.Pattern)
}

// Policy is a rule list plus a default mode.
type Policy struct {
	Default Mode   `json:"default" yaml:"default"`
	Rules   []Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
	// DoomLoop is applied to the third identical tool call in a row.
	// Empty means ask; allow disables detection.
	DoomLoop Action `json:"doomLoop,omitempty" yaml:"doom_loop,omitempty"`
}

// DoomLoopAction returns the action for a repeated identical call.
func (p Policy) DoomLoopAction() Action {
	if p.DoomLoop == "" {
		return ActionAsk
	}
	return p.DoomLoop
}

// Decision is the result of a check. Allowed is true only for ActionAllow.
type Decision struct {
	Action  Action
	Allowed bool
	Reason  string
	// Rule is the rule that decided, nil when the default mode applied.
	Rule *Rule
}

var (
	ErrInvalidMode   = errors.New("invalid permission mode")
	ErrInvalidAction = errors.New("invalid permission action")
	ErrInvalidKind   = errors.New("invalid permission kind")
)

// PolicyFromConfig validates configured rules.
func PolicyFromConfig(cfg *types.PermissionConfig) (Policy, error) {
	p := Policy{Default: ModeAsk}
	if cfg == nil {
		return p, nil
	}
	if cfg.Default != "" {
		switch Mode(cfg.Default) {
		case ModeAsk, ModeAllowAll, ModeDenyAll:
			p.Default = Mode(cfg.Default)
		default:
			return p, fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Default)
		}
	}
	for i, rc := range cfg.Rules {
		r := Rule{Permission: Kind(rc.Permission), Pattern: rc.Pattern, Action: Action(rc.Action)}
		switch r.Permission {
		case KindRead, KindWrite, KindEdit, KindBash, KindWeb, KindMCP, KindAll:
		default:
			return p, fmt.Errorf("rule %d: %w: %q", i, ErrInvalidKind, rc.Permission)
		}
		switch r.Action {
		case ActionAllow, ActionDeny, ActionAsk:
		default:
			return p, fmt.Errorf("rule %d: %w: %q", i, ErrInvalidAction, rc.Action)
		}
		p.Rules = append(p.Rules, r)
	}
	switch Action(cfg.DoomLoop) {
	case "", ActionAllow, ActionDeny, ActionAsk:
		p.DoomLoop = Action(cfg.DoomLoop)
	default:
		return p, fmt.Errorf("doom_loop: %w: %q", ErrInvalidAction, cfg.DoomLoop)
	}
	return p, nil
}

// Request is an interactive permission question.
type Request struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	CallID    string         `json:"callID,omitempty"`
	Kind      Kind           `json:"permission"`
	Target    string         `json:"target"`
	ToolName  string         `json:"toolName,omitempty"`
	Title     string         `json:"title"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Response values accepted by Asker.Respond.
const (
	ResponseOnce   = "once"
	ResponseAlways = "always"
	ResponseReject = "reject"
)

// Response represents a user's response to a permission request.
type Response struct {
	RequestID string `json:"requestID"`
	Action    string `json:"action"` // "once" | "always" | "reject"
}

// RejectedError is returned when permission is denied.
type RejectedError struct {
	SessionID string
	Kind      Kind
	Target    string
	CallID    string
	Message   string
}

func (e *RejectedError) Error() string {
	return e.Message
}

// IsRejectedError checks if an error is a permission rejection.
func IsRejectedError(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
