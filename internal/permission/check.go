package permission

import (
	"fmt"
)

// Check evaluates policy for one access. It performs no I/O.
//
// A matching deny rule wins over a matching allow rule, which wins over a
// matching ask rule; with no match the policy default applies. Bash targets
// are split into their simple commands and each is decided on its own: any
// denied command denies the line, and the line is allowed only when every
// command is.
func Check(policy Policy, kind Kind, target string) Decision {
	if kind == KindNone {
		return allow(nil, "no permission required")
	}
	if kind != KindBash {
		return decide(policy, kind, func(pattern string) bool {
			return matchTarget(kind, pattern, target)
		}, target)
	}

	commands := bashCommands(target)
	if len(commands) == 0 {
		return decide(policy, kind, func(pattern string) bool { return pattern == "*" }, target)
	}

	var pending *Decision
	for _, cmd := range commands {
		d := decide(policy, kind, func(pattern string) bool {
			return MatchPattern(pattern, cmd)
		}, cmd.String())
		switch d.Action {
		case ActionDeny:
			return d
		case ActionAsk:
			if pending == nil {
				pending = &d
			}
		}
	}
	if pending != nil {
		return *pending
	}
	return allow(nil, fmt.Sprintf("every command of %q is allowed", target))
}

// decide applies rule precedence for a single target.
func decide(policy Policy, kind Kind, match func(pattern string) bool, target string) Decision {
	var allowRule, askRule *Rule
	for i := range policy.Rules {
		r := &policy.Rules[i]
		if r.Permission != kind && r.Permission != KindAll {
			continue
		}
		if r.Pattern != "" && !match(r.Pattern) {
			continue
		}
		switch r.Action {
		case ActionDeny:
			return Decision{Action: ActionDeny, Reason: fmt.Sprintf("%s denied for %q by rule %s", kind, target, r), Rule: r}
		case ActionAllow:
			if allowRule == nil {
				allowRule = r
			}
		case ActionAsk:
			if askRule == nil {
				askRule = r
			}
		}
	}
	if allowRule != nil {
		return allow(allowRule, fmt.Sprintf("%s allowed for %q by rule %s", kind, target, allowRule))
	}
	if askRule != nil {
		return Decision{Action: ActionAsk, Reason: fmt.Sprintf("%s on %q requires confirmation (rule %s)", kind, target, askRule), Rule: askRule}
	}

	switch policy.Default {
	case ModeAllowAll:
		return allow(nil, "allowed by default mode allow-all")
	case ModeDenyAll:
		return Decision{Action: ActionDeny, Reason: fmt.Sprintf("%s denied for %q: no rule matches and default mode is deny-all", kind, target)}
	}
	return Decision{Action: ActionAsk, Reason: fmt.Sprintf("%s on %q requires confirmation", kind, target)}
}

func allow(rule *Rule, reason string) Decision {
	return Decision{Action: ActionAllow, Allowed: true, Reason: reason, Rule: rule}
}

func matchTarget(kind Kind, pattern, target string) bool {
	switch kind {
	case KindRead, KindWrite, KindEdit:
		return matchPath(pattern, target)
	case KindWeb:
		return matchURL(pattern, target)
	}
	return globMatch(pattern, target)
}

// Checker binds a policy so tools can ask about their own accesses.
type Checker struct {
	policy Policy
}

// NewChecker creates a checker for policy.
func NewChecker(policy Policy) *Checker {
	return &Checker{policy: policy}
}

// Policy returns the bound policy.
func (c *Checker) Policy() Policy {
	return c.policy
}

// Check evaluates the bound policy.
func (c *Checker) Check(kind Kind, target string) Decision {
	if c == nil {
		return Check(Policy{Default: ModeAsk}, kind, target)
	}
	return Check(c.policy, kind, target)
}
