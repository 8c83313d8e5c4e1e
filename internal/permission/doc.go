// Package permission decides whether a tool may touch a resource.
//
// # Policy
//
// A Policy is an ordered list of rules plus a default mode:
//
//	policy := permission.Policy{
//		Default: permission.ModeAsk,
//		Rules: []permission.Rule{
//			{Permission: permission.KindBash, Pattern: "git *", Action: permission.ActionAllow},
//			{Permission: permission.KindBash, Pattern: "rm *", Action: permission.ActionDeny},
//			{Permission: permission.KindEdit, Pattern: "**/*.env", Action: permission.ActionDeny},
//			{Permission: permission.KindWeb, Pattern: "*.golang.org", Action: permission.ActionAllow},
//		},
//	}
//	d := permission.Check(policy, permission.KindBash, "git status && rm -rf build")
//	// d.Action == ActionDeny: one command of the line is denied.
//
// Check is pure. Deny rules win over allow rules, allow rules over ask rules,
// and the default mode (ask, allow-all, deny-all) applies when nothing
// matches. A rule of kind "all" matches every kind; a rule without a pattern
// matches every target.
//
// # Patterns
//
// Paths (read, write, edit) and URLs (web) use doublestar globs; a pattern
// without a slash also matches a path's base name and a URL's host. Bash
// patterns are word patterns evaluated per command of the parsed line:
//   - "git commit *" matches git commit with any arguments
//   - "git *" matches any git invocation with arguments
//   - "git" matches git with no arguments
//   - "*" matches any command
//
// MCP tools are matched by their registered name, e.g. "calc_*".
//
// # Asking
//
// When a decision is ask, the Asker holds the question until a front end
// answers it with once, always or reject. "always" is remembered per
// session and kind; for bash it covers the command patterns of the line
// (see BuildPattern) as well as the exact line. Questions are announced on the event bus as
// permission.asked and answers as permission.resolved.
//
// # Doom loops
//
// DoomLoopDetector flags the third identical call of a tool in a row so the
// caller can escalate it to a question.
package permission
