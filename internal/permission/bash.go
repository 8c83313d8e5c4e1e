package permission

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// BashCommand is one simple command of a shell line.
type BashCommand struct {
	Name       string   // e.g. "rm", "git"
	Args       []string // arguments after the name
	Subcommand string   // first non-flag argument, e.g. "commit" in "git commit"
}

// String renders the command back as words separated by single spaces.
func (c BashCommand) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// ParseBashCommand splits a shell line into its simple commands, including
// those inside pipelines, lists, subshells and command substitutions. A
// command run through a wrapper (sudo, env, xargs and the like) or through
// `sh -c` is reported after the wrapper itself, so `sudo rm x` yields both
// sudo and rm.
func ParseBashCommand(command string) ([]BashCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}

	var commands []BashCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			commands = append(commands, extractCommands(call)...)
		}
		return true
	})
	return commands, nil
}

// bashCommands is ParseBashCommand with a fallback for lines the parser
// rejects: the line is then split on whitespace and read as one command.
func bashCommands(line string) []BashCommand {
	commands, err := ParseBashCommand(line)
	if err == nil && len(commands) > 0 {
		return commands
	}
	return commandsFromWords(strings.Fields(line))
}

func extractCommands(call *syntax.CallExpr) []BashCommand {
	words := make([]string, 0, len(call.Args))
	for _, arg := range call.Args {
		words = append(words, wordToString(arg))
	}
	return commandsFromWords(words)
}

// wrappers run the rest of their arguments as a command. The values are
// the options that take a separate argument.
var wrappers = map[string][]string{
	"builtin": nil,
	"command": nil,
	"doas":    {"-u", "-C"},
	"env":     {"-u", "-C", "--unset", "--chdir"},
	"exec":    {"-a"},
	"nice":    {"-n"},
	"nohup":   nil,
	"sudo":    {"-u", "-g", "-C", "-D", "-h", "-p", "-r", "-t", "-U"},
	"time":    {"-f", "-o"},
	"timeout": {"-s", "-k"},
	"xargs":   {"-I", "-n", "-P", "-L", "-d", "-s", "-E", "-a"},
}

var shells = map[string]bool{"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true}

// commandName is the program a word runs. Backslashes and directories are
// dropped, so `\rm` and `/bin/rm` are both rm.
func commandName(word string) string {
	word = strings.ReplaceAll(word, `\`, "")
	if word == "" {
		return ""
	}
	return filepath.Base(word)
}

// commandsFromWords reads the words of one simple command. A wrapper yields
// itself and then the command it runs; a shell given -c yields itself and
// the commands of its script.
func commandsFromWords(words []string) []BashCommand {
	var out []BashCommand
	for len(words) > 0 {
		name := commandName(words[0])
		if name == "" {
			break
		}
		out = append(out, newBashCommand(name, words[1:]))

		if shells[name] {
			if script, ok := shellScript(words[1:]); ok {
				out = append(out, bashCommands(script)...)
			}
			break
		}
		valued, ok := wrappers[name]
		if !ok {
			break
		}
		words = wrapped(name, words[1:], valued)
	}
	return out
}

func newBashCommand(name string, args []string) BashCommand {
	cmd := BashCommand{Name: name}
	if len(args) > 0 {
		cmd.Args = args
	}
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			cmd.Subcommand = a
			break
		}
	}
	return cmd
}

// wrapped skips a wrapper's options and returns the command it runs, or
// nil when there is none. env also skips NAME=value assignments and timeout
// its duration.
func wrapped(name string, args, valued []string) []string {
	positional := 0
	if name == "timeout" {
		positional = 1
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			return args[i+1:]
		case slices.Contains(valued, a):
			i++
		case strings.HasPrefix(a, "-"):
		case name == "env" && strings.Contains(a, "="):
		case positional > 0:
			positional--
		default:
			return args[i:]
		}
	}
	return nil
}

// shellScript finds the script of `sh -c script`. The c may be combined
// with other options, as in -ec.
func shellScript(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-o" || a == "+o":
			i++
		case strings.HasPrefix(a, "--"):
		case strings.HasPrefix(a, "-") && strings.Contains(a, "c"):
			if i+1 < len(args) {
				return args[i+1], true
			}
			return "", false
		case strings.HasPrefix(a, "-") || strings.HasPrefix(a, "+"):
		default:
			return "", false
		}
	}
	return "", false
}

func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			// Inner commands are visited separately by the walker.
			sb.WriteString("$()")
		}
	}
	return sb.String()
}
