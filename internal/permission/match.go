package permission

import (
	"net/url"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchPattern reports whether a bash rule pattern covers one simple
// command. A pattern is a list of words compared position by position, "*"
// matching any single word. A trailing "*" also matches any remaining
// arguments, so "git *" covers every git invocation while "pwd" only
// covers pwd without arguments. The lone pattern "*" covers everything.
func MatchPattern(pattern string, cmd BashCommand) bool {
	words := strings.Fields(pattern)
	if len(words) == 0 {
		return false
	}
	if len(words) == 1 && words[0] == "*" {
		return true
	}
	if !wordMatches(words[0], cmd.Name) {
		return false
	}

	want := words[1:]
	open := len(want) > 0 && want[len(want)-1] == "*"
	if open {
		want = want[:len(want)-1]
		if len(cmd.Args) < len(want) {
			return false
		}
	} else if len(cmd.Args) != len(want) {
		return false
	}
	for i, w := range want {
		if !wordMatches(w, cmd.Args[i]) {
			return false
		}
	}
	return true
}

func wordMatches(pattern, word string) bool {
	return pattern == "*" || pattern == word
}

// BuildPattern is the rule pattern an "always" answer records for cmd:
// "git commit -m msg" gives "git commit *", "ls -la" gives "ls *".
func BuildPattern(cmd BashCommand) string {
	if cmd.Subcommand != "" {
		return cmd.Name + " " + cmd.Subcommand + " *"
	}
	return cmd.Name + " *"
}

// BuildPatterns returns the distinct patterns of commands in order. cd is
// left out; approving a directory change approves nothing else.
func BuildPatterns(commands []BashCommand) []string {
	var patterns []string
	for _, cmd := range commands {
		if cmd.Name == "cd" {
			continue
		}
		if p := BuildPattern(cmd); !slices.Contains(patterns, p) {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// matchPath applies a doublestar pattern to a path. Patterns without a
// slash are also tried against the base name, so "*.env" reaches into
// subdirectories.
func matchPath(pattern, target string) bool {
	target = filepath.ToSlash(filepath.Clean(target))
	if globMatch(pattern, target) {
		return true
	}
	return !strings.Contains(pattern, "/") && globMatch(pattern, filepath.Base(target))
}

// matchURL applies a pattern to the whole URL and then to its host name:
// "https://docs.example.com/**" and "*.example.com" both work.
func matchURL(pattern, target string) bool {
	if globMatch(pattern, target) {
		return true
	}
	u, err := url.Parse(target)
	return err == nil && u.Host != "" && globMatch(pattern, u.Hostname())
}

func globMatch(pattern, s string) bool {
	ok, _ := doublestar.Match(pattern, s)
	return ok
}
