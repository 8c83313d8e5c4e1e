package session

import (
	"strings"
)

const maxTitleLength = 50

// deriveTitle turns the first prompt of a session into its title: the first
// non-empty line, whitespace collapsed, cut at a word boundary.
func deriveTitle(prompt string) string {
	var line string
	for _, l := range strings.Split(prompt, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	line = strings.Join(strings.Fields(line), " ")
	if line == "" {
		return ""
	}

	r := []rune(line)
	if len(r) <= maxTitleLength {
		return line
	}
	cut := string(r[:maxTitleLength-3])
	if i := strings.LastIndexByte(cut, ' '); i > maxTitleLength/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " .,;:") + "..."
}
