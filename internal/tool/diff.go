package tool

import (
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// fileChange describes a write to one file for tool result metadata.
type fileChange struct {
	Patch     string
	Additions int
	Deletions int
}

// diffFile compares the old and new content of path line by line. The
// patch carries ---/+++ headers naming the file relative to workDir.
func diffFile(path, before, after, workDir string) fileChange {
	var c fileChange
	if before == after {
		return c
	}

	dmp := diffmatchpatch.New()
	oldChars, newChars, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(oldChars, newChars, false), lines)
	for _, d := range diffs {
		n := lineCount(d.Text)
		if d.Type == diffmatchpatch.DiffInsert {
			c.Additions += n
		} else if d.Type == diffmatchpatch.DiffDelete {
			c.Deletions += n
		}
	}

	body := dmp.PatchToText(dmp.PatchMake(before, diffs))
	if body == "" {
		return c
	}
	name := relativePath(path, workDir)
	c.Patch = "--- " + name + "\n+++ " + name + "\n" + body
	return c
}

// addTo records the change in a result's metadata.
func (c fileChange) addTo(meta map[string]any) map[string]any {
	meta["diff"] = c.Patch
	meta["additions"] = c.Additions
	meta["deletions"] = c.Deletions
	return meta
}

// relativePath shows path relative to base when it lies below it.
func relativePath(path, base string) string {
	if path == "" || base == "" {
		return path
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return path
	}
	return filepath.ToSlash(rel)
}

// lineCount counts lines, including a final line without a newline.
func lineCount(text string) int {
	n := strings.Count(text, "\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
