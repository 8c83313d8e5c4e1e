// Package project detects what kind of project a working directory belongs
// to: its git worktree, current branch and language.
package project

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Info describes the project of a directory.
type Info struct {
	// Directory is the absolute directory that was inspected.
	Directory string `json:"directory"`
	// Worktree is the git worktree root, or Directory outside git.
	Worktree string `json:"worktree"`
	// GitDir is empty outside git.
	GitDir string `json:"gitDir,omitempty"`
	// Branch is the checked-out branch, or the abbreviated commit when HEAD
	// is detached.
	Branch string `json:"branch,omitempty"`
	// Kind is the language inferred from marker files, e.g. "Go".
	Kind string `json:"kind,omitempty"`
}

// IsGit reports whether the directory is inside a git repository.
func (i *Info) IsGit() bool {
	return i.GitDir != ""
}

// cache stores project info by directory to avoid repeated lookups.
var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*Info)
)

// Detect inspects directory. Results are cached per directory except the
// branch, which is re-read on every call.
func Detect(directory string) (*Info, error) {
	directory, err := filepath.Abs(directory)
	if err != nil {
		return nil, err
	}

	cacheMu.RLock()
	cached, ok := cache[directory]
	cacheMu.RUnlock()
	if ok {
		info := *cached
		if info.GitDir != "" {
			info.Branch = readBranch(info.GitDir)
		}
		return &info, nil
	}

	info := &Info{Directory: directory, Worktree: directory}
	if gitDir, worktree := findGitDir(directory); gitDir != "" {
		info.GitDir = gitDir
		info.Worktree = worktree
		info.Branch = readBranch(gitDir)
	}
	info.Kind = detectKind(directory, info.Worktree)

	cacheMu.Lock()
	cache[directory] = info
	cacheMu.Unlock()
	out := *info
	return &out, nil
}

// findGitDir walks up from start looking for .git and returns the git
// directory and the worktree containing it.
func findGitDir(start string) (gitDir, worktree string) {
	current := start
	for {
		gitPath := filepath.Join(current, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() {
				return gitPath, current
			}
			// .git is a file for worktrees and submodules.
			if content, err := os.ReadFile(gitPath); err == nil {
				line := strings.TrimSpace(string(content))
				if dir, ok := strings.CutPrefix(line, "gitdir: "); ok {
					if !filepath.IsAbs(dir) {
						dir = filepath.Join(current, dir)
					}
					return filepath.Clean(dir), current
				}
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", ""
		}
		current = parent
	}
}

// readBranch parses HEAD without running git.
func readBranch(gitDir string) string {
	data, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return ""
	}
	head := strings.TrimSpace(string(data))
	if ref, ok := strings.CutPrefix(head, "ref: "); ok {
		return strings.TrimPrefix(ref, "refs/heads/")
	}
	if len(head) > 7 {
		return head[:7]
	}
	return head
}

var kindIndicators = []struct {
	kind  string
	files []string
}{
	{"Go", []string{"go.mod"}},
	{"Node.js", []string{"package.json"}},
	{"Python", []string{"pyproject.toml", "setup.py", "requirements.txt"}},
	{"Rust", []string{"Cargo.toml"}},
	{"Java", []string{"pom.xml", "build.gradle"}},
	{"Ruby", []string{"Gemfile"}},
}

// detectKind checks the directory first, then the worktree root.
func detectKind(dirs ...string) string {
	for _, dir := range dirs {
		for _, ind := range kindIndicators {
			for _, f := range ind.files {
				if _, err := os.Stat(filepath.Join(dir, f)); err == nil {
					return ind.kind
				}
			}
		}
	}
	return ""
}

// ClearCache clears the project cache. Useful for testing.
func ClearCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = make(map[string]*Info)
}
