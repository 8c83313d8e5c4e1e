package session

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/opencode-ai/codeagent/internal/project"
)

const defaultBasePrompt = `You are codeagent, a coding assistant working in the user's project.

You have tools that read, write and edit files, run shell commands, search the code and fetch web pages. Use them to do the work rather than describing it.

For file operations:
- Read files before editing to understand context
- Make minimal, focused changes
- Preserve existing code style and formatting`

const toolGuidelines = `# Tool Usage Guidelines

1. **Files**
   - Use read before edit; use write only for new files or full rewrites
   - Paths may be relative to the working directory

2. **Shell**
   - Prefer the dedicated tools over bash for reading and searching
   - Give every bash command a short description

3. **Search**
   - Use glob to find files by name and grep to search contents
   - Keep patterns specific`

// SystemPrompt builds the system prompt for a turn.
type SystemPrompt struct {
	// Base replaces the built-in prompt when set.
	Base    string
	WorkDir string
	// Instructions are extra files whose contents are appended.
	Instructions []string

	now func() time.Time
}

// NewSystemPrompt creates a builder for workDir.
func NewSystemPrompt(base, workDir string, instructions []string) *SystemPrompt {
	return &SystemPrompt{Base: base, WorkDir: workDir, Instructions: instructions, now: time.Now}
}

// Build assembles the prompt: base prompt, environment block, project
// rules, instruction files and tool guidelines.
func (s *SystemPrompt) Build() string {
	base := s.Base
	if base == "" {
		base = defaultBasePrompt
	}
	parts := []string{base, s.environment()}
	if rules := s.projectRules(); rules != "" {
		parts = append(parts, rules)
	}
	for _, path := range s.Instructions {
		if !filepath.IsAbs(path) && s.WorkDir != "" {
			path = filepath.Join(s.WorkDir, path)
		}
		content, err := os.ReadFile(path)
		if err != nil || len(content) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("# Instructions from %s\n\n%s", filepath.Base(path), strings.TrimSpace(string(content))))
	}
	parts = append(parts, toolGuidelines)
	return strings.Join(parts, "\n\n")
}

func (s *SystemPrompt) environment() string {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	workDir := s.WorkDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	var env strings.Builder
	env.WriteString("# Environment Information\n\n")
	fmt.Fprintf(&env, "Working Directory: %s\n", workDir)
	fmt.Fprintf(&env, "Current Date: %s\n", now().Format("2006-01-02"))
	fmt.Fprintf(&env, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if info, err := project.Detect(workDir); err == nil {
		if info.IsGit() {
			fmt.Fprintf(&env, "Git Repository: %s\n", info.Worktree)
			if info.Branch != "" {
				fmt.Fprintf(&env, "Git Branch: %s\n", info.Branch)
			}
		}
		if info.Kind != "" {
			fmt.Fprintf(&env, "Project Type: %s\n", info.Kind)
		}
	}
	return strings.TrimRight(env.String(), "\n")
}

// projectRules returns the first rules file found in the project.
func (s *SystemPrompt) projectRules() string {
	if s.WorkDir == "" {
		return ""
	}
	for _, name := range []string{"AGENTS.md", "CLAUDE.md", filepath.Join(".codeagent", "rules.md")} {
		content, err := os.ReadFile(filepath.Join(s.WorkDir, name))
		if err == nil && len(content) > 0 {
			return fmt.Sprintf("# Project Rules\n\n%s", strings.TrimSpace(string(content)))
		}
	}
	return ""
}
