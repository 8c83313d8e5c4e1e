package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/session"
)

// Runner executes one prompt against a session.
type Runner struct {
	Store     *session.Store
	Processor *session.Processor
	Printer   *Printer
	// Stdin is read when Config.ReadStdin is set.
	Stdin io.Reader
}

// Run builds the prompt, resolves the session and runs one turn. The
// returned error is non-nil only when the turn could not start; the result
// is always set. Cancelling ctx cancels the turn, which is then recorded as
// cancelled.
func (r *Runner) Run(ctx context.Context, cfg *Config) (*Result, error) {
	r.Printer.SetModel(cfg.Model)

	prompt, err := r.prompt(cfg)
	if err != nil {
		r.Printer.SetExitCode(ExitInvalidInput)
		return r.Printer.Finish(nil, err), err
	}
	if prompt == "" {
		err := errors.New("prompt is required")
		r.Printer.SetExitCode(ExitInvalidInput)
		return r.Printer.Finish(nil, err), err
	}

	sessionID, err := r.resolveSession(ctx, cfg)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			r.Printer.SetExitCode(ExitSessionNotFound)
		}
		return r.Printer.Finish(nil, err), err
	}

	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	logging.Info().Str("session", sessionID).Str("model", cfg.Model).Msg("running prompt")
	res, err := r.Processor.Process(runCtx, sessionID, prompt, r.Printer.Handle)
	if err != nil {
		return r.Printer.Finish(nil, err), err
	}
	return r.Printer.Finish(res, nil), nil
}

// prompt joins the prompt, standard input and attached files.
func (r *Runner) prompt(cfg *Config) (string, error) {
	prompt := cfg.Prompt

	if cfg.ReadStdin && r.Stdin != nil {
		data, err := io.ReadAll(r.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		if in := strings.TrimSpace(string(data)); in != "" {
			if prompt != "" {
				prompt = prompt + "\n\n" + in
			} else {
				prompt = in
			}
		}
	}

	if len(cfg.Files) > 0 {
		var fileContent strings.Builder
		for _, file := range cfg.Files {
			content, err := os.ReadFile(file)
			if err != nil {
				return "", fmt.Errorf("failed to read file %s: %w", file, err)
			}
			fmt.Fprintf(&fileContent, "\n\n--- File: %s ---\n%s", file, content)
		}
		prompt = prompt + fileContent.String()
	}

	return strings.TrimSpace(prompt), nil
}

// resolveSession returns the session to continue or a new one.
func (r *Runner) resolveSession(ctx context.Context, cfg *Config) (string, error) {
	if cfg.SessionID != "" {
		if _, err := r.Store.Get(ctx, cfg.SessionID); err != nil {
			return "", err
		}
		return cfg.SessionID, nil
	}

	if cfg.ContinueLast {
		if id, ok, err := r.lastSession(ctx, cfg.WorkDir); err != nil {
			return "", err
		} else if ok {
			return id, nil
		}
	}

	sess, err := r.Store.Create(ctx, cfg.WorkDir, cfg.Title)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sess.ID, nil
}

// lastSession finds the most recently updated session of workDir.
func (r *Runner) lastSession(ctx context.Context, workDir string) (string, bool, error) {
	sessions, err := r.Store.List(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, s := range sessions {
		if workDir == "" || s.ProjectPath == workDir {
			return s.ID, true, nil
		}
	}
	return "", false, nil
}
