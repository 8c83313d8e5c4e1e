package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/codeagent/internal/headless"
	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/permission"
)

var (
	runModel    string
	runContinue bool
	runSession  string
	runFormat   string
	runFiles    []string
	runTitle    string
	runDir      string
	runYes      bool
	runDeny     bool
	runStdin    bool
	runTimeout  time.Duration
	runQuiet    bool
	runVerbose  bool
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Send a message and run the turn to completion",
	Long: `Send a message to the agent and stream the reply. Tool calls that need
approval are asked on the terminal; Ctrl-C cancels the turn and keeps the
session, marked as cancelled.

Examples:
  codeagent run "Fix the bug in main.go"
  codeagent run --model anthropic/claude-sonnet-4 "Explain this code"
  codeagent run --continue "Now add tests"
  codeagent run --yes --file design.md "Implement the design"
  echo "Summarize" | codeagent run --stdin --format json`,
	RunE: runMessage,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (provider/model format)")
	runCmd.Flags().BoolVarP(&runContinue, "continue", "c", false, "Continue the last session of the directory")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session ID to continue")
	runCmd.Flags().StringVar(&runFormat, "format", "default", "Output format (default|json|jsonl)")
	runCmd.Flags().StringArrayVarP(&runFiles, "file", "f", nil, "File(s) to attach to message")
	runCmd.Flags().StringVar(&runTitle, "title", "", "Session title")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Allow every tool call without asking")
	runCmd.Flags().BoolVar(&runDeny, "deny", false, "Deny every tool call that needs approval")
	runCmd.Flags().BoolVar(&runStdin, "stdin", false, "Append standard input to the message")
	runCmd.Flags().DurationVarP(&runTimeout, "timeout", "t", 0, "Cancel the turn after this duration (e.g. 5m)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Only print the reply")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Show thinking, tool output and state changes")
	runCmd.MarkFlagsMutuallyExclusive("yes", "deny")
	runCmd.MarkFlagsMutuallyExclusive("continue", "session")
}

func runMessage(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}
	format, ok := headless.ParseOutputFormat(strings.ToLower(runFormat))
	if !ok {
		return fmt.Errorf("invalid output format: %s (must be default, json or jsonl)", runFormat)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mode permission.Mode
	switch {
	case runYes:
		mode = permission.ModeAllowAll
	case runDeny:
		mode = permission.ModeDenyAll
	}

	e, err := newEngine(ctx, workDir, engineOptions{Model: runModel, Mode: mode})
	if err != nil {
		return err
	}

	// Questions go to stderr so stdout stays the reply. Once stdin is at end
	// of input, which --stdin guarantees, every question is rejected.
	var prompter *headless.Prompter
	if e.policy.Default != permission.ModeAllowAll {
		prompter = headless.NewPrompter(e.asker, os.Stdin, os.Stderr)
	}

	runner := &headless.Runner{
		Store:     e.store,
		Processor: e.processor,
		Printer:   headless.NewPrinter(os.Stdout, format, runQuiet, runVerbose, prompter),
		Stdin:     os.Stdin,
	}
	result, err := runner.Run(ctx, &headless.Config{
		Prompt:       strings.Join(args, " "),
		WorkDir:      workDir,
		Files:        runFiles,
		ReadStdin:    runStdin,
		SessionID:    runSession,
		ContinueLast: runContinue,
		Title:        runTitle,
		Model:        e.config.Model,
		Timeout:      runTimeout,
	})
	if err != nil && format == headless.OutputText {
		fmt.Fprintln(os.Stderr, err)
	}
	if errors.Is(ctx.Err(), context.Canceled) && result.SessionID != "" {
		logging.Info().Str("session", result.SessionID).Msg("turn interrupted")
	}

	// os.Exit skips deferred calls.
	stop()
	if cerr := e.Close(); cerr != nil {
		logging.Warn().Err(cerr).Msg("shutdown")
	}
	logging.Close()
	os.Exit(int(result.ExitCode))
	return nil
}
