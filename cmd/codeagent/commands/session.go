package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/codeagent/pkg/types"
)

var (
	sessionAll         bool
	sessionJSON        bool
	sessionOlderThan   time.Duration
	sessionPruneDryRun bool
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	Long: `List the sessions of the current directory, most recently updated first.
Use --all to include every directory.`,
	Args: cobra.NoArgs,
	RunE: runSessionList,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDelete,
}

var sessionPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete sessions not updated recently",
	Args:  cobra.NoArgs,
	RunE:  runSessionPrune,
}

func init() {
	sessionListCmd.Flags().BoolVarP(&sessionAll, "all", "a", false, "Include sessions of every directory")
	sessionShowCmd.Flags().BoolVar(&sessionJSON, "json", false, "Print the stored session as JSON")
	sessionPruneCmd.Flags().DurationVar(&sessionOlderThan, "older-than", 720*time.Hour, "Age of the last update")
	sessionPruneCmd.Flags().BoolVar(&sessionPruneDryRun, "dry-run", false, "Only list what would be deleted")

	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionDeleteCmd, sessionPruneCmd)
}

func runSessionList(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir("")
	if err != nil {
		return err
	}
	_, store, err := newStore(workDir)
	if err != nil {
		return err
	}
	sessions, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tSTATUS\tMESSAGES\tTITLE\t")
	for _, s := range sessions {
		if !sessionAll && s.ProjectPath != workDir {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t\n",
			s.ID,
			time.UnixMilli(s.UpdatedAt).Format("2006-01-02 15:04"),
			s.Status,
			s.MessageCount,
			s.Title,
		)
	}
	return w.Flush()
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir("")
	if err != nil {
		return err
	}
	_, store, err := newStore(workDir)
	if err != nil {
		return err
	}
	sess, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if sessionJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	}

	bold := color.New(color.Bold)
	faint := color.New(color.FgHiBlack)
	bold.Printf("%s  %s\n", sess.ID, sess.Title)
	faint.Printf("%s · %s · %d messages\n", sess.ProjectPath, sess.Status, len(sess.Messages))
	if sess.Compaction != nil {
		faint.Printf("compacted before %s\n", sess.Compaction.BoundaryMessageID)
	}
	for _, m := range sess.Messages {
		fmt.Println()
		printMessage(m)
	}
	return nil
}

func printMessage(m types.Message) {
	roleColor := color.New(color.FgCyan, color.Bold)
	if m.Role == types.RoleUser {
		roleColor = color.New(color.FgGreen, color.Bold)
	}
	roleColor.Printf("[%s]\n", m.Role)
	for _, b := range m.Content {
		switch b.Type {
		case types.BlockText:
			fmt.Println(b.Text)
		case types.BlockThinking:
			color.New(color.FgHiBlack).Println(b.Text)
		case types.BlockToolUse:
			color.New(color.FgYellow).Printf("→ %s %s (%s)\n", b.Name, string(b.Input), b.Status)
		case types.BlockToolResult:
			out := b.Output
			if len(out) > 300 {
				out = out[:300] + "..."
			}
			if b.IsError {
				color.New(color.FgRed).Printf("← error: %s\n", out)
			} else {
				fmt.Printf("← %s\n", out)
			}
		case types.BlockError:
			color.New(color.FgRed).Printf("[error] %s: %s\n", b.Code, b.Message)
		}
	}
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir("")
	if err != nil {
		return err
	}
	_, store, err := newStore(workDir)
	if err != nil {
		return err
	}
	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func runSessionPrune(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir("")
	if err != nil {
		return err
	}
	_, store, err := newStore(workDir)
	if err != nil {
		return err
	}

	if sessionPruneDryRun {
		sessions, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		cutoff := time.Now().Add(-sessionOlderThan).UnixMilli()
		for _, s := range sessions {
			if s.UpdatedAt < cutoff {
				fmt.Printf("would delete %s\t%s\n", s.ID, s.Title)
			}
		}
		return nil
	}

	pruned, err := store.Prune(cmd.Context(), sessionOlderThan)
	for _, id := range pruned {
		fmt.Printf("deleted %s\n", id)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%d session(s) pruned\n", len(pruned))
	return nil
}
