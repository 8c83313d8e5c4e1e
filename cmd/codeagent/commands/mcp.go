package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/codeagent/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Connect the configured MCP servers and show their status",
	Long: `Connect every MCP server from the configuration and report whether it
came up, which server software answered and the tools it contributes.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir("")
	if err != nil {
		return err
	}
	e, err := newEngine(cmd.Context(), workDir, engineOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	if e.mcp == nil {
		fmt.Println("No MCP servers configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tSTATUS\tTOOLS\tINFO\t")
	for _, s := range e.mcp.Status() {
		info := s.Server
		if s.Error != nil {
			info = *s.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t\n", s.Name, statusColor(s.Status), s.ToolCount, info)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if tools := e.mcp.ListTools(); len(tools) > 0 {
		fmt.Println()
		for _, t := range tools {
			fmt.Printf("  %s  %s\n", color.CyanString(t.Name), firstLine(t.Description))
		}
	}
	return nil
}

func statusColor(s mcp.Status) string {
	switch s {
	case mcp.StatusConnected:
		return color.GreenString(string(s))
	case mcp.StatusFailed:
		return color.RedString(string(s))
	}
	return color.YellowString(string(s))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
