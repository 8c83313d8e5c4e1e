// Package main provides the entry point for the codeagent CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/codeagent/cmd/codeagent/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
