// Package main is the entry point for the Locus agent worker CLI
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "locus-agent",
		Short: "Autonomous task worker for Locus workspaces",
		Long: `locus-agent claims tasks from a Locus workspace server and implements them
with an AI coding agent. Each task runs in an isolated git worktree (optionally
inside a sandbox container); completed work is committed, pushed and opened as
a pull request, and the task's status is reported back to the workspace.`,
		Version: "0.1.0",
	}

	rootCmd.AddCommand(
		runCmd(),
		worktreeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
