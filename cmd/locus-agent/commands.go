package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/locus-hq/locus-agent/internal/config"
	"github.com/locus-hq/locus-agent/internal/events"
	"github.com/locus-hq/locus-agent/internal/git"
	"github.com/locus-hq/locus-agent/internal/worker"
)

func runCmd() *cobra.Command {
	cfg := config.Load()
	var sandboxMode string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Claim and execute tasks until the backlog is empty",
		Long: `Run the worker loop: dispatch the next ready task from the workspace
server, execute it with the configured AI agent, integrate the changes and
report the outcome. The loop stops when no tasks remain, the per-run task
cap is reached, or the process receives SIGINT/SIGTERM.

All flags can also be set through LOCUS_* environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sandboxMode != "" {
				cfg.SandboxMode = sandboxMode
			}
			if cfg.ProjectDir == "" {
				if dir, err := os.Getwd(); err == nil {
					cfg.ProjectDir = dir
				}
			}
			if abs, err := filepath.Abs(cfg.ProjectDir); err == nil {
				cfg.ProjectDir = abs
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			w, err := worker.New(cfg)
			if err != nil {
				return err
			}
			defer w.Close()

			version, err := w.Preflight()
			if err != nil {
				return fmt.Errorf("runner preflight failed: %w", err)
			}
			log.Printf("🤖 Runner: %s (%s)", cfg.Provider, version)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// A signal aborts the in-flight agent so it can die gracefully
			// before the loop winds down
			go func() {
				<-ctx.Done()
				w.Abort()
			}()

			if cfg.Verbose {
				ch := w.Events().Subscribe("cli")
				go func() {
					for ev := range ch {
						log.Printf("   %s", events.FormatCompact(ev))
					}
				}()
			}

			return w.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.AgentID, "agent-id", cfg.AgentID, "agent identity registered with the workspace")
	flags.StringVar(&cfg.WorkspaceID, "workspace-id", cfg.WorkspaceID, "workspace to claim tasks from")
	flags.StringVar(&cfg.SprintID, "sprint-id", cfg.SprintID, "restrict dispatch to one sprint")
	flags.StringVar(&cfg.APIBase, "api-base", cfg.APIBase, "workspace server base URL")
	flags.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "workspace server API key")
	flags.StringVar(&cfg.ProjectDir, "project", cfg.ProjectDir, "project directory (defaults to the current directory)")
	flags.StringVar(&cfg.Provider, "provider", cfg.Provider, "agent provider: claude or codex")
	flags.StringVar(&cfg.Model, "model", cfg.Model, "model override passed to the agent")
	flags.StringVar(&cfg.RunnerPath, "runner-path", cfg.RunnerPath, "path to the agent binary")
	flags.BoolVar(&cfg.UseWorktrees, "worktrees", cfg.UseWorktrees, "isolate each task in its own git worktree")
	flags.BoolVar(&cfg.AutoPush, "auto-push", cfg.AutoPush, "push branches and open pull requests automatically")
	flags.StringVar(&sandboxMode, "sandbox", "", "sandbox mode: off, ephemeral, persistent or user")
	flags.StringVar(&cfg.SandboxName, "sandbox-name", cfg.SandboxName, "container name for user-managed sandboxes")
	flags.StringVar(&cfg.SandboxCLI, "sandbox-cli", cfg.SandboxCLI, "container CLI binary (defaults to docker)")
	flags.StringVar(&cfg.SandboxImage, "sandbox-image", cfg.SandboxImage, "sandbox container image")
	flags.IntVar(&cfg.MaxTasks, "max-tasks", cfg.MaxTasks, "maximum tasks to process in one run")
	flags.DurationVar(&cfg.TaskTimeout, "task-timeout", cfg.TaskTimeout, "per-task execution timeout")
	flags.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "liveness report interval")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "verbose logging")

	return cmd
}

func worktreeCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Manage task worktrees",
	}
	cmd.PersistentFlags().StringVar(&projectDir, "project", ".", "project directory")

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Remove worktrees left behind by interrupted runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(projectDir)
			if err != nil {
				return err
			}

			wm := git.NewWorktreeManager(dir, filepath.Join(dir, ".locus", "worktrees"))
			pruned, err := wm.PruneOrphaned()
			if err != nil {
				return err
			}

			if len(pruned) == 0 {
				fmt.Println("Nothing to prune")
				return nil
			}
			for _, taskID := range pruned {
				fmt.Printf("Pruned %s\n", taskID)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List task worktrees on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(projectDir)
			if err != nil {
				return err
			}

			wm := git.NewWorktreeManager(dir, filepath.Join(dir, ".locus", "worktrees"))
			worktrees, err := wm.ListWorktreesOnDisk()
			if err != nil {
				return err
			}

			if len(worktrees) == 0 {
				fmt.Println("No task worktrees")
				return nil
			}
			for _, taskID := range worktrees {
				fmt.Println(taskID)
			}
			return nil
		},
	})

	return cmd
}
