// Package worker runs the autonomous task loop: dispatch, isolate, execute,
// integrate, report.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/locus-hq/locus-agent/internal/api"
	"github.com/locus-hq/locus-agent/internal/config"
	"github.com/locus-hq/locus-agent/internal/events"
	"github.com/locus-hq/locus-agent/internal/executor"
	"github.com/locus-hq/locus-agent/internal/git"
	"github.com/locus-hq/locus-agent/internal/journal"
	"github.com/locus-hq/locus-agent/internal/pr"
	"github.com/locus-hq/locus-agent/internal/retry"
	"github.com/locus-hq/locus-agent/internal/runner"
	"github.com/locus-hq/locus-agent/internal/sandbox"
	"github.com/locus-hq/locus-agent/pkg/telemetry"
	"github.com/locus-hq/locus-agent/pkg/types"
)

// ErrInterrupted is returned by Run when the worker was stopped by a signal
// before finishing its loop. The CLI maps it to a non-zero exit.
var ErrInterrupted = errors.New("worker interrupted")

// guidelinesFile is read from the project root and prepended to every prompt
const guidelinesFile = ".locus/guidelines.md"

// AgentWorker is one worker process bound to a single agent identity,
// workspace and project directory.
type AgentWorker struct {
	cfg       *config.WorkerConfig
	client    *api.Client
	runner    runner.Runner
	executor  *executor.TaskExecutor
	worktrees *git.WorktreeManager
	prs       *pr.Service
	journal   *journal.Journal
	bus       *events.Bus
	sandboxes *sandbox.Manager
	runID     string

	mu            sync.Mutex
	currentTaskID string
	runBranch     string
}

// New wires up a worker from a validated config
func New(cfg *config.WorkerConfig) (*AgentWorker, error) {
	client := api.NewClient(api.Config{
		BaseURL: cfg.APIBase,
		APIKey:  cfg.APIKey,
		AgentID: cfg.AgentID,
	})

	var sandboxes *sandbox.Manager
	if cfg.SandboxMode != "off" && cfg.SandboxMode != "" {
		var err error
		sandboxes, err = sandbox.NewManager(sandbox.Config{
			CLI:        cfg.SandboxCLI,
			Image:      cfg.SandboxImage,
			ProjectDir: cfg.ProjectDir,
			Mode:       sandbox.Mode(cfg.SandboxMode),
			Name:       cfg.SandboxName,
			Verbose:    cfg.Verbose,
		})
		if err != nil {
			return nil, err
		}
	}

	r, err := runner.New(runner.Config{
		Provider: cfg.Provider,
		Path:     cfg.RunnerPath,
		Model:    cfg.Model,
		Timeout:  cfg.TaskTimeout,
		Verbose:  cfg.Verbose,
		Sandbox:  sandboxes,
	})
	if err != nil {
		return nil, err
	}

	exec := executor.NewTaskExecutor(r)
	exec.SetVerbose(cfg.Verbose)
	if guidelines, err := os.ReadFile(filepath.Join(cfg.ProjectDir, guidelinesFile)); err == nil {
		exec.SetProjectGuidelines(string(guidelines))
	}

	worktreeDir := cfg.WorktreeDir
	if !filepath.IsAbs(worktreeDir) {
		worktreeDir = filepath.Join(cfg.ProjectDir, worktreeDir)
	}
	worktrees := git.NewWorktreeManager(cfg.ProjectDir, worktreeDir)
	worktrees.SetVerbose(cfg.Verbose)

	prs := pr.NewService(cfg.GhCLI)
	prs.SetVerbose(cfg.Verbose)

	jnl, err := journal.Open(filepath.Join(cfg.ProjectDir, ".locus", "journal.db"))
	if err != nil {
		return nil, err
	}

	return &AgentWorker{
		cfg:       cfg,
		client:    client,
		runner:    r,
		executor:  exec,
		worktrees: worktrees,
		prs:       prs,
		journal:   jnl,
		bus:       events.NewBus(),
		sandboxes: sandboxes,
		runID:     uuid.New().String(),
	}, nil
}

// RunID returns the unique identifier of this worker run
func (w *AgentWorker) RunID() string {
	return w.runID
}

// Events returns the worker's lifecycle event bus
func (w *AgentWorker) Events() *events.Bus {
	return w.bus
}

// Preflight verifies the runner is usable and returns its version string
func (w *AgentWorker) Preflight() (string, error) {
	if !w.runner.IsAvailable() {
		return "", fmt.Errorf("runner %q is not available on this host", w.cfg.Provider)
	}
	return w.runner.Version()
}

// Run executes the worker loop until the backlog is empty, the task cap is
// reached, or the context is cancelled. Returns ErrInterrupted on cancel.
func (w *AgentWorker) Run(ctx context.Context) error {
	ctx, span := telemetry.StartWorkerSpan(ctx, telemetry.SpanWorkerRun, w.cfg.AgentID,
		telemetry.WorkerAttrs(w.cfg.AgentID, w.cfg.WorkspaceID, w.runID)...)
	defer span.End()

	if err := w.journal.StartRun(w.runID, w.cfg.AgentID, w.cfg.WorkspaceID, w.cfg.SprintID); err != nil {
		log.Printf("⚠️  Journal unavailable: %v", err)
	}

	w.publish(events.EventRunStarted, "", nil)
	log.Printf("🚀 Worker run %s starting (agent %s, workspace %s)",
		shortID(w.runID), w.cfg.AgentID, w.cfg.WorkspaceID)
	if traceID := telemetry.GetTraceID(ctx); traceID != "" {
		log.Printf("🔍 Trace %s", traceID)
	}

	if pruned, err := w.worktrees.PruneOrphaned(); err == nil && len(pruned) > 0 {
		log.Printf("🧹 Pruned %d orphaned worktrees from a previous run", len(pruned))
	}

	if !w.cfg.UseWorktrees {
		if err := w.startRunBranch(); err != nil {
			return err
		}
	}

	// Heartbeats run alongside the loop and stop with it
	g, gctx := errgroup.WithContext(ctx)
	loopDone := make(chan struct{})

	g.Go(func() error {
		w.heartbeatLoop(gctx, loopDone)
		return nil
	})

	var loopErr error
	g.Go(func() error {
		defer close(loopDone)
		loopErr = w.loop(gctx)
		return nil
	})

	_ = g.Wait()

	w.finalize(loopErr)

	if loopErr != nil {
		telemetry.RecordError(span, loopErr, telemetry.ErrorTypeFromError(loopErr), telemetry.ErrorCategoryUnknown)
	}
	return loopErr
}

// loop claims and processes tasks until the cap, an empty backlog, or cancel
func (w *AgentWorker) loop(ctx context.Context) error {
	for processed := 0; processed < w.cfg.MaxTasks; processed++ {
		task, err := w.dispatchNext(ctx)
		if errors.Is(err, api.ErrNoTasks) {
			log.Printf("📭 No more dispatchable tasks")
			return nil
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return ErrInterrupted
		}
		if err != nil {
			return fmt.Errorf("dispatch failed: %w", err)
		}

		w.publish(events.EventTaskClaimed, task.ID, map[string]any{"title": task.Title})
		log.Printf("📋 Claimed task %s: %s", task.ID, task.Title)

		if err := w.processTask(ctx, task); err != nil {
			if errors.Is(err, ErrInterrupted) {
				return err
			}
			// Per-task failures are reported on the task itself, never fatal
			log.Printf("⚠️  Task %s: %v", task.ID, err)
		}
	}

	log.Printf("🧢 Reached max tasks for this run (%d)", w.cfg.MaxTasks)
	return nil
}

// dispatchNext asks the server for work, retrying transient failures.
// An empty backlog is terminal, not retried.
func (w *AgentWorker) dispatchNext(ctx context.Context) (*types.Task, error) {
	ctx, span := telemetry.StartWorkerSpan(ctx, telemetry.SpanWorkerDispatch, w.cfg.AgentID)
	defer span.End()

	var task *types.Task
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: w.cfg.DispatchMaxAttempts,
		Delay:       w.cfg.DispatchRetryDelay,
	}, func() error {
		var err error
		task, err = w.client.DispatchNextTask(ctx, w.cfg.WorkspaceID, w.cfg.SprintID)
		if err != nil && !errors.Is(err, api.ErrNoTasks) {
			log.Printf("⚠️  Dispatch attempt failed: %v", err)
		}
		return err
	}, func(err error) bool {
		return !errors.Is(err, api.ErrNoTasks)
	})
	if err != nil {
		if !errors.Is(err, api.ErrNoTasks) {
			telemetry.RecordError(span, err, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategoryAPI)
		}
		return nil, err
	}

	return task, nil
}

// processTask takes one claimed task through execution and integration
func (w *AgentWorker) processTask(ctx context.Context, task *types.Task) error {
	// Claim on the server: in progress, assigned to this agent
	assignee := w.cfg.AgentID
	if err := w.client.UpdateTask(ctx, task.ID, types.TaskUpdate{
		Status:     types.TaskStatusInProgress,
		AssigneeID: &assignee,
	}); err != nil {
		return fmt.Errorf("claiming task: %w", err)
	}

	// Comments only come back on the detail endpoint
	if detail, err := w.client.GetTaskDetail(ctx, task.ID); err == nil {
		task = detail
	} else {
		log.Printf("⚠️  Could not fetch task detail, continuing without comments: %v", err)
	}

	workDir, wt, degraded := w.isolate(ctx, task)

	w.setActive(task.ID)
	defer w.setActive("")

	w.publish(events.EventTaskStarted, task.ID, nil)

	execCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancel()

	started := time.Now()
	result := w.executor.Execute(execCtx, task, workDir)

	if result.Aborted || ctx.Err() != nil {
		w.cleanupAborted(wt)
		return ErrInterrupted
	}

	outcome := w.integrate(ctx, task, wt, degraded, result)
	w.record(task, outcome, time.Since(started))
	return nil
}

// isolate picks the working directory for a task: a fresh worktree when
// enabled, falling back to the project directory when creation fails.
// The fallback is reported as degraded so integration doesn't mistake it
// for run-branch mode.
func (w *AgentWorker) isolate(ctx context.Context, task *types.Task) (string, *git.Worktree, bool) {
	if !w.cfg.UseWorktrees {
		return w.cfg.ProjectDir, nil, false
	}

	_, span := telemetry.StartWorktreeSpan(ctx, telemetry.SpanWorktreeCreate, w.worktrees.Path(task.ID))
	defer span.End()

	wt, err := w.worktrees.Create(task.ID, task.Title)
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategoryWorktree)
		log.Printf("⚠️  Worktree creation failed, running directly in project dir: %v", err)
		return w.cfg.ProjectDir, nil, true
	}

	return wt.Path, wt, false
}

// integration is the per-task outcome plus everything worth reporting
type integration struct {
	outcome types.Outcome
	branch  string
	prURL   string
	detail  string
}

// integrate classifies the execution result and lands the changes:
// commit, push, PR, and the matching status update and comment.
func (w *AgentWorker) integrate(ctx context.Context, task *types.Task, wt *git.Worktree, degraded bool, result *types.TaskResult) integration {
	ctx, span := telemetry.StartTaskSpan(ctx, telemetry.SpanTaskIntegrate,
		telemetry.TaskAttrs(task.ID, task.Title, string(task.Status))...)
	defer span.End()

	var in integration

	if !result.Success {
		in = w.integrateFailure(ctx, task, wt, result)
	} else {
		in = w.integrateSuccess(ctx, task, wt, degraded, result)
	}

	telemetry.SetOutcome(span, string(in.outcome))
	log.Printf("%s Task %s: %s", in.outcome.Icon(), task.ID, in.outcome)
	return in
}

// integrateFailure returns the task to the backlog unassigned so another
// agent (or a human) can pick it up
func (w *AgentWorker) integrateFailure(ctx context.Context, task *types.Task, wt *git.Worktree, result *types.TaskResult) integration {
	w.report(ctx, task.ID, types.TaskUpdate{Status: types.TaskStatusBacklog, AssigneeID: clearAssignee()},
		fmt.Sprintf("❌ Execution failed after %s.\n\n```\n%s\n```", result.Duration.Round(time.Second), result.Error))

	if wt != nil {
		w.removeWorktree(ctx, wt.Path, true)
	}

	w.publish(events.EventTaskFailed, task.ID, map[string]any{"error": result.Error})
	return integration{outcome: types.OutcomeFailed, detail: result.Error}
}

// integrateSuccess commits, pushes and opens a PR, degrading to the closest
// reportable outcome at each step
func (w *AgentWorker) integrateSuccess(ctx context.Context, task *types.Task, wt *git.Worktree, degraded bool, result *types.TaskResult) integration {
	workDir := w.cfg.ProjectDir
	if wt != nil {
		workDir = wt.Path
	}

	message := git.BuildCommitMessage(task.Title, task.ID, w.cfg.AgentID, "")
	hash, err := w.commitChanges(ctx, workDir, message)
	if err != nil {
		w.report(ctx, task.ID, types.TaskUpdate{Status: types.TaskStatusBlocked},
			fmt.Sprintf("⚠️ Agent finished but committing its changes failed:\n\n```\n%v\n```", err))
		return integration{outcome: types.OutcomeFailed, detail: err.Error()}
	}

	// A clean tree after a successful run means the task needs human input
	if hash == "" {
		w.report(ctx, task.ID, types.TaskUpdate{Status: types.TaskStatusBlocked},
			fmt.Sprintf("📭 Agent completed without making any changes. Marking blocked for review.\n\n%s", result.Summary))
		if wt != nil {
			w.removeWorktree(ctx, wt.Path, true)
		}
		w.publish(events.EventTaskBlocked, task.ID, nil)
		return integration{outcome: types.OutcomeNoChanges}
	}

	// Degraded isolation: the commit landed on whatever branch the project
	// directory has checked out. Report it honestly and leave it local.
	if wt == nil && degraded {
		branch, berr := w.worktrees.CurrentBranch(w.cfg.ProjectDir)
		if berr != nil {
			branch = "HEAD"
		}
		w.report(ctx, task.ID, types.TaskUpdate{Status: types.TaskStatusInReview, BranchName: branch},
			fmt.Sprintf("⚠️ Worktree isolation was unavailable; committed %s directly on `%s` in the project directory. The commit is local and was not pushed.\n\n%s",
				shortID(hash), branch, result.Summary))
		w.publish(events.EventTaskCompleted, task.ID, map[string]any{"branch": branch})
		return integration{outcome: types.OutcomeCompletedNoPr, branch: branch}
	}

	// Run-branch mode: the commit stays on the shared run branch and the
	// consolidated PR is opened at finalization
	if wt == nil {
		w.report(ctx, task.ID, types.TaskUpdate{Status: types.TaskStatusInReview, BranchName: w.runBranch},
			fmt.Sprintf("📦 Committed %s on run branch `%s`.\n\n%s", shortID(hash), w.runBranch, result.Summary))
		w.publish(events.EventTaskCompleted, task.ID, map[string]any{"branch": w.runBranch})
		return integration{outcome: types.OutcomeCompletedNoPr, branch: w.runBranch}
	}

	if !w.cfg.AutoPush {
		w.report(ctx, task.ID, types.TaskUpdate{Status: types.TaskStatusInReview, BranchName: wt.Branch},
			fmt.Sprintf("📦 Committed %s on `%s`. Auto-push is disabled; push and open a PR manually.\n\n%s",
				shortID(hash), wt.Branch, result.Summary))
		w.removeWorktree(ctx, wt.Path, false)
		w.publish(events.EventTaskCompleted, task.ID, map[string]any{"branch": wt.Branch})
		return integration{outcome: types.OutcomeCompletedNoPr, branch: wt.Branch}
	}

	branch, err := w.pushBranch(ctx, wt)
	if err != nil {
		// Keep the worktree: the commit exists only locally
		log.Printf("⚠️  Push failed, preserving worktree %s for manual recovery", wt.Path)
		w.report(ctx, task.ID, types.TaskUpdate{Status: types.TaskStatusInReview, BranchName: wt.Branch},
			fmt.Sprintf("⚠️ Changes committed on `%s` but pushing failed. Worktree preserved at `%s`.\n\n```\n%v\n```",
				wt.Branch, wt.Path, err))
		w.publish(events.EventTaskCompleted, task.ID, map[string]any{"branch": wt.Branch})
		return integration{outcome: types.OutcomeCompletedNoPr, branch: wt.Branch, detail: err.Error()}
	}

	prURL, err := w.prs.Create(ctx, pr.Request{
		Task:         task,
		WorktreePath: wt.Path,
		Branch:       branch,
		BaseBranch:   wt.BaseBranch,
		Summary:      result.Summary,
		AgentID:      w.cfg.AgentID,
	})

	w.removeWorktree(ctx, wt.Path, false)

	if err != nil {
		w.report(ctx, task.ID, types.TaskUpdate{Status: types.TaskStatusInReview, BranchName: branch},
			fmt.Sprintf("📦 Pushed `%s` but opening a PR failed; open one manually.\n\n```\n%v\n```", branch, err))
		w.publish(events.EventTaskCompleted, task.ID, map[string]any{"branch": branch})
		return integration{outcome: types.OutcomeCompletedNoPr, branch: branch, detail: err.Error()}
	}

	w.report(ctx, task.ID, types.TaskUpdate{Status: types.TaskStatusInReview, BranchName: branch, PrURL: prURL},
		fmt.Sprintf("✅ Implemented and opened %s\n\n%s", prURL, result.Summary))
	w.publish(events.EventTaskCompleted, task.ID, map[string]any{"branch": branch, "pr_url": prURL})
	w.publish(events.EventPrOpened, task.ID, map[string]any{"pr_url": prURL})
	return integration{outcome: types.OutcomeCompletedWithPr, branch: branch, prURL: prURL}
}

func (w *AgentWorker) pushBranch(ctx context.Context, wt *git.Worktree) (string, error) {
	_, span := telemetry.StartWorktreeSpan(ctx, telemetry.SpanGitPush, wt.Path)
	defer span.End()

	branch, err := w.worktrees.PushBranch(wt.Path)
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategoryGit)
	}
	return branch, err
}

func (w *AgentWorker) commitChanges(ctx context.Context, dir, message string) (string, error) {
	_, span := telemetry.StartWorktreeSpan(ctx, telemetry.SpanGitCommit, dir)
	defer span.End()

	hash, err := w.worktrees.CommitChanges(dir, message)
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategoryGit)
	}
	return hash, err
}

// removeWorktree is best-effort cleanup; failures are logged on the span
// and the worker log, never fatal
func (w *AgentWorker) removeWorktree(ctx context.Context, path string, deleteBranch bool) {
	_, span := telemetry.StartWorktreeSpan(ctx, telemetry.SpanWorktreeCleanup, path)
	defer span.End()

	if err := w.worktrees.Remove(path, deleteBranch); err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategoryWorktree)
		log.Printf("⚠️  Could not remove worktree %s: %v", path, err)
	}
}

// report applies a status update and posts the outcome comment. Both are
// best-effort: the local journal still records what happened.
func (w *AgentWorker) report(ctx context.Context, taskID string, update types.TaskUpdate, comment string) {
	ctx, span := telemetry.StartTaskSpan(ctx, telemetry.SpanTaskReport)
	defer span.End()

	if update.Status != "" {
		telemetry.SetTaskStatus(span, string(update.Status))
	}

	if err := w.client.UpdateTask(ctx, taskID, update); err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategoryAPI)
		log.Printf("⚠️  Could not update task %s: %v", taskID, err)
	}
	if comment != "" {
		if err := w.client.AddTaskComment(ctx, taskID, comment); err != nil {
			log.Printf("⚠️  Could not comment on task %s: %v", taskID, err)
		}
	}
}

// record writes a task outcome to the run journal
func (w *AgentWorker) record(task *types.Task, in integration, took time.Duration) {
	err := w.journal.Record(journal.Entry{
		RunID:      w.runID,
		TaskID:     task.ID,
		Title:      task.Title,
		Outcome:    in.outcome,
		Branch:     in.branch,
		PrURL:      in.prURL,
		Error:      in.detail,
		DurationMs: took.Milliseconds(),
	})
	if err != nil {
		log.Printf("⚠️  Could not journal task %s: %v", task.ID, err)
	}
}

// cleanupAborted tears down the isolation of an interrupted task. Nothing
// was committed, so the branch goes too.
func (w *AgentWorker) cleanupAborted(wt *git.Worktree) {
	if wt == nil {
		return
	}
	w.removeWorktree(context.Background(), wt.Path, true)
}

// startRunBranch switches the project onto a shared branch for this run
func (w *AgentWorker) startRunBranch() error {
	branch := "locus/run-" + shortID(w.runID)
	if err := w.worktrees.CheckoutNewBranch(w.cfg.ProjectDir, branch); err != nil {
		return fmt.Errorf("starting run branch: %w", err)
	}
	w.runBranch = branch
	log.Printf("🌱 Run branch %s", branch)
	return nil
}

// finalize closes out the run: consolidated push/PR in run-branch mode, the
// summary from the journal, and sandbox teardown
func (w *AgentWorker) finalize(loopErr error) {
	ctx, span := telemetry.StartWorkerSpan(context.Background(), telemetry.SpanWorkerFinalize, w.cfg.AgentID)
	defer span.End()

	if w.runBranch != "" && loopErr == nil {
		w.finalizeRunBranch(ctx)
	}

	if err := w.journal.FinishRun(w.runID); err != nil {
		log.Printf("⚠️  Could not close journal run: %v", err)
	}
	w.logSummary()

	if w.sandboxes != nil {
		w.sandboxes.Shutdown(ctx)
	}

	w.publish(events.EventRunFinished, "", nil)
	if loopErr != nil {
		log.Printf("🛑 Worker run %s stopped: %v", shortID(w.runID), loopErr)
	} else {
		log.Printf("🏁 Worker run %s finished", shortID(w.runID))
	}
}

// finalizeRunBranch pushes the shared branch and opens one PR covering every
// task that landed on it
func (w *AgentWorker) finalizeRunBranch(ctx context.Context) {
	entries, err := w.journal.ListByRun(w.runID)
	if err != nil || len(entries) == 0 {
		return
	}

	var landed []journal.Entry
	for _, e := range entries {
		if e.Branch == w.runBranch {
			landed = append(landed, e)
		}
	}
	if len(landed) == 0 {
		return
	}

	if !w.cfg.AutoPush {
		log.Printf("📦 Run branch %s has %d tasks; auto-push disabled, leaving it local", w.runBranch, len(landed))
		return
	}

	branch, err := w.worktrees.PushBranch(w.cfg.ProjectDir)
	if err != nil {
		log.Printf("⚠️  Could not push run branch: %v", err)
		return
	}

	title := fmt.Sprintf("Batch: %d tasks from run %s", len(landed), shortID(w.runID))
	summary := "Tasks landed on this branch:\n"
	for _, e := range landed {
		summary += fmt.Sprintf("- %s: %s\n", e.TaskID, e.Title)
	}

	prURL, err := w.prs.Create(ctx, pr.Request{
		Task:         &types.Task{ID: shortID(w.runID), Title: title},
		WorktreePath: w.cfg.ProjectDir,
		Branch:       branch,
		Summary:      summary,
		AgentID:      w.cfg.AgentID,
	})
	if err != nil {
		log.Printf("⚠️  Could not open consolidated PR: %v", err)
		return
	}

	log.Printf("✅ Consolidated PR: %s", prURL)
	for _, e := range landed {
		if err := w.client.UpdateTask(ctx, e.TaskID, types.TaskUpdate{PrURL: prURL}); err != nil {
			log.Printf("⚠️  Could not attach PR URL to task %s: %v", e.TaskID, err)
		}
	}
	w.publish(events.EventPrOpened, "", map[string]any{"pr_url": prURL})
}

// logSummary prints the per-outcome tallies from the journal
func (w *AgentWorker) logSummary() {
	counts, err := w.journal.CountByOutcome(w.runID)
	if err != nil || len(counts) == 0 {
		return
	}

	log.Printf("📊 Run summary:")
	for _, outcome := range []types.Outcome{
		types.OutcomeCompletedWithPr,
		types.OutcomeCompletedNoPr,
		types.OutcomeNoChanges,
		types.OutcomeFailed,
	} {
		if n := counts[outcome]; n > 0 {
			log.Printf("   %s %s: %d", outcome.Icon(), outcome, n)
		}
	}
}

// heartbeatLoop reports liveness until the worker loop ends or the context
// is cancelled. Send failures are logged and forgotten.
func (w *AgentWorker) heartbeatLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, taskID := w.heartbeatStatus()
			// Independent context: a wedged task must not block heartbeats
			hbCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := w.client.SendHeartbeat(hbCtx, status, taskID); err != nil {
				log.Printf("⚠️  Heartbeat failed: %v", err)
			}
			cancel()
		}
	}
}

func (w *AgentWorker) heartbeatStatus() (string, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentTaskID != "" {
		return "working", w.currentTaskID
	}
	return "idle", ""
}

// Abort stops the in-flight agent execution. Safe to call at any time,
// including when nothing is running.
func (w *AgentWorker) Abort() {
	w.executor.Abort()
}

// Close releases the worker's resources. Call after Run has returned.
func (w *AgentWorker) Close() error {
	w.bus.Close()
	return w.journal.Close()
}

func (w *AgentWorker) setActive(taskID string) {
	w.mu.Lock()
	w.currentTaskID = taskID
	w.mu.Unlock()
}

func (w *AgentWorker) publish(eventType events.EventType, taskID string, data map[string]any) {
	if err := w.bus.Publish(context.Background(), events.NewEvent(eventType, w.runID, taskID, data)); err != nil {
		log.Printf("⚠️  Event publish failed: %v", err)
	}
}

func clearAssignee() *string {
	empty := ""
	return &empty
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
