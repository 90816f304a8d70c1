package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/locus-hq/locus-agent/internal/api"
	"github.com/locus-hq/locus-agent/internal/config"
	"github.com/locus-hq/locus-agent/internal/events"
	"github.com/locus-hq/locus-agent/internal/executor"
	"github.com/locus-hq/locus-agent/internal/git"
	"github.com/locus-hq/locus-agent/internal/journal"
	"github.com/locus-hq/locus-agent/internal/pr"
	"github.com/locus-hq/locus-agent/internal/runner"
	"github.com/locus-hq/locus-agent/pkg/types"
)

// fakeRunner lets tests script what the agent does in the working directory
type fakeRunner struct {
	run func(opts runner.ExecuteOptions) *types.RunnerResult
}

func (f *fakeRunner) IsAvailable() bool        { return true }
func (f *fakeRunner) Version() (string, error) { return "fake 1.0.0", nil }
func (f *fakeRunner) Abort()                   {}
func (f *fakeRunner) Execute(_ context.Context, opts runner.ExecuteOptions) *types.RunnerResult {
	return f.run(opts)
}

// fakeServer is an in-memory workspace server
type fakeServer struct {
	mu            sync.Mutex
	queue         []*types.Task
	byID          map[string]*types.Task
	dispatchCalls int
	dispatchFails int // number of 500s to serve before dispatching
	updates       map[string][]types.TaskUpdate
	comments      map[string][]string
}

func newFakeServer(tasks ...*types.Task) *fakeServer {
	byID := make(map[string]*types.Task)
	for _, task := range tasks {
		byID[task.ID] = task
	}
	return &fakeServer{
		queue:    tasks,
		byID:     byID,
		updates:  make(map[string][]types.TaskUpdate),
		comments: make(map[string][]string),
	}
}

func (s *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/workspaces/{ws}/tasks/dispatch", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.dispatchCalls++
		if s.dispatchFails > 0 {
			s.dispatchFails--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if len(s.queue) == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		task := s.queue[0]
		s.queue = s.queue[1:]
		json.NewEncoder(w).Encode(task)
	})

	mux.HandleFunc("GET /api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		task, ok := s.byID[r.PathValue("id")]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		detail := *task
		detail.Comments = []types.Comment{
			{AuthorID: "alice", Body: "Reuse the validation helpers."},
		}
		json.NewEncoder(w).Encode(&detail)
	})

	mux.HandleFunc("PATCH /api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		var update types.TaskUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.updates[r.PathValue("id")] = append(s.updates[r.PathValue("id")], update)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/tasks/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Body string `json:"body"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.comments[r.PathValue("id")] = append(s.comments[r.PathValue("id")], body.Body)
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("POST /api/agents/{id}/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func (s *fakeServer) lastUpdate(t *testing.T, taskID string) types.TaskUpdate {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	updates := s.updates[taskID]
	if len(updates) == 0 {
		t.Fatalf("No updates recorded for task %s", taskID)
	}
	return updates[len(updates)-1]
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, output)
	}
	return strings.TrimSpace(string(output))
}

// setupProject creates a git repo with one commit on main and a bare origin
func setupProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	project := filepath.Join(dir, "project")
	remote := filepath.Join(dir, "origin.git")

	if err := os.MkdirAll(project, 0755); err != nil {
		t.Fatal(err)
	}
	runGit(t, project, "init")
	runGit(t, project, "config", "user.email", "test@example.com")
	runGit(t, project, "config", "user.name", "Test")
	runGit(t, project, "branch", "-M", "main")
	if err := os.WriteFile(filepath.Join(project, "README.md"), []byte("# demo\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(project, ".gitignore"), []byte(".locus/\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, project, "add", "-A")
	runGit(t, project, "commit", "-m", "initial")

	if err := os.MkdirAll(remote, 0755); err != nil {
		t.Fatal(err)
	}
	runGit(t, remote, "init", "--bare")
	runGit(t, project, "remote", "add", "origin", remote)
	runGit(t, project, "push", "-u", "origin", "main")

	return project
}

// writeFakeGh creates a gh stand-in that always reports one PR URL
func writeFakeGh(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gh")
	script := "#!/bin/sh\necho \"https://github.com/locus/demo/pull/7\"\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestWorker(t *testing.T, serverURL, projectDir string, r runner.Runner) *AgentWorker {
	t.Helper()

	ghCLI := writeFakeGh(t)
	cfg := &config.WorkerConfig{
		AgentID:             "agent-1",
		WorkspaceID:         "ws-1",
		APIBase:             serverURL,
		ProjectDir:          projectDir,
		Provider:            "claude",
		UseWorktrees:        true,
		WorktreeDir:         ".locus/worktrees",
		AutoPush:            true,
		GhCLI:               ghCLI,
		MaxTasks:            5,
		TaskTimeout:         time.Minute,
		HeartbeatInterval:   time.Hour,
		DispatchMaxAttempts: 5,
		DispatchRetryDelay:  10 * time.Millisecond,
	}

	jnl, err := journal.Open(filepath.Join(projectDir, ".locus", "journal.db"))
	if err != nil {
		t.Fatalf("Opening journal: %v", err)
	}

	w := &AgentWorker{
		cfg:       cfg,
		client:    api.NewClient(api.Config{BaseURL: serverURL, AgentID: cfg.AgentID}),
		runner:    r,
		executor:  executor.NewTaskExecutor(r),
		worktrees: git.NewWorktreeManager(projectDir, filepath.Join(projectDir, cfg.WorktreeDir)),
		prs:       pr.NewService(ghCLI),
		journal:   jnl,
		bus:       events.NewBus(),
		runID:     uuid.New().String(),
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestRun_SuccessfulTaskOpensPR(t *testing.T) {
	project := setupProject(t)
	server := newFakeServer(&types.Task{ID: "task-1", Title: "Add login form"})
	srv := httptest.NewServer(server.handler())
	defer srv.Close()

	agent := &fakeRunner{run: func(opts runner.ExecuteOptions) *types.RunnerResult {
		if err := os.WriteFile(filepath.Join(opts.Dir, "login.go"), []byte("package login\n"), 0644); err != nil {
			t.Errorf("Writing agent change: %v", err)
		}
		return &types.RunnerResult{Success: true, Summary: "Added the login form"}
	}}

	w := newTestWorker(t, srv.URL, project, agent)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	update := server.lastUpdate(t, "task-1")
	if update.Status != types.TaskStatusInReview {
		t.Errorf("Expected in-review, got %s", update.Status)
	}
	if update.PrURL != "https://github.com/locus/demo/pull/7" {
		t.Errorf("Expected PR URL, got %q", update.PrURL)
	}
	if update.BranchName != "locus/add-login-form" {
		t.Errorf("Expected task branch, got %q", update.BranchName)
	}

	// The branch survives worktree cleanup and made it to the remote
	branches := runGit(t, project, "branch", "--list", "locus/add-login-form")
	if branches == "" {
		t.Error("Expected task branch to be kept")
	}
	if _, err := os.Stat(w.worktrees.Path("task-1")); !os.IsNotExist(err) {
		t.Error("Expected worktree to be removed after integration")
	}

	entries, err := w.journal.ListByRun(w.runID)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Expected 1 journal entry, got %d (err %v)", len(entries), err)
	}
	if entries[0].Outcome != types.OutcomeCompletedWithPr {
		t.Errorf("Expected completed-with-pr, got %s", entries[0].Outcome)
	}
}

func TestRun_NoChangesBlocksTask(t *testing.T) {
	project := setupProject(t)
	server := newFakeServer(&types.Task{ID: "task-1", Title: "Investigate flaky test"})
	srv := httptest.NewServer(server.handler())
	defer srv.Close()

	agent := &fakeRunner{run: func(opts runner.ExecuteOptions) *types.RunnerResult {
		return &types.RunnerResult{Success: true, Summary: "Could not reproduce"}
	}}

	w := newTestWorker(t, srv.URL, project, agent)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	update := server.lastUpdate(t, "task-1")
	if update.Status != types.TaskStatusBlocked {
		t.Errorf("Expected blocked, got %s", update.Status)
	}
	if update.PrURL != "" {
		t.Errorf("Expected no PR URL, got %q", update.PrURL)
	}

	entries, _ := w.journal.ListByRun(w.runID)
	if len(entries) != 1 || entries[0].Outcome != types.OutcomeNoChanges {
		t.Errorf("Expected no-changes journal entry, got %+v", entries)
	}
}

func TestRun_FailureReturnsTaskToBacklog(t *testing.T) {
	project := setupProject(t)
	server := newFakeServer(&types.Task{ID: "task-1", Title: "Broken task"})
	srv := httptest.NewServer(server.handler())
	defer srv.Close()

	agent := &fakeRunner{run: func(opts runner.ExecuteOptions) *types.RunnerResult {
		return &types.RunnerResult{Success: false, Error: "agent exited with code 2", ExitCode: 2}
	}}

	w := newTestWorker(t, srv.URL, project, agent)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	update := server.lastUpdate(t, "task-1")
	if update.Status != types.TaskStatusBacklog {
		t.Errorf("Expected backlog, got %s", update.Status)
	}
	if update.AssigneeID == nil || *update.AssigneeID != "" {
		t.Error("Expected assignee to be cleared")
	}

	server.mu.Lock()
	comments := server.comments["task-1"]
	server.mu.Unlock()
	found := false
	for _, c := range comments {
		if strings.Contains(c, "agent exited with code 2") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected failure comment with the error, got %v", comments)
	}
}

func TestRun_PushFailurePreservesWorktree(t *testing.T) {
	project := setupProject(t)
	server := newFakeServer(&types.Task{ID: "task-1", Title: "Add login form"})
	srv := httptest.NewServer(server.handler())
	defer srv.Close()

	agent := &fakeRunner{run: func(opts runner.ExecuteOptions) *types.RunnerResult {
		if err := os.WriteFile(filepath.Join(opts.Dir, "login.go"), []byte("package login\n"), 0644); err != nil {
			t.Errorf("Writing agent change: %v", err)
		}
		return &types.RunnerResult{Success: true, Summary: "Added the login form"}
	}}

	w := newTestWorker(t, srv.URL, project, agent)

	// Break the remote after the base branch is resolvable, so the commit
	// succeeds but the push cannot
	runGit(t, project, "remote", "set-url", "origin", filepath.Join(t.TempDir(), "missing.git"))

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	update := server.lastUpdate(t, "task-1")
	if update.Status != types.TaskStatusInReview {
		t.Errorf("Expected in-review, got %s", update.Status)
	}
	if update.BranchName != "locus/add-login-form" {
		t.Errorf("Expected task branch in update, got %q", update.BranchName)
	}
	if update.PrURL != "" {
		t.Errorf("Expected no PR URL after failed push, got %q", update.PrURL)
	}

	// The commit only exists locally, so the worktree must survive
	if _, err := os.Stat(w.worktrees.Path("task-1")); err != nil {
		t.Errorf("Expected worktree preserved after push failure: %v", err)
	}

	server.mu.Lock()
	comments := server.comments["task-1"]
	server.mu.Unlock()
	found := false
	for _, c := range comments {
		if strings.Contains(c, "pushing failed") && strings.Contains(c, "preserved") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a comment explaining the preserved worktree, got %v", comments)
	}

	entries, _ := w.journal.ListByRun(w.runID)
	if len(entries) != 1 || entries[0].Outcome != types.OutcomeCompletedNoPr {
		t.Errorf("Expected completed-no-pr journal entry, got %+v", entries)
	}
}

func TestRun_WorktreeFailureCommitsOnCurrentBranch(t *testing.T) {
	project := setupProject(t)
	server := newFakeServer(&types.Task{ID: "task-1", Title: "Add login form"})
	srv := httptest.NewServer(server.handler())
	defer srv.Close()

	agent := &fakeRunner{run: func(opts runner.ExecuteOptions) *types.RunnerResult {
		if opts.Dir != project {
			t.Errorf("Expected fallback to project dir, got %s", opts.Dir)
		}
		if err := os.WriteFile(filepath.Join(opts.Dir, "login.go"), []byte("package login\n"), 0644); err != nil {
			t.Errorf("Writing agent change: %v", err)
		}
		return &types.RunnerResult{Success: true, Summary: "Added the login form"}
	}}

	w := newTestWorker(t, srv.URL, project, agent)

	// A regular file where the worktree dir should go makes creation fail
	if err := os.WriteFile(filepath.Join(project, ".locus", "worktrees"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	update := server.lastUpdate(t, "task-1")
	if update.Status != types.TaskStatusInReview {
		t.Errorf("Expected in-review, got %s", update.Status)
	}
	if update.BranchName != "main" {
		t.Errorf("Expected the checked-out branch to be reported, got %q", update.BranchName)
	}

	server.mu.Lock()
	comments := server.comments["task-1"]
	server.mu.Unlock()
	found := false
	for _, c := range comments {
		if strings.Contains(c, "isolation was unavailable") && strings.Contains(c, "not pushed") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a comment explaining the fallback, got %v", comments)
	}

	// The commit landed on main in the project directory itself
	subject := runGit(t, project, "log", "-1", "--format=%s")
	if !strings.Contains(subject, "Add login form") {
		t.Errorf("Expected the task commit on main, got %q", subject)
	}
	status := runGit(t, project, "status", "--porcelain")
	if status != "" {
		t.Errorf("Expected a clean tree after the commit, got %q", status)
	}

	entries, _ := w.journal.ListByRun(w.runID)
	if len(entries) != 1 || entries[0].Outcome != types.OutcomeCompletedNoPr {
		t.Errorf("Expected completed-no-pr journal entry, got %+v", entries)
	}
}

func TestRun_DispatchRetriesTransientErrors(t *testing.T) {
	project := setupProject(t)
	server := newFakeServer() // empty backlog after the failures
	server.dispatchFails = 2
	srv := httptest.NewServer(server.handler())
	defer srv.Close()

	agent := &fakeRunner{run: func(opts runner.ExecuteOptions) *types.RunnerResult {
		return &types.RunnerResult{Success: true}
	}}

	w := newTestWorker(t, srv.URL, project, agent)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	server.mu.Lock()
	calls := server.dispatchCalls
	server.mu.Unlock()
	if calls != 3 {
		t.Errorf("Expected 2 failed + 1 empty dispatch calls, got %d", calls)
	}
}

func TestRun_StopsAtMaxTasks(t *testing.T) {
	project := setupProject(t)
	server := newFakeServer(
		&types.Task{ID: "task-1", Title: "First"},
		&types.Task{ID: "task-2", Title: "Second"},
		&types.Task{ID: "task-3", Title: "Third"},
	)
	srv := httptest.NewServer(server.handler())
	defer srv.Close()

	agent := &fakeRunner{run: func(opts runner.ExecuteOptions) *types.RunnerResult {
		return &types.RunnerResult{Success: true, Summary: "done"}
	}}

	w := newTestWorker(t, srv.URL, project, agent)
	w.cfg.MaxTasks = 2
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if server.dispatchCalls != 2 {
		t.Errorf("Expected exactly 2 dispatches at the cap, got %d", server.dispatchCalls)
	}
	if len(server.queue) != 1 {
		t.Errorf("Expected one task left in the queue, got %d", len(server.queue))
	}
}

func TestRun_InterruptedReturnsError(t *testing.T) {
	project := setupProject(t)
	server := newFakeServer(&types.Task{ID: "task-1", Title: "Slow task"})
	srv := httptest.NewServer(server.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	agent := &fakeRunner{run: func(opts runner.ExecuteOptions) *types.RunnerResult {
		cancel()
		return &types.RunnerResult{Success: false, Aborted: true, Error: "aborted"}
	}}

	w := newTestWorker(t, srv.URL, project, agent)
	err := w.Run(ctx)
	if err == nil {
		t.Fatal("Expected an error from an interrupted run")
	}

	// The abandoned worktree and its branch are gone
	if _, statErr := os.Stat(w.worktrees.Path("task-1")); !os.IsNotExist(statErr) {
		t.Error("Expected worktree removed after abort")
	}
	branches := runGit(t, project, "branch", "--list", "locus/slow-task")
	if branches != "" {
		t.Error("Expected aborted task branch to be deleted")
	}
}
