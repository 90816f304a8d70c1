// Package git handles git worktree and branch operations for task isolation
package git

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// branchPrefix namespaces every branch this worker creates
const branchPrefix = "locus/"

// maxSlugLen caps the title-derived part of a branch name
const maxSlugLen = 40

// Worktree describes an isolated checkout for one task
type Worktree struct {
	TaskID     string
	Path       string
	Branch     string
	BaseBranch string
}

// WorktreeManager creates and manages git worktrees
type WorktreeManager struct {
	baseDir     string // base repository directory
	worktreeDir string // where worktrees are created (.locus/worktrees)
	verbose     bool
}

// NewWorktreeManager creates a new worktree manager
func NewWorktreeManager(baseDir, worktreeDir string) *WorktreeManager {
	return &WorktreeManager{
		baseDir:     baseDir,
		worktreeDir: worktreeDir,
	}
}

// SetVerbose enables or disables verbose logging
func (wm *WorktreeManager) SetVerbose(v bool) {
	wm.verbose = v
}

// Create creates a worktree for a task on a fresh locus/<slug> branch.
// Stale worktrees from interrupted runs for the same task are cleaned up
// first.
func (wm *WorktreeManager) Create(taskID, title string) (*Worktree, error) {
	worktreePath := filepath.Join(wm.worktreeDir, taskID)

	if err := os.MkdirAll(wm.worktreeDir, 0755); err != nil {
		return nil, fmt.Errorf("creating worktree directory: %w", err)
	}

	wm.cleanUpWorktree(taskID)

	branch := branchPrefix + Slugify(title)
	base, err := wm.baseBranch()
	if err != nil {
		return nil, err
	}

	// -B resets the branch if a previous interrupted run left it behind
	cmd := exec.Command("git", "worktree", "add", "-B", branch, worktreePath, base)
	cmd.Dir = wm.baseDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("creating worktree: %w\n%s", err, output)
	}

	if wm.verbose {
		log.Printf("🌱 Created worktree %s on branch %s", worktreePath, branch)
	}

	return &Worktree{
		TaskID:     taskID,
		Path:       worktreePath,
		Branch:     branch,
		BaseBranch: base,
	}, nil
}

// baseBranch resolves the branch new task branches fork from: the remote
// HEAD when a remote exists, otherwise the currently checked out branch
func (wm *WorktreeManager) baseBranch() (string, error) {
	cmd := exec.Command("git", "symbolic-ref", "refs/remotes/origin/HEAD", "--short")
	cmd.Dir = wm.baseDir
	if output, err := cmd.Output(); err == nil {
		ref := strings.TrimSpace(string(output))
		if name := strings.TrimPrefix(ref, "origin/"); name != "" {
			return name, nil
		}
	}

	cmd = exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = wm.baseDir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("resolving base branch: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// cleanUpWorktree removes any existing worktree registration and directory for a task
func (wm *WorktreeManager) cleanUpWorktree(taskID string) {
	worktreePath := filepath.Join(wm.worktreeDir, taskID)

	// Registered worktrees first, then whatever is left on disk
	cmd := exec.Command("git", "worktree", "remove", "--force", worktreePath)
	cmd.Dir = wm.baseDir
	_ = cmd.Run()

	if _, err := os.Stat(worktreePath); err == nil {
		_ = os.RemoveAll(worktreePath)
	}

	cmd = exec.Command("git", "worktree", "prune")
	cmd.Dir = wm.baseDir
	_ = cmd.Run()
}

// CommitChanges stages and commits everything in the worktree.
// Returns the commit hash, or "" with a nil error when the tree is clean.
func (wm *WorktreeManager) CommitChanges(worktreePath, message string) (string, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = worktreePath
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("checking status: %w", err)
	}

	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		if wm.verbose {
			log.Printf("📭 No changes detected in %s", worktreePath)
		}
		return "", nil
	}

	if wm.verbose {
		lines := strings.Split(trimmed, "\n")
		log.Printf("📝 Changes detected in %d files:", len(lines))
		for _, line := range lines {
			if line != "" {
				log.Printf("   %s", line)
			}
		}
	}

	cmd = exec.Command("git", "add", "-A")
	cmd.Dir = worktreePath
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("staging changes: %w\n%s", err, output)
	}

	cmd = exec.Command("git", "commit", "-m", message)
	cmd.Dir = worktreePath
	if output, err := cmd.CombinedOutput(); err != nil {
		// The working tree can change between the check and the commit
		if strings.Contains(string(output), "nothing to commit") {
			return "", nil
		}
		return "", fmt.Errorf("committing: %w\n%s", err, output)
	}

	cmd = exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = worktreePath
	output, err = cmd.Output()
	if err != nil {
		return "", fmt.Errorf("reading commit hash: %w", err)
	}
	hash := strings.TrimSpace(string(output))

	if wm.verbose {
		log.Printf("✅ Committed %s", hash[:min(12, len(hash))])
	}

	return hash, nil
}

// PushBranch pushes the worktree's current branch to origin and returns
// the branch name
func (wm *WorktreeManager) PushBranch(worktreePath string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = worktreePath
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("resolving branch: %w", err)
	}
	branch := strings.TrimSpace(string(output))

	cmd = exec.Command("git", "push", "-u", "origin", branch)
	cmd.Dir = worktreePath
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("pushing branch %s: %w\n%s", branch, err, output)
	}

	if wm.verbose {
		log.Printf("⬆️  Pushed branch %s", branch)
	}

	return branch, nil
}

// Remove removes a worktree. The branch is deleted only when deleteBranch is
// set; committed work keeps its branch so it stays recoverable.
func (wm *WorktreeManager) Remove(worktreePath string, deleteBranch bool) error {
	var branch string
	if deleteBranch {
		cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
		cmd.Dir = worktreePath
		if output, err := cmd.Output(); err == nil {
			branch = strings.TrimSpace(string(output))
		}
	}

	cmd := exec.Command("git", "worktree", "remove", "--force", worktreePath)
	cmd.Dir = wm.baseDir
	if output, err := cmd.CombinedOutput(); err != nil {
		outputStr := strings.ToLower(string(output))
		if !strings.Contains(outputStr, "not a worktree") &&
			!strings.Contains(outputStr, "no such file or directory") &&
			!strings.Contains(outputStr, "is not a working tree") {
			return fmt.Errorf("removing worktree: %w\n%s", err, output)
		}
	}

	if _, err := os.Stat(worktreePath); err == nil {
		_ = os.RemoveAll(worktreePath)
	}

	cmd = exec.Command("git", "worktree", "prune")
	cmd.Dir = wm.baseDir
	_ = cmd.Run()

	if branch != "" && branch != "HEAD" {
		cmd = exec.Command("git", "branch", "-D", branch)
		cmd.Dir = wm.baseDir
		_, _ = cmd.CombinedOutput()
	}

	if wm.verbose {
		log.Printf("🗑️  Removed worktree %s", worktreePath)
	}

	return nil
}

// CurrentBranch returns the branch checked out in dir
func (wm *WorktreeManager) CurrentBranch(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("resolving branch: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// CheckoutNewBranch creates (or resets) a branch at the current HEAD of dir
// and checks it out. Used for run-branch mode, where all tasks in a run land
// on one branch in the project directory itself.
func (wm *WorktreeManager) CheckoutNewBranch(dir, branch string) error {
	cmd := exec.Command("git", "checkout", "-B", branch)
	cmd.Dir = dir
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("checking out branch %s: %w\n%s", branch, err, output)
	}

	if wm.verbose {
		log.Printf("🌱 Checked out branch %s in %s", branch, dir)
	}
	return nil
}

// Path returns the worktree path for a task
func (wm *WorktreeManager) Path(taskID string) string {
	return filepath.Join(wm.worktreeDir, taskID)
}

// ListWorktreesOnDisk returns all worktree directories that exist on disk
func (wm *WorktreeManager) ListWorktreesOnDisk() ([]string, error) {
	entries, err := os.ReadDir(wm.worktreeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading worktree directory: %w", err)
	}

	var worktrees []string
	for _, entry := range entries {
		if entry.IsDir() {
			worktrees = append(worktrees, entry.Name())
		}
	}

	return worktrees, nil
}

// PruneOrphaned removes worktree directories that exist on disk but are no
// longer registered with git, usually left behind by a crashed run
func (wm *WorktreeManager) PruneOrphaned() ([]string, error) {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = wm.baseDir
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}

	registeredPaths := make(map[string]bool)
	for _, line := range strings.Split(string(output), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			registeredPaths[strings.TrimPrefix(line, "worktree ")] = true
		}
	}

	onDisk, err := wm.ListWorktreesOnDisk()
	if err != nil {
		return nil, err
	}

	var pruned []string
	for _, taskID := range onDisk {
		worktreePath := filepath.Join(wm.worktreeDir, taskID)
		if !registeredPaths[worktreePath] {
			if err := os.RemoveAll(worktreePath); err == nil {
				pruned = append(pruned, taskID)
				if wm.verbose {
					log.Printf("🗑️  Pruned orphaned worktree: %s", taskID)
				}
			}
		}
	}

	cmd = exec.Command("git", "worktree", "prune")
	cmd.Dir = wm.baseDir
	_ = cmd.Run()

	return pruned, nil
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a task title into a branch-safe slug, capped in length
func Slugify(title string) string {
	slug := strings.ToLower(title)
	slug = slugInvalid.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
		slug = strings.TrimRight(slug, "-")
	}
	if slug == "" {
		slug = "task"
	}
	return slug
}
