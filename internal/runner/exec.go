package runner

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"sync"

	"github.com/locus-hq/locus-agent/internal/sandbox"
)

// execer builds the subprocess for an agent invocation. The direct strategy
// runs the binary on the host; the sandboxed strategy wraps it in a container
// exec. The returned cleanup releases any isolation acquired for the run.
type execer interface {
	command(ctx context.Context, dir, label, name string, args ...string) (*exec.Cmd, func(), error)
}

// directExec runs the agent binary directly on the host
type directExec struct{}

func (directExec) command(ctx context.Context, dir, _, name string, args ...string) (*exec.Cmd, func(), error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	configureTermination(cmd)
	return cmd, func() {}, nil
}

// sandboxExec runs the agent inside a sandbox acquired from the manager.
// The agent CLI is installed into the sandbox on first use; a per-sandbox
// cache skips the presence check on subsequent runs.
type sandboxExec struct {
	mgr        *sandbox.Manager
	installPkg string
	verbose    bool

	mu        sync.Mutex
	installed map[string]bool
}

func newSandboxExec(mgr *sandbox.Manager, installPkg string, verbose bool) *sandboxExec {
	return &sandboxExec{
		mgr:        mgr,
		installPkg: installPkg,
		verbose:    verbose,
		installed:  make(map[string]bool),
	}
}

func (s *sandboxExec) command(ctx context.Context, dir, label, name string, args ...string) (*exec.Cmd, func(), error) {
	sb, release, err := s.mgr.Acquire(ctx, label)
	if err != nil {
		return nil, nil, fmt.Errorf("acquiring sandbox: %w", err)
	}

	if err := s.ensureInstalled(ctx, sb, name); err != nil {
		release()
		return nil, nil, err
	}

	workdir := s.mgr.ContainerPath(dir)
	cmd := s.mgr.ExecCommand(ctx, sb, workdir, name, args...)
	configureTermination(cmd)
	return cmd, release, nil
}

// ensureInstalled makes sure the agent CLI exists inside the sandbox,
// installing it on first use
func (s *sandboxExec) ensureInstalled(ctx context.Context, sb *sandbox.Sandbox, tool string) error {
	s.mu.Lock()
	done := s.installed[sb.Name]
	s.mu.Unlock()
	if done {
		return nil
	}

	// Fast path: already present in the sandbox image or a previous run
	if err := s.mgr.ExecCommand(ctx, sb, "", "sh", "-c", "command -v "+tool).Run(); err == nil {
		s.markInstalled(sb.Name)
		return nil
	}

	if s.verbose {
		log.Printf("📦 Installing %s into sandbox %s", s.installPkg, sb.Name)
	}

	installCmd := s.mgr.ExecCommand(ctx, sb, "", "npm", "install", "-g", s.installPkg)
	if output, err := installCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("installing %s in sandbox %s: %w\n%s", s.installPkg, sb.Name, err, output)
	}

	if err := s.mgr.ExecCommand(ctx, sb, "", "sh", "-c", "command -v "+tool).Run(); err != nil {
		return fmt.Errorf("%s still not available in sandbox %s after install", tool, sb.Name)
	}

	s.markInstalled(sb.Name)
	return nil
}

func (s *sandboxExec) markInstalled(name string) {
	s.mu.Lock()
	s.installed[name] = true
	s.mu.Unlock()
}
