package runner

import (
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// abortGrace is how long an aborted agent gets to exit after SIGTERM
// before it is killed outright.
const abortGrace = 3 * time.Second

// configureTermination makes context cancellation behave like Abort: the
// agent gets SIGTERM and the grace period instead of an immediate SIGKILL.
// The command runs in its own process group so the signal also reaches
// grandchildren, which would otherwise hold the stdout pipe open and block
// Wait past the grace period.
func configureTermination(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return signalGroup(cmd, syscall.SIGTERM)
	}
	cmd.WaitDelay = abortGrace
}

// signalGroup signals the command's process group, falling back to the
// process itself when the group cannot be signalled
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		return cmd.Process.Signal(sig)
	}
	return nil
}

// procHandle tracks the live subprocess of a runner so Abort can reach it
// from another goroutine. Abort with no live process is a no-op, and calling
// it repeatedly is safe.
type procHandle struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	aborted bool
}

// track registers a started command. Resets the aborted flag for the new run.
func (p *procHandle) track(cmd *exec.Cmd) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cmd = cmd
	p.done = make(chan struct{})
	p.aborted = false
}

// finish marks the tracked command as exited
func (p *procHandle) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.cmd = nil
}

// wasAborted reports whether the last run was stopped via Abort
func (p *procHandle) wasAborted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aborted
}

// abort stops the live process: SIGTERM first, SIGKILL after the grace
// period if it hasn't exited.
func (p *procHandle) abort() {
	p.mu.Lock()
	if p.aborted {
		p.mu.Unlock()
		return
	}
	cmd := p.cmd
	done := p.done
	if cmd == nil || cmd.Process == nil {
		p.mu.Unlock()
		return
	}
	p.aborted = true
	p.mu.Unlock()

	_ = signalGroup(cmd, syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(abortGrace):
		_ = signalGroup(cmd, syscall.SIGKILL)
	}
}

// exitCode extracts the subprocess exit code from a Wait error
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}
