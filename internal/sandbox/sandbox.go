// Package sandbox manages micro-VM container lifecycles for isolated agent runs
package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Mode selects who owns the sandbox lifecycle
type Mode string

const (
	// ModeEphemeral creates a fresh sandbox per execution and destroys it after
	ModeEphemeral Mode = "ephemeral"
	// ModePersistent creates a sandbox on first use and reuses it across tasks
	ModePersistent Mode = "persistent"
	// ModeUserManaged attaches to a sandbox the user created; the worker
	// never creates or destroys it
	ModeUserManaged Mode = "user"
)

// State is the lifecycle state of a sandbox
type State int

const (
	StateUnreserved State = iota
	StateCreated
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUnreserved:
		return "unreserved"
	case StateCreated:
		return "created"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Sandbox is a single container instance. State transitions are enforced:
// only unreserved sandboxes can be created, only created ones destroyed,
// and user-managed sandboxes refuse both.
type Sandbox struct {
	Name string
	Mode Mode

	cli        string
	image      string
	projectDir string

	mu    sync.Mutex
	state State
}

// State returns the current lifecycle state
func (s *Sandbox) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Create provisions the container with the project mounted at the workspace root
func (s *Sandbox) Create(ctx context.Context) error {
	if s.Mode == ModeUserManaged {
		return fmt.Errorf("sandbox %s is user-managed and cannot be created by the worker", s.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnreserved {
		return fmt.Errorf("cannot create sandbox %s in state %s", s.Name, s.state)
	}

	cmd := exec.CommandContext(ctx, s.cli, "run", "--detach",
		"--name", s.Name,
		"--volume", s.projectDir+":"+workspaceRoot,
		s.image, "sleep", "infinity")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("creating sandbox %s: %w\n%s", s.Name, err, output)
	}

	s.state = StateCreated
	return nil
}

// Destroy tears the container down. Destroying an already-destroyed sandbox
// is a no-op so deferred cleanup stays unconditional.
func (s *Sandbox) Destroy(ctx context.Context) error {
	if s.Mode == ModeUserManaged {
		return fmt.Errorf("sandbox %s is user-managed and cannot be destroyed by the worker", s.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateDestroyed:
		return nil
	case StateUnreserved:
		return fmt.Errorf("cannot destroy sandbox %s: never created", s.Name)
	}

	cmd := exec.CommandContext(ctx, s.cli, "rm", "-f", s.Name)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("destroying sandbox %s: %w\n%s", s.Name, err, output)
	}

	s.state = StateDestroyed
	return nil
}

// Alive checks whether the container is actually running
func (s *Sandbox) Alive(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, s.cli, "ps", "--format", "{{.Names}}")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	for _, name := range strings.Split(string(output), "\n") {
		if strings.TrimSpace(name) == s.Name {
			return true
		}
	}
	return false
}
