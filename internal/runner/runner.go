// Package runner executes AI coding agent CLIs as subprocesses
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/locus-hq/locus-agent/internal/sandbox"
	"github.com/locus-hq/locus-agent/pkg/types"
)

// EventKind classifies a streamed agent event
type EventKind string

const (
	// EventToolStarted is emitted when the agent begins a tool call
	EventToolStarted EventKind = "tool.started"
	// EventToolCompleted is emitted when a tool call finishes
	EventToolCompleted EventKind = "tool.completed"
	// EventThinking is emitted for a thinking fragment
	EventThinking EventKind = "thinking"
	// EventMessage is emitted once per turn with the accumulated assistant text
	EventMessage EventKind = "message"
	// EventTurnCompleted is emitted when the agent reports its final result
	EventTurnCompleted EventKind = "turn.completed"
	// EventRaw is emitted for output lines that are not structured events
	EventRaw EventKind = "raw"
)

// Event is a single streamed agent event
type Event struct {
	Kind EventKind
	Tool string
	Text string
}

// ExecuteOptions configures a single agent invocation
type ExecuteOptions struct {
	Prompt  string // delivered on stdin, never as an argument
	Dir     string // working directory for the agent
	Label   string // activity label, used for sandbox naming
	OnEvent func(Event)
}

// Runner executes an AI agent CLI. Execute never returns a Go error; failures
// are carried in the result so the caller always has output to report.
type Runner interface {
	IsAvailable() bool
	Version() (string, error)
	Execute(ctx context.Context, opts ExecuteOptions) *types.RunnerResult
	Abort()
}

// Config selects and configures a runner strategy
type Config struct {
	Provider string // "claude" or "codex"
	Path     string // agent binary path; defaults to the provider name
	Model    string
	Timeout  time.Duration
	Verbose  bool
	// Sandbox routes execution through a micro-VM container when set.
	// Availability and version checks still go against the host binary.
	Sandbox *sandbox.Manager
}

// New creates a runner for the configured provider and execution strategy
func New(cfg Config) (Runner, error) {
	path := cfg.Path
	if path == "" {
		path = cfg.Provider
	}

	var ex execer = directExec{}
	if cfg.Sandbox != nil {
		ex = newSandboxExec(cfg.Sandbox, installPackage(cfg.Provider), cfg.Verbose)
	}

	switch cfg.Provider {
	case "claude", "":
		return newClaudeRunner(path, cfg.Model, cfg.Timeout, cfg.Verbose, ex), nil
	case "codex":
		return newCodexRunner(path, cfg.Model, cfg.Timeout, cfg.Verbose, ex), nil
	default:
		return nil, fmt.Errorf("unknown runner provider: %s", cfg.Provider)
	}
}

// installPackage returns the npm package that provides a provider's CLI
func installPackage(provider string) string {
	switch provider {
	case "codex":
		return "@openai/codex"
	default:
		return "@anthropic-ai/claude-code"
	}
}
