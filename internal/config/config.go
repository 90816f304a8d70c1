// Package config handles worker configuration
package config

import (
	"fmt"
	"os"
	"time"
)

// WorkerConfig holds the full configuration of a worker run. It is built
// once at startup from defaults, environment and flags, then treated as
// immutable for the life of the process.
type WorkerConfig struct {
	// Identity
	AgentID     string
	WorkspaceID string
	SprintID    string

	// Workspace server
	APIBase string
	APIKey  string

	// Project
	ProjectDir string

	// Runner settings
	Provider   string // "claude" or "codex"
	RunnerPath string // agent binary; defaults to the provider name
	Model      string

	// Isolation settings
	UseWorktrees bool
	WorktreeDir  string
	SandboxMode  string // "off", "ephemeral", "persistent", or "user"
	SandboxName  string // required for user-managed sandboxes
	SandboxCLI   string // container CLI binary
	SandboxImage string

	// Integration settings
	AutoPush bool
	GhCLI    string

	// Loop settings
	MaxTasks            int
	TaskTimeout         time.Duration
	HeartbeatInterval   time.Duration
	DispatchMaxAttempts int
	DispatchRetryDelay  time.Duration

	// Verbose mode for debugging
	Verbose bool
}

// Load builds a config from defaults and LOCUS_* environment overrides.
// Flags are bound on top by the CLI.
func Load() *WorkerConfig {
	cfg := &WorkerConfig{
		Provider:            "claude",
		UseWorktrees:        true,
		WorktreeDir:         ".locus/worktrees",
		SandboxMode:         "off",
		AutoPush:            true,
		MaxTasks:            10,
		TaskTimeout:         60 * time.Minute,
		HeartbeatInterval:   30 * time.Second,
		DispatchMaxAttempts: 10,
		DispatchRetryDelay:  30 * time.Second,
	}

	// Environment overrides
	if v := os.Getenv("LOCUS_AGENT_ID"); v != "" {
		cfg.AgentID = v
	}
	if v := os.Getenv("LOCUS_WORKSPACE_ID"); v != "" {
		cfg.WorkspaceID = v
	}
	if v := os.Getenv("LOCUS_SPRINT_ID"); v != "" {
		cfg.SprintID = v
	}
	if v := os.Getenv("LOCUS_API_BASE"); v != "" {
		cfg.APIBase = v
	}
	if v := os.Getenv("LOCUS_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("LOCUS_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("LOCUS_RUNNER_PATH"); v != "" {
		cfg.RunnerPath = v
	}
	if v := os.Getenv("LOCUS_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("LOCUS_USE_WORKTREES"); v != "" {
		cfg.UseWorktrees = v == "true" || v == "1"
	}
	if v := os.Getenv("LOCUS_SANDBOX_MODE"); v != "" {
		cfg.SandboxMode = v
	}
	if v := os.Getenv("LOCUS_SANDBOX_NAME"); v != "" {
		cfg.SandboxName = v
	}
	if v := os.Getenv("LOCUS_SANDBOX_CLI"); v != "" {
		cfg.SandboxCLI = v
	}
	if v := os.Getenv("LOCUS_SANDBOX_IMAGE"); v != "" {
		cfg.SandboxImage = v
	}
	if v := os.Getenv("LOCUS_AUTO_PUSH"); v != "" {
		cfg.AutoPush = v == "true" || v == "1"
	}
	if v := os.Getenv("LOCUS_MAX_TASKS"); v != "" {
		cfg.MaxTasks = parseIntOrDefault(v, cfg.MaxTasks)
	}
	if v := os.Getenv("LOCUS_TASK_TIMEOUT"); v != "" {
		cfg.TaskTimeout = parseDurationOrDefault(v, cfg.TaskTimeout)
	}
	if v := os.Getenv("LOCUS_HEARTBEAT_INTERVAL"); v != "" {
		cfg.HeartbeatInterval = parseDurationOrDefault(v, cfg.HeartbeatInterval)
	}
	if v := os.Getenv("LOCUS_VERBOSE"); v != "" {
		cfg.Verbose = v == "true" || v == "1"
	}

	return cfg
}

// Validate checks that everything required to start a run is present
func (c *WorkerConfig) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("agent ID is required (--agent-id or LOCUS_AGENT_ID)")
	}
	if c.WorkspaceID == "" {
		return fmt.Errorf("workspace ID is required (--workspace-id or LOCUS_WORKSPACE_ID)")
	}
	if c.APIBase == "" {
		return fmt.Errorf("API base URL is required (--api-base or LOCUS_API_BASE)")
	}
	if c.ProjectDir == "" {
		return fmt.Errorf("project directory is required (--project)")
	}
	if info, err := os.Stat(c.ProjectDir); err != nil || !info.IsDir() {
		return fmt.Errorf("project directory %s does not exist", c.ProjectDir)
	}

	switch c.Provider {
	case "claude", "codex":
	default:
		return fmt.Errorf("unknown provider %q (expected claude or codex)", c.Provider)
	}

	switch c.SandboxMode {
	case "off", "ephemeral", "persistent":
	case "user":
		if c.SandboxName == "" {
			return fmt.Errorf("user-managed sandbox mode requires --sandbox-name")
		}
	default:
		return fmt.Errorf("unknown sandbox mode %q", c.SandboxMode)
	}

	if c.MaxTasks < 1 {
		return fmt.Errorf("max tasks must be at least 1")
	}

	return nil
}

func parseIntOrDefault(s string, def int) int {
	var i int
	if _, err := fmt.Sscanf(s, "%d", &i); err != nil {
		return def
	}
	return i
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
