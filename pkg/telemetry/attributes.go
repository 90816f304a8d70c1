// Package telemetry provides OpenTelemetry observability for the Locus agent worker
package telemetry

import "go.opentelemetry.io/otel/attribute"

// Semantic convention keys for worker-specific attributes
const (
	// Workspace attributes
	KeyWorkspaceID = "locus.workspace.id"
	KeySprintID    = "locus.sprint.id"
	KeyProjectPath = "locus.project.path"

	// Task attributes
	KeyTaskID      = "locus.task.id"
	KeyTaskTitle   = "locus.task.title"
	KeyTaskState   = "locus.task.state"
	KeyTaskOutcome = "locus.task.outcome"

	// Agent attributes
	KeyAgentID = "locus.agent.id"
	KeyRunID   = "locus.run.id"

	// Runner attributes
	KeyRunnerProvider = "locus.runner.provider"
	KeyRunnerModel    = "locus.runner.model"
	KeyRunnerSandbox  = "locus.runner.sandbox"

	// Isolation attributes
	KeyWorktreePath = "locus.worktree.path"
	KeyBranchName   = "locus.branch.name"
	KeySandboxName  = "locus.sandbox.name"
	KeySandboxMode  = "locus.sandbox.mode"

	// Error attributes
	KeyErrorType     = "locus.error.type"
	KeyErrorCategory = "locus.error.category"
)

// Common attribute key values
const (
	// Runner providers
	ProviderClaude = "claude"
	ProviderCodex  = "codex"

	// Error categories
	ErrorCategoryRunner   = "runner"
	ErrorCategoryGit      = "git"
	ErrorCategoryWorktree = "worktree"
	ErrorCategorySandbox  = "sandbox"
	ErrorCategoryAPI      = "api"
	ErrorCategoryTimeout  = "timeout"
	ErrorCategoryUnknown  = "unknown"
)

// TaskAttrs returns a set of attributes for a task
func TaskAttrs(id, title, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyTaskID, id),
		attribute.String(KeyTaskTitle, title),
		attribute.String(KeyTaskState, state),
	}
}

// WorkerAttrs returns a set of attributes for the worker process
func WorkerAttrs(agentID, workspaceID, runID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(KeyAgentID, agentID),
		attribute.String(KeyWorkspaceID, workspaceID),
		attribute.String(KeyRunID, runID),
	}
}
