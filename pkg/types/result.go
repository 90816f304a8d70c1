package types

import "time"

// RunnerResult is the outcome of a single agent subprocess invocation
type RunnerResult struct {
	Success  bool
	Output   string
	Summary  string // final result message from the stream, if any
	Error    string
	ExitCode int
	Aborted  bool
	Duration time.Duration
}

// TaskResult is the outcome of executing a task end to end
type TaskResult struct {
	TaskID   string
	Success  bool
	Summary  string
	Output   string
	Error    string
	Aborted  bool
	Duration time.Duration
}

// Outcome classifies how a finished task was integrated
type Outcome string

const (
	// OutcomeNoChanges means the agent ran but left the working tree clean
	OutcomeNoChanges Outcome = "no-changes"
	// OutcomeCompletedWithPr means changes were committed, pushed and a PR opened
	OutcomeCompletedWithPr Outcome = "completed-with-pr"
	// OutcomeCompletedNoPr means changes were committed but no PR was opened
	OutcomeCompletedNoPr Outcome = "completed-no-pr"
	// OutcomeFailed means the agent execution failed
	OutcomeFailed Outcome = "failed"
)

// Icon returns a display icon for the outcome
func (o Outcome) Icon() string {
	switch o {
	case OutcomeCompletedWithPr:
		return "✅"
	case OutcomeCompletedNoPr:
		return "📦"
	case OutcomeNoChanges:
		return "📭"
	case OutcomeFailed:
		return "❌"
	default:
		return "❓"
	}
}
