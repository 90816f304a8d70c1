// Package executor turns tasks into agent invocations and interprets the results
package executor

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/locus-hq/locus-agent/internal/runner"
	"github.com/locus-hq/locus-agent/pkg/telemetry"
	"github.com/locus-hq/locus-agent/pkg/types"
	"go.opentelemetry.io/otel/attribute"
)

// maxSummaryLen caps how much output is used when the agent reports no
// explicit result message
const maxSummaryLen = 500

// TaskExecutor runs a single task through the configured runner
type TaskExecutor struct {
	runner            runner.Runner
	verbose           bool
	projectGuidelines string
}

// NewTaskExecutor creates a task executor on top of a runner
func NewTaskExecutor(r runner.Runner) *TaskExecutor {
	return &TaskExecutor{runner: r}
}

// SetVerbose enables or disables verbose logging
func (e *TaskExecutor) SetVerbose(v bool) {
	e.verbose = v
}

// SetProjectGuidelines sets project-specific guidelines prepended to every prompt
func (e *TaskExecutor) SetProjectGuidelines(guidelines string) {
	e.projectGuidelines = guidelines
}

// Execute runs the task in workDir and returns the result. Runner failures
// are translated into a failed result; this method never panics the worker
// loop.
func (e *TaskExecutor) Execute(ctx context.Context, task *types.Task, workDir string) *types.TaskResult {
	ctx, span := telemetry.StartTaskSpan(ctx, telemetry.SpanTaskExecute,
		append(telemetry.TaskAttrs(task.ID, task.Title, string(task.Status)),
			attribute.String(telemetry.KeyProjectPath, workDir))...)
	defer span.End()

	prompt := e.buildPrompt(task)

	if e.verbose {
		log.Printf("🤖 Executing task %s (prompt: %d chars)", task.ID, len(prompt))
	}

	result := e.runner.Execute(ctx, runner.ExecuteOptions{
		Prompt:  prompt,
		Dir:     workDir,
		Label:   fmt.Sprintf("%s %s", task.ID, task.Title),
		OnEvent: e.logEvent,
	})

	taskResult := &types.TaskResult{
		TaskID:   task.ID,
		Success:  result.Success,
		Summary:  summarize(result),
		Output:   result.Output,
		Error:    result.Error,
		Aborted:  result.Aborted,
		Duration: result.Duration,
	}

	if !result.Success {
		telemetry.RecordError(span, fmt.Errorf("%s", result.Error), "ExecutionError", telemetry.ErrorCategoryRunner)
	}

	return taskResult
}

// Abort stops the in-flight agent execution, if any
func (e *TaskExecutor) Abort() {
	e.runner.Abort()
}

// logEvent surfaces streamed agent events in the worker log
func (e *TaskExecutor) logEvent(ev runner.Event) {
	switch ev.Kind {
	case runner.EventToolStarted:
		log.Printf("🔧 %s", ev.Tool)
	case runner.EventMessage:
		log.Printf("💬 %s", truncate(ev.Text, 200))
	case runner.EventTurnCompleted:
		if ev.Text != "" {
			log.Printf("🏁 %s", truncate(ev.Text, 200))
		}
	case runner.EventThinking:
		if e.verbose {
			log.Printf("💭 %s", truncate(ev.Text, 120))
		}
	case runner.EventRaw:
		if e.verbose {
			log.Printf("   %s", ev.Text)
		}
	}
}

// buildPrompt creates the agent prompt for a task. Human comments on the
// task are folded in as guidance.
func (e *TaskExecutor) buildPrompt(task *types.Task) string {
	var prompt strings.Builder

	if e.projectGuidelines != "" {
		prompt.WriteString("=== PROJECT GUIDELINES ===\n")
		prompt.WriteString(e.projectGuidelines)
		prompt.WriteString("\n============================\n\n")
	}

	if len(task.Comments) > 0 {
		prompt.WriteString("=== TASK DISCUSSION ===\n")
		prompt.WriteString("The following comments have been left on this task:\n\n")
		for i, c := range task.Comments {
			prompt.WriteString(fmt.Sprintf("[%d] %s: %s\n", i+1, c.AuthorID, c.Body))
		}
		prompt.WriteString("=======================\n\n")
	}

	prompt.WriteString(fmt.Sprintf("Task: %s\n", task.Title))

	if task.Description != "" {
		prompt.WriteString(fmt.Sprintf("Description: %s\n", task.Description))
	}

	prompt.WriteString("\nPlease implement this task completely.")

	return prompt.String()
}

// summarize picks the best available summary from a runner result
func summarize(result *types.RunnerResult) string {
	if result.Summary != "" {
		return result.Summary
	}
	return truncate(strings.TrimSpace(result.Output), maxSummaryLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
