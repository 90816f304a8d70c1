// Package telemetry provides OpenTelemetry observability for the Locus agent worker
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the global tracer for the worker
var tracer = otel.Tracer("locus-agent")

// Span names for worker operations
const (
	// Worker spans
	SpanWorkerRun      = "locus.worker.run"
	SpanWorkerDispatch = "locus.worker.dispatch"
	SpanWorkerFinalize = "locus.worker.finalize"

	// Task spans
	SpanTaskExecute   = "locus.task.execute"
	SpanTaskIntegrate = "locus.task.integrate"
	SpanTaskReport    = "locus.task.report"

	// Runner spans
	SpanRunnerExecute = "locus.runner.execute"

	// Sandbox spans
	SpanSandboxCreate  = "locus.sandbox.create"
	SpanSandboxDestroy = "locus.sandbox.destroy"

	// Worktree spans
	SpanWorktreeCreate  = "locus.worktree.create"
	SpanWorktreeCleanup = "locus.worktree.cleanup"

	// Git spans
	SpanGitCommit = "locus.git.commit"
	SpanGitPush   = "locus.git.push"
	SpanPrCreate  = "locus.pr.create"
)

// StartWorkerSpan starts a span for a worker operation
func StartWorkerSpan(ctx context.Context, name, agentID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(KeyAgentID, agentID))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartTaskSpan starts a span for a task operation with task attributes
func StartTaskSpan(ctx context.Context, name string, taskAttrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(taskAttrs...))
}

// StartRunnerSpan starts a span for an agent subprocess execution
func StartRunnerSpan(ctx context.Context, provider, model string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String(KeyRunnerProvider, provider),
		attribute.String(KeyRunnerModel, model),
	)
	return tracer.Start(ctx, SpanRunnerExecute, trace.WithAttributes(attrs...))
}

// StartWorktreeSpan starts a span for worktree operations
func StartWorktreeSpan(ctx context.Context, name, worktreePath string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(KeyWorktreePath, worktreePath))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartSandboxSpan starts a span for sandbox lifecycle operations
func StartSandboxSpan(ctx context.Context, name, sandboxName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String(KeySandboxName, sandboxName))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError records an error on a span with optional error type/category
func RecordError(span trace.Span, err error, errorType, errorCategory string) {
	if err == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("exception.message", err.Error()),
		attribute.String("exception.type", errorType),
	}

	if errorCategory != "" {
		attrs = append(attrs, attribute.String(KeyErrorCategory, errorCategory))
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// SetTaskStatus sets the task status as a span attribute
func SetTaskStatus(span trace.Span, status string) {
	span.SetAttributes(attribute.String(KeyTaskState, status))
}

// SetOutcome sets the integration outcome as a span attribute
func SetOutcome(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String(KeyTaskOutcome, outcome))
}

// GetTraceID returns the trace ID from context if available
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// ErrorTypeFromError extracts a human-readable error type
func ErrorTypeFromError(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
