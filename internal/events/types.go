// Package events provides in-process streaming of task lifecycle events
package events

import (
	"fmt"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// EventRunStarted is emitted when the worker begins a run
	EventRunStarted EventType = "run.started"
	// EventRunFinished is emitted when the worker finishes a run
	EventRunFinished EventType = "run.finished"
	// EventTaskClaimed is emitted when the worker claims a dispatched task
	EventTaskClaimed EventType = "task.claimed"
	// EventTaskStarted is emitted when agent execution begins
	EventTaskStarted EventType = "task.started"
	// EventTaskCompleted is emitted when a task completes successfully
	EventTaskCompleted EventType = "task.completed"
	// EventTaskFailed is emitted when a task fails
	EventTaskFailed EventType = "task.failed"
	// EventTaskBlocked is emitted when a task is reported as blocked
	EventTaskBlocked EventType = "task.blocked"
	// EventPrOpened is emitted when a pull request is created for a task
	EventPrOpened EventType = "pr.opened"
)

// Event represents a single lifecycle event
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp int64          `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, runID, taskID string, data map[string]any) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		RunID:     runID,
		TaskID:    taskID,
		Data:      data,
	}
}

// FormatCompact formats an event in a compact human-readable form
func FormatCompact(event *Event) string {
	if event.TaskID == "" {
		return fmt.Sprintf("[%d] %s", event.Timestamp, event.Type)
	}
	return fmt.Sprintf("[%d] %s task=%s", event.Timestamp, event.Type, event.TaskID)
}
