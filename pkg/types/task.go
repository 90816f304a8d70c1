// Package types defines core data structures for the Locus agent worker
package types

// TaskStatus represents the current state of a task on the workspace server
type TaskStatus string

const (
	TaskStatusBacklog    TaskStatus = "backlog"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusInReview   TaskStatus = "in-review"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusDone       TaskStatus = "done"
)

// Task represents a unit of work dispatched by the workspace server
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	WorkspaceID string     `json:"workspace_id"`
	SprintID    string     `json:"sprint_id,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	BranchName  string     `json:"branch_name,omitempty"`
	PrURL       string     `json:"pr_url,omitempty"`
	CreatedAt   int64      `json:"created_at"`
	UpdatedAt   int64      `json:"updated_at"`
	// Comments are populated by the task detail endpoint, not by dispatch
	Comments []Comment `json:"comments,omitempty"`
}

// Comment is a discussion entry attached to a task. Comments written by
// humans before dispatch are folded into the agent prompt as guidance.
type Comment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"`
}

// TaskUpdate carries the mutable fields of a status report. Pointer fields
// distinguish "leave unchanged" from "clear".
type TaskUpdate struct {
	Status     TaskStatus `json:"status,omitempty"`
	AssigneeID *string    `json:"assignee_id,omitempty"`
	BranchName string     `json:"branch_name,omitempty"`
	PrURL      string     `json:"pr_url,omitempty"`
}
