package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/locus-hq/locus-agent/internal/api"
	"github.com/locus-hq/locus-agent/pkg/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *api.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return api.NewClient(api.Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		AgentID: "agent-1",
	})
}

func TestDispatchNextTask(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/workspaces/ws-1/tasks/dispatch" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Expected bearer auth header, got %q", got)
		}

		var req struct {
			AgentID  string `json:"agent_id"`
			SprintID string `json:"sprint_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.AgentID != "agent-1" || req.SprintID != "sprint-1" {
			t.Errorf("Unexpected dispatch request: %+v", req)
		}

		json.NewEncoder(w).Encode(types.Task{
			ID:     "task-1",
			Title:  "Add login form",
			Status: types.TaskStatusBacklog,
		})
	})

	task, err := client.DispatchNextTask(context.Background(), "ws-1", "sprint-1")
	if err != nil {
		t.Fatalf("DispatchNextTask failed: %v", err)
	}
	if task.ID != "task-1" {
		t.Errorf("Expected task-1, got %s", task.ID)
	}
}

func TestDispatchNextTask_EmptyBacklog(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusNoContent} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		_, err := client.DispatchNextTask(context.Background(), "ws-1", "")
		if !errors.Is(err, api.ErrNoTasks) {
			t.Errorf("Status %d: expected ErrNoTasks, got %v", status, err)
		}
	}
}

func TestDispatchNextTask_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.DispatchNextTask(context.Background(), "ws-1", "")
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if errors.Is(err, api.ErrNoTasks) {
		t.Error("Server errors must not be classified as ErrNoTasks")
	}
}

func TestUpdateTask(t *testing.T) {
	var got types.TaskUpdate
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("Expected PATCH, got %s", r.Method)
		}
		if r.URL.Path != "/api/tasks/task-1" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("Failed to decode update: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	unassigned := ""
	err := client.UpdateTask(context.Background(), "task-1", types.TaskUpdate{
		Status:     types.TaskStatusBacklog,
		AssigneeID: &unassigned,
	})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	if got.Status != types.TaskStatusBacklog {
		t.Errorf("Expected backlog status, got %s", got.Status)
	}
	if got.AssigneeID == nil || *got.AssigneeID != "" {
		t.Error("Expected assignee cleared to empty string")
	}
}

func TestAddTaskComment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tasks/task-1/comments" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req struct {
			AuthorID string `json:"author_id"`
			Body     string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode comment: %v", err)
		}
		if req.AuthorID != "agent-1" {
			t.Errorf("Expected author agent-1, got %s", req.AuthorID)
		}
		if req.Body != "no changes produced" {
			t.Errorf("Unexpected body %q", req.Body)
		}
		w.WriteHeader(http.StatusCreated)
	})

	if err := client.AddTaskComment(context.Background(), "task-1", "no changes produced"); err != nil {
		t.Fatalf("AddTaskComment failed: %v", err)
	}
}

func TestSendHeartbeat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/agents/agent-1/heartbeat" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req struct {
			Status        string `json:"status"`
			CurrentTaskID string `json:"current_task_id"`
			Timestamp     int64  `json:"timestamp"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode heartbeat: %v", err)
		}
		if req.Status != "working" || req.CurrentTaskID != "task-1" {
			t.Errorf("Unexpected heartbeat: %+v", req)
		}
		if req.Timestamp == 0 {
			t.Error("Expected non-zero timestamp")
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.SendHeartbeat(context.Background(), "working", "task-1"); err != nil {
		t.Fatalf("SendHeartbeat failed: %v", err)
	}
}
