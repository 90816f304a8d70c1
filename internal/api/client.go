// Package api implements the HTTP client for the Locus workspace server
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/locus-hq/locus-agent/pkg/types"
)

// ErrNoTasks is returned by DispatchNextTask when the sprint backlog is empty.
// Callers treat it as a clean stop, not a failure.
var ErrNoTasks = errors.New("no dispatchable tasks")

// Client is an HTTP client for the workspace server
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	agentID    string
}

// Config holds client configuration
type Config struct {
	BaseURL string
	APIKey  string
	AgentID string
	Timeout time.Duration
}

// NewClient creates a new workspace server client
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey:  cfg.APIKey,
		agentID: cfg.AgentID,
	}
}

type dispatchRequest struct {
	AgentID  string `json:"agent_id"`
	SprintID string `json:"sprint_id,omitempty"`
}

// DispatchNextTask asks the server to assign the next ready task to this
// agent. Returns ErrNoTasks when nothing is dispatchable.
func (c *Client) DispatchNextTask(ctx context.Context, workspaceID, sprintID string) (*types.Task, error) {
	path := fmt.Sprintf("/api/workspaces/%s/tasks/dispatch", workspaceID)
	body := dispatchRequest{AgentID: c.agentID, SprintID: sprintID}

	resp, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, ErrNoTasks
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var task types.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, fmt.Errorf("failed to decode dispatch response: %w", err)
	}

	return &task, nil
}

// GetTaskDetail fetches a task with its comments
func (c *Client) GetTaskDetail(ctx context.Context, taskID string) (*types.Task, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/tasks/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var task types.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, fmt.Errorf("failed to decode task detail: %w", err)
	}

	return &task, nil
}

// UpdateTask reports a status change and any integration metadata
func (c *Client) UpdateTask(ctx context.Context, taskID string, update types.TaskUpdate) error {
	resp, err := c.doRequest(ctx, http.MethodPatch, "/api/tasks/"+taskID, update)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}

	return nil
}

type commentRequest struct {
	AuthorID string `json:"author_id"`
	Body     string `json:"body"`
}

// AddTaskComment posts a comment on a task as this agent
func (c *Client) AddTaskComment(ctx context.Context, taskID, body string) error {
	req := commentRequest{AuthorID: c.agentID, Body: body}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/tasks/"+taskID+"/comments", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}

	return nil
}

type heartbeatRequest struct {
	Status        string `json:"status"`
	CurrentTaskID string `json:"current_task_id,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// SendHeartbeat reports liveness. Failures are the caller's to log, never
// to retry; the next tick supersedes this one anyway.
func (c *Client) SendHeartbeat(ctx context.Context, status, currentTaskID string) error {
	req := heartbeatRequest{
		Status:        status,
		CurrentTaskID: currentTaskID,
		Timestamp:     time.Now().Unix(),
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/agents/"+c.agentID+"/heartbeat", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}

	return nil
}

// doRequest performs the HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	return c.httpClient.Do(httpReq)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("API error: status %d: %s", resp.StatusCode, string(body))
}
