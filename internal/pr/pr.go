// Package pr creates pull requests for completed tasks via the gh CLI
package pr

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/locus-hq/locus-agent/pkg/telemetry"
	"github.com/locus-hq/locus-agent/pkg/types"
)

// Request describes the pull request to open for a task's branch
type Request struct {
	Task         *types.Task
	WorktreePath string // directory to run gh in; branch must be pushed already
	Branch       string
	BaseBranch   string
	Summary      string // execution summary from the agent
	AgentID      string
}

// Service opens pull requests using the gh CLI
type Service struct {
	cli     string
	verbose bool
}

// NewService creates a PR service. cli defaults to "gh".
func NewService(cli string) *Service {
	if cli == "" {
		cli = "gh"
	}
	return &Service{cli: cli}
}

// SetVerbose enables or disables verbose logging
func (s *Service) SetVerbose(v bool) {
	s.verbose = v
}

// Create opens a pull request and returns its URL
func (s *Service) Create(ctx context.Context, req Request) (string, error) {
	_, span := telemetry.StartTaskSpan(ctx, telemetry.SpanPrCreate,
		telemetry.TaskAttrs(req.Task.ID, req.Task.Title, string(req.Task.Status))...)
	defer span.End()

	args := []string{"pr", "create",
		"--title", BuildTitle(req.Task),
		"--body", BuildBody(req),
		"--head", req.Branch,
	}
	if req.BaseBranch != "" {
		args = append(args, "--base", req.BaseBranch)
	}

	cmd := exec.CommandContext(ctx, s.cli, args...)
	cmd.Dir = req.WorktreePath
	output, err := cmd.CombinedOutput()
	if err != nil {
		createErr := fmt.Errorf("gh pr create: %s: %w", output, err)
		telemetry.RecordError(span, createErr, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategoryGit)
		return "", createErr
	}

	// gh prints the PR URL as the last line of its output
	url := lastLine(string(output))
	if !strings.HasPrefix(url, "http") {
		return "", fmt.Errorf("gh pr create returned no URL: %s", output)
	}

	return url, nil
}

// BuildTitle constructs the PR title from the task
func BuildTitle(task *types.Task) string {
	return fmt.Sprintf("%s [%s]", strings.TrimSpace(task.Title), task.ID)
}

// BuildBody constructs the PR body
func BuildBody(req Request) string {
	var body strings.Builder

	body.WriteString("## Summary\n")
	if req.Summary != "" {
		body.WriteString(req.Summary)
	} else {
		body.WriteString(req.Task.Title)
	}
	body.WriteString("\n\n")

	if req.Task.Description != "" {
		body.WriteString("## Task\n")
		body.WriteString(req.Task.Description)
		body.WriteString("\n\n")
	}

	body.WriteString(fmt.Sprintf("Task-ID: %s\n", req.Task.ID))
	body.WriteString(fmt.Sprintf("Agent: %s\n", req.AgentID))
	body.WriteString("\n---\nAutonomous implementation by Locus agent\n")

	return body.String()
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
