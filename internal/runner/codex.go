package runner

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/locus-hq/locus-agent/pkg/telemetry"
	"github.com/locus-hq/locus-agent/pkg/types"
)

// CodexRunner executes tasks with the Codex CLI. Codex emits plain text, so
// output lines are surfaced as raw events rather than parsed structures.
type CodexRunner struct {
	path    string
	model   string
	timeout time.Duration
	verbose bool
	exec    execer
	proc    procHandle
}

func newCodexRunner(path, model string, timeout time.Duration, verbose bool, ex execer) *CodexRunner {
	return &CodexRunner{
		path:    path,
		model:   model,
		timeout: timeout,
		verbose: verbose,
		exec:    ex,
	}
}

// IsAvailable reports whether the CLI responds on the host
func (r *CodexRunner) IsAvailable() bool {
	return exec.Command(r.path, "--version").Run() == nil
}

// Version returns the CLI version string
func (r *CodexRunner) Version() (string, error) {
	output, err := exec.Command(r.path, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("codex not found at %s: %w\n%s", r.path, err, output)
	}
	return strings.TrimSpace(string(output)), nil
}

// Execute runs codex in full-auto exec mode with the prompt on stdin
func (r *CodexRunner) Execute(ctx context.Context, opts ExecuteOptions) *types.RunnerResult {
	_, span := telemetry.StartRunnerSpan(ctx, telemetry.ProviderCodex, r.model)
	defer span.End()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	// "-" tells codex to read the prompt from stdin
	args := []string{"exec", "--full-auto", "--skip-git-repo-check"}
	if r.model != "" {
		args = append(args, "--model", r.model)
	}
	args = append(args, "-")

	cmd, release, err := r.exec.command(ctx, opts.Dir, opts.Label, r.path, args...)
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategorySandbox)
		return &types.RunnerResult{Success: false, Error: err.Error(), ExitCode: 1}
	}
	defer release()

	cmd.Stdin = strings.NewReader(opts.Prompt)

	lineWriter := &rawLineWriter{onEvent: opts.OnEvent}
	var outBuf, errBuf strings.Builder
	cmd.Stdout = io.MultiWriter(lineWriter, &outBuf)
	cmd.Stderr = &errBuf

	if r.verbose {
		log.Printf("🤖 Sending prompt to codex (length: %d chars)", len(opts.Prompt))
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategoryRunner)
		return &types.RunnerResult{Success: false, Error: fmt.Sprintf("starting codex: %v", err), ExitCode: 1}
	}
	r.proc.track(cmd)

	waitErr := cmd.Wait()
	r.proc.finish()
	lineWriter.Close()
	duration := time.Since(start)

	result := &types.RunnerResult{
		Output:   outBuf.String(),
		ExitCode: exitCode(waitErr),
		Duration: duration,
	}

	// Codex has no structured result message; the tail of the output is the
	// closest thing to a summary
	result.Summary = lastNonEmptyLine(outBuf.String())

	if r.proc.wasAborted() {
		result.Aborted = true
		result.Error = "aborted"
		telemetry.RecordError(span, fmt.Errorf("aborted"), "Aborted", telemetry.ErrorCategoryRunner)
		return result
	}

	if waitErr != nil {
		msg := strings.TrimSpace(errBuf.String())
		if msg == "" {
			msg = fmt.Sprintf("codex exited with code %d", result.ExitCode)
		}
		if ctx.Err() == context.DeadlineExceeded {
			msg = fmt.Sprintf("codex timed out after %v", duration)
			telemetry.RecordError(span, waitErr, "TimeoutError", telemetry.ErrorCategoryTimeout)
		} else {
			telemetry.RecordError(span, waitErr, "ExecutionError", telemetry.ErrorCategoryRunner)
		}
		if r.verbose {
			log.Printf("❌ codex exited with code %d after %v", result.ExitCode, duration)
		}
		result.Error = msg
		return result
	}

	if r.verbose {
		log.Printf("✅ codex completed in %v", duration)
	}

	result.Success = true
	return result
}

// Abort stops the in-flight agent process, if any
func (r *CodexRunner) Abort() {
	r.proc.abort()
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
