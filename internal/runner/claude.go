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

// ClaudeRunner executes tasks with the Claude Code CLI in print mode,
// parsing its stream-json output into events
type ClaudeRunner struct {
	path    string
	model   string
	timeout time.Duration
	verbose bool
	exec    execer
	proc    procHandle
}

func newClaudeRunner(path, model string, timeout time.Duration, verbose bool, ex execer) *ClaudeRunner {
	return &ClaudeRunner{
		path:    path,
		model:   model,
		timeout: timeout,
		verbose: verbose,
		exec:    ex,
	}
}

// IsAvailable reports whether the CLI responds on the host
func (r *ClaudeRunner) IsAvailable() bool {
	return exec.Command(r.path, "--version").Run() == nil
}

// Version returns the CLI version string
func (r *ClaudeRunner) Version() (string, error) {
	output, err := exec.Command(r.path, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("claude not found at %s: %w\n%s", r.path, err, output)
	}
	return strings.TrimSpace(string(output)), nil
}

// Execute runs the agent with the prompt on stdin and returns its result.
// Failures are reported in the result, never as a panic or crash.
func (r *ClaudeRunner) Execute(ctx context.Context, opts ExecuteOptions) *types.RunnerResult {
	_, span := telemetry.StartRunnerSpan(ctx, telemetry.ProviderClaude, r.model)
	defer span.End()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := []string{"-p", "--output-format", "stream-json", "--verbose", "--dangerously-skip-permissions"}
	if r.model != "" {
		args = append(args, "--model", r.model)
	}

	cmd, release, err := r.exec.command(ctx, opts.Dir, opts.Label, r.path, args...)
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategorySandbox)
		return &types.RunnerResult{Success: false, Error: err.Error(), ExitCode: 1}
	}
	defer release()

	cmd.Stdin = strings.NewReader(opts.Prompt)

	parser := NewStreamParser(opts.OnEvent)
	var outBuf, errBuf strings.Builder
	cmd.Stdout = io.MultiWriter(parser, &outBuf)
	cmd.Stderr = &errBuf

	if r.verbose {
		log.Printf("🤖 Sending prompt to claude (length: %d chars)", len(opts.Prompt))
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategoryRunner)
		return &types.RunnerResult{Success: false, Error: fmt.Sprintf("starting claude: %v", err), ExitCode: 1}
	}
	r.proc.track(cmd)

	waitErr := cmd.Wait()
	r.proc.finish()
	parser.Close()
	duration := time.Since(start)

	result := &types.RunnerResult{
		Output:   outBuf.String(),
		Summary:  parser.Result(),
		ExitCode: exitCode(waitErr),
		Duration: duration,
	}

	if r.proc.wasAborted() {
		result.Aborted = true
		result.Error = "aborted"
		telemetry.RecordError(span, fmt.Errorf("aborted"), "Aborted", telemetry.ErrorCategoryRunner)
		return result
	}

	if waitErr != nil {
		msg := strings.TrimSpace(errBuf.String())
		if msg == "" {
			msg = fmt.Sprintf("claude exited with code %d", result.ExitCode)
		}
		if ctx.Err() == context.DeadlineExceeded {
			msg = fmt.Sprintf("claude timed out after %v", duration)
			telemetry.RecordError(span, waitErr, "TimeoutError", telemetry.ErrorCategoryTimeout)
		} else {
			telemetry.RecordError(span, waitErr, "ExecutionError", telemetry.ErrorCategoryRunner)
		}
		if r.verbose {
			log.Printf("❌ claude exited with code %d after %v", result.ExitCode, duration)
		}
		result.Error = msg
		return result
	}

	if r.verbose {
		log.Printf("✅ claude completed in %v", duration)
	}

	result.Success = true
	return result
}

// Abort stops the in-flight agent process, if any
func (r *ClaudeRunner) Abort() {
	r.proc.abort()
}
