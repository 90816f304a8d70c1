package sandbox

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/locus-hq/locus-agent/pkg/telemetry"
)

// workspaceRoot is where the project directory is mounted inside a sandbox
const workspaceRoot = "/workspace"

// sensitiveFindExpr matches files that must never be visible to the agent.
// They are swept from the synced filesystem before every execution.
const sensitiveFindExpr = `\( -name '.env' -o -name '.env.*' -o -name '*.pem' -o -name 'id_rsa*' -o -name 'credentials.json' \) -type f`

// Config configures a sandbox manager
type Config struct {
	CLI        string // container CLI binary, defaults to "docker"
	Image      string // sandbox image
	ProjectDir string // host path mounted at the workspace root
	Mode       Mode
	Name       string // required for user-managed mode
	Verbose    bool
}

// Manager hands out sandboxes according to the configured lifecycle mode and
// tracks active ones in a registry for cleanup.
type Manager struct {
	cli        string
	image      string
	projectDir string
	mode       Mode
	userName   string
	verbose    bool
	registry   *Registry

	mu         sync.Mutex
	persistent *Sandbox
}

// NewManager creates a sandbox manager with its own registry
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Mode == ModeUserManaged && cfg.Name == "" {
		return nil, fmt.Errorf("user-managed sandbox mode requires a sandbox name")
	}

	cli := cfg.CLI
	if cli == "" {
		cli = "docker"
	}
	image := cfg.Image
	if image == "" {
		image = "node:22-bookworm"
	}

	return &Manager{
		cli:        cli,
		image:      image,
		projectDir: cfg.ProjectDir,
		mode:       cfg.Mode,
		userName:   cfg.Name,
		verbose:    cfg.Verbose,
		registry:   NewRegistry(),
	}, nil
}

// Registry returns the manager's active-sandbox registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Acquire returns a ready sandbox for one execution, sweeping sensitive
// files first. The release function must be called when the execution ends;
// for ephemeral sandboxes it destroys the container, otherwise it is a no-op.
func (m *Manager) Acquire(ctx context.Context, label string) (*Sandbox, func(), error) {
	switch m.mode {
	case ModeUserManaged:
		return m.acquireUserManaged(ctx)
	case ModePersistent:
		return m.acquirePersistent(ctx)
	default:
		return m.acquireEphemeral(ctx, label)
	}
}

func (m *Manager) acquireUserManaged(ctx context.Context) (*Sandbox, func(), error) {
	sb := &Sandbox{
		Name:       m.userName,
		Mode:       ModeUserManaged,
		cli:        m.cli,
		image:      m.image,
		projectDir: m.projectDir,
		state:      StateCreated,
	}

	if !sb.Alive(ctx) {
		return nil, nil, fmt.Errorf("user-managed sandbox %s is not running", m.userName)
	}
	if err := m.sweepExclusions(ctx, sb); err != nil {
		return nil, nil, err
	}

	return sb, func() {}, nil
}

func (m *Manager) acquirePersistent(ctx context.Context) (*Sandbox, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.persistent != nil {
		if m.persistent.Alive(ctx) {
			if err := m.sweepExclusions(ctx, m.persistent); err != nil {
				return nil, nil, err
			}
			return m.persistent, func() {}, nil
		}
		// The container died underneath us; recreate
		if m.verbose {
			log.Printf("⚠️  Persistent sandbox %s no longer alive, recreating", m.persistent.Name)
		}
		m.registry.Unregister(m.persistent.Name)
		m.persistent = nil
	}

	sb, err := m.create(ctx, m.persistentName(), ModePersistent)
	if err != nil {
		return nil, nil, err
	}
	m.persistent = sb

	if err := m.sweepExclusions(ctx, sb); err != nil {
		return nil, nil, err
	}
	return sb, func() {}, nil
}

func (m *Manager) acquireEphemeral(ctx context.Context, label string) (*Sandbox, func(), error) {
	sb, err := m.create(ctx, DeriveName(label, m.projectDir, time.Now()), ModeEphemeral)
	if err != nil {
		return nil, nil, err
	}

	if err := m.sweepExclusions(ctx, sb); err != nil {
		m.destroy(sb)
		return nil, nil, err
	}

	return sb, func() { m.destroy(sb) }, nil
}

func (m *Manager) create(ctx context.Context, name string, mode Mode) (*Sandbox, error) {
	_, span := telemetry.StartSandboxSpan(ctx, telemetry.SpanSandboxCreate, name)
	defer span.End()

	sb := &Sandbox{
		Name:       name,
		Mode:       mode,
		cli:        m.cli,
		image:      m.image,
		projectDir: m.projectDir,
	}

	if err := sb.Create(ctx); err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategorySandbox)
		return nil, err
	}
	m.registry.Register(sb)

	if m.verbose {
		log.Printf("📦 Created %s sandbox %s", mode, name)
	}
	return sb, nil
}

// destroy tears down a sandbox and drops it from the registry. Used for
// deferred cleanup, so it logs instead of returning errors.
func (m *Manager) destroy(sb *Sandbox) {
	ctx, span := telemetry.StartSandboxSpan(context.Background(), telemetry.SpanSandboxDestroy, sb.Name)
	defer span.End()

	if err := sb.Destroy(ctx); err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorTypeFromError(err), telemetry.ErrorCategorySandbox)
		log.Printf("⚠️  Failed to destroy sandbox %s: %v", sb.Name, err)
	} else if m.verbose {
		log.Printf("🗑️  Destroyed sandbox %s", sb.Name)
	}
	m.registry.Unregister(sb.Name)
}

// ExecCommand builds a command that runs inside the sandbox
func (m *Manager) ExecCommand(ctx context.Context, sb *Sandbox, workdir, name string, args ...string) *exec.Cmd {
	full := []string{"exec", "-i"}
	if workdir != "" {
		full = append(full, "-w", workdir)
	}
	full = append(full, sb.Name, name)
	full = append(full, args...)
	return exec.CommandContext(ctx, m.cli, full...)
}

// ContainerPath maps a host path under the project directory to its path
// inside the sandbox. Paths outside the project fall back to the workspace root.
func (m *Manager) ContainerPath(hostPath string) string {
	if hostPath == "" {
		return workspaceRoot
	}
	rel, err := filepath.Rel(m.projectDir, hostPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return workspaceRoot
	}
	return filepath.Join(workspaceRoot, rel)
}

// sweepExclusions removes sensitive files from the sandbox's view of the
// project before the agent runs
func (m *Manager) sweepExclusions(ctx context.Context, sb *Sandbox) error {
	script := fmt.Sprintf("find %s -maxdepth 6 %s -delete", workspaceRoot, sensitiveFindExpr)
	cmd := m.ExecCommand(ctx, sb, "", "sh", "-c", script)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sweeping sensitive files in sandbox %s: %w\n%s", sb.Name, err, output)
	}
	return nil
}

// Shutdown destroys every sandbox this manager still has registered
func (m *Manager) Shutdown(ctx context.Context) {
	m.registry.DestroyAll(ctx)
	m.mu.Lock()
	m.persistent = nil
	m.mu.Unlock()
}

// persistentName derives the stable name for the project's persistent sandbox
func (m *Manager) persistentName() string {
	return "locus-" + sanitizeName(filepath.Base(m.projectDir))
}

var issueIDPattern = regexp.MustCompile(`[A-Za-z]+-\d+`)

// DeriveName builds a sandbox name from the activity label. An issue-style
// identifier in the label wins; otherwise the project directory name is used.
// A timestamp salt keeps concurrent runs from colliding.
func DeriveName(label, projectDir string, now time.Time) string {
	base := issueIDPattern.FindString(label)
	if base == "" {
		base = filepath.Base(projectDir)
	}
	return fmt.Sprintf("locus-%s-%d", sanitizeName(base), now.Unix())
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

func sanitizeName(s string) string {
	s = strings.ToLower(s)
	s = invalidNameChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "sandbox"
	}
	return s
}
