// Package journal records per-run task outcomes in a local SQLite database
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/locus-hq/locus-agent/pkg/types"
)

// Journal is the local record of what this worker did. The workspace server
// holds canonical task state; the journal exists so the completion summary
// and post-mortems survive without another round trip.
type Journal struct {
	db *sql.DB
}

// Entry is one recorded task outcome
type Entry struct {
	RunID      string
	TaskID     string
	Title      string
	Outcome    types.Outcome
	Branch     string
	PrURL      string
	Error      string
	DurationMs int64
	RecordedAt int64
}

// Open opens (and initializes) the journal database at path
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// WAL keeps the journal readable while a run is writing to it
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return j, nil
}

// Close closes the journal database
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		sprint_id TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS task_outcomes (
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		title TEXT NOT NULL,
		outcome TEXT NOT NULL,
		branch TEXT,
		pr_url TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, task_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON task_outcomes(run_id);
	CREATE INDEX IF NOT EXISTS idx_outcomes_outcome ON task_outcomes(outcome);
	`

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing journal schema: %w", err)
	}
	return nil
}

// StartRun records the beginning of a worker run
func (j *Journal) StartRun(runID, agentID, workspaceID, sprintID string) error {
	_, err := j.db.Exec(
		`INSERT INTO runs (id, agent_id, workspace_id, sprint_id, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, agentID, workspaceID, sprintID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

// FinishRun stamps the run's end time
func (j *Journal) FinishRun(runID string) error {
	_, err := j.db.Exec(`UPDATE runs SET finished_at = ? WHERE id = ?`, time.Now().Unix(), runID)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

// Record stores one task outcome, replacing any earlier record for the same
// task in the same run
func (j *Journal) Record(e Entry) error {
	if e.RecordedAt == 0 {
		e.RecordedAt = time.Now().Unix()
	}

	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO task_outcomes
			(run_id, task_id, title, outcome, branch, pr_url, error, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.TaskID, e.Title, string(e.Outcome), e.Branch, e.PrURL, e.Error, e.DurationMs, e.RecordedAt)
	if err != nil {
		return fmt.Errorf("recording outcome for task %s: %w", e.TaskID, err)
	}
	return nil
}

// ListByRun returns all recorded outcomes for a run in recording order
func (j *Journal) ListByRun(runID string) ([]Entry, error) {
	rows, err := j.db.Query(`
		SELECT run_id, task_id, title, outcome, branch, pr_url, error, duration_ms, recorded_at
		FROM task_outcomes WHERE run_id = ? ORDER BY recorded_at, task_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var outcome string
		if err := rows.Scan(&e.RunID, &e.TaskID, &e.Title, &outcome, &e.Branch, &e.PrURL, &e.Error, &e.DurationMs, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		e.Outcome = types.Outcome(outcome)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// CountByOutcome tallies a run's outcomes
func (j *Journal) CountByOutcome(runID string) (map[types.Outcome]int, error) {
	rows, err := j.db.Query(`
		SELECT outcome, COUNT(*) FROM task_outcomes WHERE run_id = ? GROUP BY outcome`, runID)
	if err != nil {
		return nil, fmt.Errorf("counting outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[types.Outcome(outcome)] = n
	}

	return counts, rows.Err()
}
