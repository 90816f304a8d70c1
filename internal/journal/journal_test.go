package journal

import (
	"path/filepath"
	"testing"

	"github.com/locus-hq/locus-agent/pkg/types"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()

	j, err := Open(filepath.Join(t.TempDir(), ".locus", "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordAndList(t *testing.T) {
	j := openTestJournal(t)

	if err := j.StartRun("run-1", "agent-1", "ws-1", "sprint-1"); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	entries := []Entry{
		{RunID: "run-1", TaskID: "task-1", Title: "First", Outcome: types.OutcomeCompletedWithPr, Branch: "locus/first", PrURL: "https://github.com/o/r/pull/1", DurationMs: 1200, RecordedAt: 100},
		{RunID: "run-1", TaskID: "task-2", Title: "Second", Outcome: types.OutcomeFailed, Error: "agent exited with code 1", DurationMs: 300, RecordedAt: 200},
	}
	for _, e := range entries {
		if err := j.Record(e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := j.ListByRun("run-1")
	if err != nil {
		t.Fatalf("ListByRun failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got))
	}
	if got[0].TaskID != "task-1" || got[1].TaskID != "task-2" {
		t.Errorf("Unexpected order: %s, %s", got[0].TaskID, got[1].TaskID)
	}
	if got[0].PrURL != "https://github.com/o/r/pull/1" {
		t.Errorf("Expected PR URL preserved, got %q", got[0].PrURL)
	}
	if got[1].Outcome != types.OutcomeFailed {
		t.Errorf("Expected failed outcome, got %s", got[1].Outcome)
	}

	if err := j.FinishRun("run-1"); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
}

func TestJournal_RecordReplacesSameTask(t *testing.T) {
	j := openTestJournal(t)

	if err := j.Record(Entry{RunID: "run-1", TaskID: "task-1", Title: "t", Outcome: types.OutcomeFailed, RecordedAt: 100}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := j.Record(Entry{RunID: "run-1", TaskID: "task-1", Title: "t", Outcome: types.OutcomeCompletedWithPr, RecordedAt: 200}); err != nil {
		t.Fatalf("Second Record failed: %v", err)
	}

	got, err := j.ListByRun("run-1")
	if err != nil {
		t.Fatalf("ListByRun failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 entry after replace, got %d", len(got))
	}
	if got[0].Outcome != types.OutcomeCompletedWithPr {
		t.Errorf("Expected later outcome to win, got %s", got[0].Outcome)
	}
}

func TestJournal_CountByOutcome(t *testing.T) {
	j := openTestJournal(t)

	for i, outcome := range []types.Outcome{
		types.OutcomeCompletedWithPr,
		types.OutcomeCompletedWithPr,
		types.OutcomeNoChanges,
		types.OutcomeFailed,
	} {
		if err := j.Record(Entry{RunID: "run-1", TaskID: "task-" + string(rune('a'+i)), Title: "t", Outcome: outcome}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	counts, err := j.CountByOutcome("run-1")
	if err != nil {
		t.Fatalf("CountByOutcome failed: %v", err)
	}
	if counts[types.OutcomeCompletedWithPr] != 2 {
		t.Errorf("Expected 2 completed-with-pr, got %d", counts[types.OutcomeCompletedWithPr])
	}
	if counts[types.OutcomeNoChanges] != 1 || counts[types.OutcomeFailed] != 1 {
		t.Errorf("Unexpected counts: %v", counts)
	}
}

func TestJournal_ReopenPreservesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := j.Record(Entry{RunID: "run-1", TaskID: "task-1", Title: "t", Outcome: types.OutcomeCompletedNoPr}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	j.Close()

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer j2.Close()

	got, err := j2.ListByRun("run-1")
	if err != nil {
		t.Fatalf("ListByRun failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expected entry to survive reopen, got %d entries", len(got))
	}
}
