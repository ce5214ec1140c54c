package runstate

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNewRunState(t *testing.T) {
	state := NewRunState("run-1", "events/run-1.ndjson")

	if state.Status != StatusRunning {
		t.Errorf("expected running status, got %s", state.Status)
	}
	if state.StartedAt.IsZero() {
		t.Error("expected a start time")
	}
	if state.CompletedAt != nil {
		t.Error("new run should have no completion time")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := GetRunStatePath(t.TempDir(), "run-1")

	state := NewRunState("run-1", "events/run-1.ndjson")
	state.RecordTask("deploy", TaskOutcome{
		SessionID:   "s-1",
		Status:      "success",
		Reason:      "exit",
		ExitCode:    0,
		RulesFired:  2,
		CompletedAt: time.Now().UTC(),
	})
	state.MarkCompleted()

	if err := SaveRunState(state, path); err != nil {
		t.Fatalf("failed to save run state: %v", err)
	}

	loaded, err := LoadRunState(path)
	if err != nil {
		t.Fatalf("failed to load run state: %v", err)
	}

	if loaded.RunID != "run-1" {
		t.Errorf("run ID mismatch: %s", loaded.RunID)
	}
	if loaded.Status != StatusCompleted {
		t.Errorf("expected completed status, got %s", loaded.Status)
	}
	if loaded.CompletedAt == nil {
		t.Error("expected a completion time")
	}

	outcome, ok := loaded.Tasks["deploy"]
	if !ok {
		t.Fatal("task outcome missing after reload")
	}
	if outcome.RulesFired != 2 {
		t.Errorf("expected 2 rules fired, got %d", outcome.RulesFired)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadRunState(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected an error for a missing state file")
	}
}

func TestMarkFailed(t *testing.T) {
	state := NewRunState("run-1", "")
	state.MarkFailed()

	if state.Status != StatusFailed {
		t.Errorf("expected failed status, got %s", state.Status)
	}
	if state.CompletedAt == nil {
		t.Error("expected a completion time")
	}
}

func TestMarkAborted(t *testing.T) {
	state := NewRunState("run-1", "")
	state.MarkAborted()

	if state.Status != StatusAborted {
		t.Errorf("expected aborted status, got %s", state.Status)
	}
}
