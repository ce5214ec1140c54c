package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/veas-org/veas-agent/internal/fsutil"
)

// Status represents the overall state of a run
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// TaskOutcome is the recorded terminal result of one task's session
type TaskOutcome struct {
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason"`
	ExitCode    int       `json:"exit_code"`
	RulesFired  int       `json:"rules_fired"`
	CompletedAt time.Time `json:"completed_at"`
}

// RunState is the persisted state of one agent run
type RunState struct {
	RunID        string                 `json:"run_id"`
	Status       Status                 `json:"status"`
	EventLogPath string                 `json:"event_log_path,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	Tasks        map[string]TaskOutcome `json:"tasks"`
}

// NewRunState creates a new run state
func NewRunState(runID, eventLogPath string) *RunState {
	return &RunState{
		RunID:        runID,
		Status:       StatusRunning,
		EventLogPath: eventLogPath,
		StartedAt:    time.Now().UTC(),
		Tasks:        make(map[string]TaskOutcome),
	}
}

// SaveRunState writes run state to disk atomically
func SaveRunState(state *RunState, path string) error {
	return fsutil.AtomicWriteJSON(path, state)
}

// LoadRunState reads run state from disk
func LoadRunState(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}

	// Initialize map if nil
	if state.Tasks == nil {
		state.Tasks = make(map[string]TaskOutcome)
	}

	return &state, nil
}

// GetRunStatePath returns the standard path for a run's state file
func GetRunStatePath(stateDir, runID string) string {
	return filepath.Join(stateDir, runID+".json")
}

// RecordTask records a task's terminal outcome
func (s *RunState) RecordTask(taskID string, outcome TaskOutcome) {
	if s.Tasks == nil {
		s.Tasks = make(map[string]TaskOutcome)
	}
	s.Tasks[taskID] = outcome
}

// MarkCompleted marks the run as completed
func (s *RunState) MarkCompleted() {
	s.Status = StatusCompleted
	now := time.Now().UTC()
	s.CompletedAt = &now
}

// MarkFailed marks the run as failed
func (s *RunState) MarkFailed() {
	s.Status = StatusFailed
	now := time.Now().UTC()
	s.CompletedAt = &now
}

// MarkAborted marks the run as aborted
func (s *RunState) MarkAborted() {
	s.Status = StatusAborted
	now := time.Now().UTC()
	s.CompletedAt = &now
}
