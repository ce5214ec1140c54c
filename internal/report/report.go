package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status is the final verdict of a session
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Reason distinguishes how a session reached its terminal state, so
// callers can tell "we had to kill it" from "it failed on its own"
type Reason string

const (
	// ReasonExit means the child exited on its own; the exit code decides the status
	ReasonExit Reason = "exit"
	// ReasonSpawnFailed means the process could not be created
	ReasonSpawnFailed Reason = "spawn_failed"
	// ReasonForcedTermination means the grace period expired and the child was killed
	ReasonForcedTermination Reason = "forced_termination"
	// ReasonCancelled means the caller cancelled the session externally
	ReasonCancelled Reason = "cancelled"
	// ReasonSupervisionError means waiting on the child failed for an OS-level reason
	ReasonSupervisionError Reason = "supervision_error"
)

// Result is the single structured outcome of a session. Exit code stays
// authoritative for Status; RulesFired carries the automation signal
// separately so callers can tell a scripted run that worked from a child
// that succeeded.
type Result struct {
	Status     Status        `json:"status"`
	Reason     Reason        `json:"reason"`
	ExitCode   int           `json:"exit_code"`
	Signal     string        `json:"signal,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	RulesFired int           `json:"rules_fired"`
}

// Reporter receives exactly one completion per session
type Reporter interface {
	ReportCompletion(ctx context.Context, sessionID string, result Result) error
}

// LogReporter reports completions to the structured log. It stands in for
// the remote status collaborator when the agent runs standalone.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a reporter backed by the given logger
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// ReportCompletion logs the result
func (r *LogReporter) ReportCompletion(_ context.Context, sessionID string, result Result) error {
	r.logger.Info("session completed",
		"session_id", sessionID,
		"status", result.Status,
		"reason", result.Reason,
		"exit_code", result.ExitCode,
		"signal", result.Signal,
		"duration", result.Duration,
		"rules_fired", result.RulesFired,
		"error", result.Error)
	return nil
}

// Once wraps a Reporter and enforces the exactly-once contract: a second
// completion for the same session is dropped and reported as a defect.
type Once struct {
	reporter Reporter
	logger   *slog.Logger

	mu        sync.Mutex
	delivered map[string]bool
}

// NewOnce creates the exactly-once guard around reporter
func NewOnce(reporter Reporter, logger *slog.Logger) *Once {
	return &Once{
		reporter:  reporter,
		logger:    logger,
		delivered: make(map[string]bool),
	}
}

// ReportCompletion delivers the first completion for a session and rejects
// any later one
func (o *Once) ReportCompletion(ctx context.Context, sessionID string, result Result) error {
	o.mu.Lock()
	if o.delivered[sessionID] {
		o.mu.Unlock()
		o.logger.Error("duplicate completion dropped", "session_id", sessionID)
		return fmt.Errorf("completion already reported for session %s", sessionID)
	}
	o.delivered[sessionID] = true
	o.mu.Unlock()

	return o.reporter.ReportCompletion(ctx, sessionID, result)
}
