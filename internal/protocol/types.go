package protocol

import (
	"time"
)

// RecordKind represents the envelope type of a session log record
type RecordKind string

const (
	RecordKindSessionStarted   RecordKind = "session.started"
	RecordKindRuleFired        RecordKind = "rule.fired"
	RecordKindHeartbeat        RecordKind = "heartbeat"
	RecordKindSessionCompleted RecordKind = "session.completed"
)

// SessionStarted is emitted once when a child process has been spawned
type SessionStarted struct {
	Kind      RecordKind `json:"kind"`
	RecordID  string     `json:"record_id"`
	SessionID string     `json:"session_id"`
	TaskID    string     `json:"task_id,omitempty"`
	Command   string     `json:"command"`
	Args      []string   `json:"args,omitempty"`
	Cwd       string     `json:"cwd,omitempty"`
	Mode      string     `json:"mode"`
	RuleCount int        `json:"rule_count"`
	PID       int        `json:"pid"`
	StartedAt time.Time  `json:"started_at"`
}

// RuleFired is emitted each time a scripted response is written to the child
type RuleFired struct {
	Kind       RecordKind `json:"kind"`
	RecordID   string     `json:"record_id"`
	SessionID  string     `json:"session_id"`
	TaskID     string     `json:"task_id,omitempty"`
	RuleIndex  int        `json:"rule_index"`
	Trigger    string     `json:"trigger,omitempty"`
	Immediate  bool       `json:"immediate,omitempty"`
	Fallback   bool       `json:"fallback,omitempty"`
	CloseAfter bool       `json:"close_after,omitempty"`
	InputBytes int        `json:"input_bytes"`
	ElapsedMs  int64      `json:"elapsed_ms"`
	FiredAt    time.Time  `json:"fired_at"`
}

// HeartbeatStatus represents session health status
type HeartbeatStatus string

const (
	HeartbeatStatusRunning  HeartbeatStatus = "running"
	HeartbeatStatusStopping HeartbeatStatus = "stopping"
)

// Heartbeat is emitted periodically while a session is running
type Heartbeat struct {
	Kind         RecordKind      `json:"kind"`
	SessionID    string          `json:"session_id"`
	TaskID       string          `json:"task_id,omitempty"`
	Seq          int64           `json:"seq"`
	Status       HeartbeatStatus `json:"status"`
	PID          int             `json:"pid"`
	UptimeS      float64         `json:"uptime_s"`
	LastOutputAt time.Time       `json:"last_output_at,omitempty"`
	EmittedAt    time.Time       `json:"emitted_at"`
}

// SessionCompleted is emitted exactly once when a session reaches a terminal state
type SessionCompleted struct {
	Kind        RecordKind `json:"kind"`
	RecordID    string     `json:"record_id"`
	SessionID   string     `json:"session_id"`
	TaskID      string     `json:"task_id,omitempty"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason"`
	ExitCode    int        `json:"exit_code"`
	Signal      string     `json:"signal,omitempty"`
	Error       string     `json:"error,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	RulesFired  int        `json:"rules_fired"`
	CompletedAt time.Time  `json:"completed_at"`
}
