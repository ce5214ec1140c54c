package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veas-org/veas-agent/internal/rules"
)

// Mode determines how the child's standard streams are attached
type Mode string

const (
	// ModePassthrough gives the child the controlling terminal directly
	ModePassthrough Mode = "passthrough"
	// ModeScripted routes stdin/stdout/stderr through pipes the controller owns
	ModeScripted Mode = "scripted"
)

// Status represents the session lifecycle state
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// SelectMode decides how much control the agent takes over the child's
// streams. A bare interactive program with no scripted responses keeps the
// real terminal so a human can still intervene; any configured rule forces
// scripted mode, since trigger matching and input injection need the pipes.
// The decision is made once per session and is immutable.
func SelectMode(interactive bool, ruleCount int) Mode {
	if ruleCount == 0 && interactive {
		return ModePassthrough
	}
	return ModeScripted
}

// Session is one supervised run of a spawned external program. Identity and
// spawn parameters are immutable; lifecycle fields are guarded by a mutex
// because the supervisor's reader goroutines and the responder both touch
// them.
type Session struct {
	ID      string
	TaskID  string
	Command string
	Args    []string
	Cwd     string
	Mode    Mode
	Rules   []*rules.Rule

	mu           sync.Mutex
	startedAt    time.Time
	lastOutputAt time.Time
	status       Status
	exitCode     int
	errorMessage string
}

// New creates a session with a generated ID and the spawn mode selected
// from the interactive flag and the compiled rule set
func New(taskID, command string, args []string, cwd string, interactive bool, ruleSet []*rules.Rule) *Session {
	return &Session{
		ID:      uuid.New().String(),
		TaskID:  taskID,
		Command: command,
		Args:    args,
		Cwd:     cwd,
		Mode:    SelectMode(interactive, len(ruleSet)),
		Rules:   ruleSet,
		status:  StatusPending,
	}
}

// Begin marks the session running and records the start time
func (s *Session) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusRunning
	s.startedAt = time.Now()
}

// StartedAt returns when the child was spawned (zero before Begin)
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// TouchOutput records that output was observed now
func (s *Session) TouchOutput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOutputAt = time.Now()
}

// LastOutputAt returns the time of the most recent output chunk
func (s *Session) LastOutputAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutputAt
}

// Status returns the current lifecycle state
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// MarkExited records the child's exit code and the matching terminal status
func (s *Session) MarkExited(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitCode = code
	if code == 0 {
		s.status = StatusCompleted
	} else {
		s.status = StatusFailed
	}
}

// MarkFailed records a terminal failure with an error message
func (s *Session) MarkFailed(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusFailed
	s.errorMessage = msg
	s.exitCode = -1
}

// ExitCode returns the recorded exit code (-1 for spawn/
// supervision errors)
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// ErrorMessage returns the recorded failure message, if any
func (s *Session) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorMessage
}
