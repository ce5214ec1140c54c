package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/veas-org/veas-agent/internal/ndjson"
	"github.com/veas-org/veas-agent/internal/protocol"
	"log/slog"
)

// EventLog writes session records to an NDJSON file
type EventLog struct {
	file    *os.File
	encoder *ndjson.Encoder
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewEventLog creates a new event log
func NewEventLog(logPath string, logger *slog.Logger) (*EventLog, error) {
	// Ensure directory exists
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Open file for appending (create if not exists)
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	encoder := ndjson.NewEncoder(file, logger)

	return &EventLog{
		file:    file,
		encoder: encoder,
		logger:  logger,
	}, nil
}

// WriteSessionStarted writes a session.started record to the log
func (l *EventLog) WriteSessionStarted(rec *protocol.SessionStarted) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.encoder.Encode(rec)
}

// WriteRuleFired writes a rule.fired record to the log
func (l *EventLog) WriteRuleFired(rec *protocol.RuleFired) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.encoder.Encode(rec)
}

// WriteHeartbeat writes a heartbeat to the log
func (l *EventLog) WriteHeartbeat(hb *protocol.Heartbeat) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.encoder.Encode(hb)
}

// WriteSessionCompleted writes a session.completed record to the log
func (l *EventLog) WriteSessionCompleted(rec *protocol.SessionCompleted) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.encoder.Encode(rec)
}

// Close closes the event log file
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
