package transcript

import (
	"fmt"

	"github.com/veas-org/veas-agent/internal/protocol"
)

// Formatter formats session records for console output
type Formatter struct{}

// NewFormatter creates a new transcript formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatSessionStarted formats a session.started record for console display
func (f *Formatter) FormatSessionStarted(rec *protocol.SessionStarted) string {
	return fmt.Sprintf("[%s] started: %s (pid=%d, mode=%s, rules=%d)",
		f.label(rec.TaskID, rec.SessionID), rec.Command, rec.PID, rec.Mode, rec.RuleCount)
}

// FormatRuleFired formats a rule.fired record for console display
func (f *Formatter) FormatRuleFired(rec *protocol.RuleFired) string {
	var detail string
	switch {
	case rec.Trigger != "":
		detail = fmt.Sprintf("trigger=%q", rec.Trigger)
	case rec.Immediate:
		detail = "immediate"
	default:
		detail = "fallback"
	}
	if rec.CloseAfter {
		detail += ", close"
	}
	return fmt.Sprintf("[%s] rule %d fired (%s): wrote %d bytes at +%dms",
		f.label(rec.TaskID, rec.SessionID), rec.RuleIndex, detail, rec.InputBytes, rec.ElapsedMs)
}

// FormatHeartbeat formats a heartbeat for console display
func (f *Formatter) FormatHeartbeat(hb *protocol.Heartbeat) string {
	return fmt.Sprintf("[%s] heartbeat seq=%d status=%s uptime=%.1fs",
		f.label(hb.TaskID, hb.SessionID), hb.Seq, hb.Status, hb.UptimeS)
}

// FormatSessionCompleted formats a session.completed record for console display
func (f *Formatter) FormatSessionCompleted(rec *protocol.SessionCompleted) string {
	details := fmt.Sprintf("status=%s reason=%s exit=%d", rec.Status, rec.Reason, rec.ExitCode)
	if rec.Signal != "" {
		details += fmt.Sprintf(" signal=%s", rec.Signal)
	}
	if rec.RulesFired > 0 {
		details += fmt.Sprintf(" rules_fired=%d", rec.RulesFired)
	}
	if rec.Error != "" {
		details += fmt.Sprintf(" error=%q", rec.Error)
	}
	return fmt.Sprintf("[%s] completed: %s (%.1fs)",
		f.label(rec.TaskID, rec.SessionID), details, float64(rec.DurationMs)/1000.0)
}

// label prefers the human-chosen task ID over the generated session ID
func (f *Formatter) label(taskID, sessionID string) string {
	if taskID != "" {
		return taskID
	}
	if len(sessionID) >= 8 {
		return sessionID[:8]
	}
	return sessionID
}
