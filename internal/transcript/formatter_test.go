package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veas-org/veas-agent/internal/protocol"
)

func TestFormatSessionStarted(t *testing.T) {
	f := NewFormatter()
	line := f.FormatSessionStarted(&protocol.SessionStarted{
		TaskID:    "deploy",
		Command:   "make",
		PID:       4242,
		Mode:      "scripted",
		RuleCount: 3,
	})

	assert.Contains(t, line, "[deploy]")
	assert.Contains(t, line, "make")
	assert.Contains(t, line, "pid=4242")
	assert.Contains(t, line, "rules=3")
}

func TestFormatRuleFiredTrigger(t *testing.T) {
	f := NewFormatter()
	line := f.FormatRuleFired(&protocol.RuleFired{
		TaskID:     "deploy",
		RuleIndex:  1,
		Trigger:    "Continue?",
		InputBytes: 2,
		ElapsedMs:  150,
	})

	assert.Contains(t, line, "rule 1 fired")
	assert.Contains(t, line, `trigger="Continue?"`)
	assert.Contains(t, line, "2 bytes")
	assert.Contains(t, line, "+150ms")
}

func TestFormatRuleFiredVariants(t *testing.T) {
	f := NewFormatter()

	immediate := f.FormatRuleFired(&protocol.RuleFired{TaskID: "t", Immediate: true})
	assert.Contains(t, immediate, "immediate")

	fallback := f.FormatRuleFired(&protocol.RuleFired{TaskID: "t", Fallback: true})
	assert.Contains(t, fallback, "fallback")

	closing := f.FormatRuleFired(&protocol.RuleFired{TaskID: "t", Trigger: "bye", CloseAfter: true})
	assert.Contains(t, closing, "close")
}

func TestFormatHeartbeat(t *testing.T) {
	f := NewFormatter()
	line := f.FormatHeartbeat(&protocol.Heartbeat{
		TaskID:  "deploy",
		Seq:     4,
		Status:  protocol.HeartbeatStatusRunning,
		UptimeS: 12.34,
	})

	assert.Contains(t, line, "heartbeat seq=4")
	assert.Contains(t, line, "status=running")
	assert.Contains(t, line, "uptime=12.3s")
}

func TestFormatSessionCompleted(t *testing.T) {
	f := NewFormatter()
	line := f.FormatSessionCompleted(&protocol.SessionCompleted{
		TaskID:     "deploy",
		Status:     "failure",
		Reason:     "forced_termination",
		ExitCode:   -1,
		Signal:     "killed",
		RulesFired: 2,
		DurationMs: 2500,
	})

	assert.Contains(t, line, "status=failure")
	assert.Contains(t, line, "reason=forced_termination")
	assert.Contains(t, line, "signal=killed")
	assert.Contains(t, line, "rules_fired=2")
	assert.Contains(t, line, "(2.5s)")
}

func TestLabelFallsBackToSessionID(t *testing.T) {
	f := NewFormatter()
	line := f.FormatHeartbeat(&protocol.Heartbeat{
		SessionID: "0123456789abcdef",
	})
	assert.Contains(t, line, "[01234567]")
}
