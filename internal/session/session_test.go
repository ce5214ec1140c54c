package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veas-org/veas-agent/internal/rules"
)

func TestSelectMode(t *testing.T) {
	tests := []struct {
		name        string
		interactive bool
		ruleCount   int
		want        Mode
	}{
		{"interactive without rules keeps the terminal", true, 0, ModePassthrough},
		{"interactive with rules needs the pipes", true, 2, ModeScripted},
		{"batch without rules", false, 0, ModeScripted},
		{"batch with rules", false, 1, ModeScripted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectMode(tt.interactive, tt.ruleCount))
		})
	}
}

func TestNewSession(t *testing.T) {
	compiled, err := rules.Compile([]rules.Spec{{Trigger: "ok?"}})
	require.NoError(t, err)

	sess := New("deploy", "make", []string{"install"}, "/tmp", true, compiled)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "deploy", sess.TaskID)
	assert.Equal(t, ModeScripted, sess.Mode)
	assert.Equal(t, StatusPending, sess.Status())
	assert.True(t, sess.StartedAt().IsZero())
}

func TestSessionIDsAreUnique(t *testing.T) {
	a := New("t", "true", nil, "", false, nil)
	b := New("t", "true", nil, "", false, nil)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestLifecycleMarks(t *testing.T) {
	sess := New("t", "true", nil, "", false, nil)

	sess.Begin()
	assert.Equal(t, StatusRunning, sess.Status())
	assert.False(t, sess.StartedAt().IsZero())

	sess.TouchOutput()
	assert.False(t, sess.LastOutputAt().IsZero())

	sess.MarkExited(0)
	assert.Equal(t, StatusCompleted, sess.Status())
	assert.Equal(t, 0, sess.ExitCode())
}

func TestMarkExitedNonZero(t *testing.T) {
	sess := New("t", "false", nil, "", false, nil)
	sess.Begin()
	sess.MarkExited(3)

	assert.Equal(t, StatusFailed, sess.Status())
	assert.Equal(t, 3, sess.ExitCode())
}

func TestMarkFailed(t *testing.T) {
	sess := New("t", "missing", nil, "", false, nil)
	sess.MarkFailed("executable not found")

	assert.Equal(t, StatusFailed, sess.Status())
	assert.Equal(t, -1, sess.ExitCode())
	assert.Equal(t, "executable not found", sess.ErrorMessage())
}
