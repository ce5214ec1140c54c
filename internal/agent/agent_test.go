package agent

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veas-org/veas-agent/internal/config"
	"github.com/veas-org/veas-agent/internal/eventlog"
	"github.com/veas-org/veas-agent/internal/ndjson"
	"github.com/veas-org/veas-agent/internal/protocol"
	"github.com/veas-org/veas-agent/internal/report"
	"github.com/veas-org/veas-agent/internal/rules"
)

type capturingReporter struct {
	mu      sync.Mutex
	results []report.Result
}

func (r *capturingReporter) ReportCompletion(_ context.Context, _ string, result report.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return nil
}

func testConfig(tasks ...config.Task) *config.Config {
	cfg := &config.Config{
		Version: "1.0",
		Policy: config.Policy{
			Concurrency:        2,
			GraceMs:            500,
			HeartbeatIntervalS: 60,
		},
		Tasks: tasks,
	}
	return cfg
}

func TestAgentRunsAllTasks(t *testing.T) {
	cfg := testConfig(
		config.Task{ID: "ok", Command: "/bin/sh", Args: []string{"-c", "echo fine"}},
		config.Task{ID: "also-ok", Command: "/bin/true"},
	)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reporter := &capturingReporter{}
	ag := New(cfg, reporter, logger)

	summary, err := ag.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Len(t, reporter.results, 2)
}

func TestAgentReportsMixedOutcomes(t *testing.T) {
	cfg := testConfig(
		config.Task{ID: "ok", Command: "/bin/true"},
		config.Task{ID: "broken", Command: "/bin/sh", Args: []string{"-c", "exit 1"}},
	)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reporter := &capturingReporter{}
	ag := New(cfg, reporter, logger)

	summary, err := ag.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 tasks failed")

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
}

func TestAgentScriptedTaskWritesRecords(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "run.ndjson")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	evtLog, err := eventlog.NewEventLog(logPath, logger)
	require.NoError(t, err)
	defer evtLog.Close()

	cfg := testConfig(config.Task{
		ID:      "answer",
		Command: "/bin/sh",
		Args:    []string{"-c", `printf 'Continue? '; read ans; echo "got:$ans"; exit 0`},
		Rules: []rules.Spec{
			{Trigger: "Continue?", Input: "y\n", DelayMs: 10},
		},
	})

	var console bytes.Buffer
	reporter := &capturingReporter{}
	ag := New(cfg, reporter, logger, WithEventLog(evtLog), WithConsole(&console))

	summary, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	require.Len(t, reporter.results, 1)
	assert.Equal(t, report.StatusSuccess, reporter.results[0].Status)
	assert.Equal(t, 1, reporter.results[0].RulesFired)

	// Console transcript shows the lifecycle
	out := console.String()
	assert.Contains(t, out, "[answer] started:")
	assert.Contains(t, out, "rule 0 fired")
	assert.Contains(t, out, "completed: status=success")

	// Event log carries started, rule.fired, and completed records
	file, err := os.Open(logPath)
	require.NoError(t, err)
	defer file.Close()

	dec := ndjson.NewDecoder(file, logger)
	var kinds []protocol.RecordKind
	for {
		rec, err := dec.DecodeEnvelope()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		switch r := rec.(type) {
		case *protocol.SessionStarted:
			kinds = append(kinds, r.Kind)
		case *protocol.RuleFired:
			kinds = append(kinds, r.Kind)
		case *protocol.SessionCompleted:
			kinds = append(kinds, r.Kind)
		case *protocol.Heartbeat:
			kinds = append(kinds, r.Kind)
		}
	}
	assert.Contains(t, kinds, protocol.RecordKindSessionStarted)
	assert.Contains(t, kinds, protocol.RecordKindRuleFired)
	assert.Contains(t, kinds, protocol.RecordKindSessionCompleted)
}

func TestAgentSpawnFailureReported(t *testing.T) {
	cfg := testConfig(config.Task{ID: "missing", Command: "/nonexistent/program"})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reporter := &capturingReporter{}
	ag := New(cfg, reporter, logger)

	summary, err := ag.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, summary.Failed)

	require.Len(t, reporter.results, 1)
	assert.Equal(t, report.ReasonSpawnFailed, reporter.results[0].Reason)
}

func TestAgentTaskTimeout(t *testing.T) {
	cfg := testConfig(config.Task{ID: "slow", Command: "/bin/sleep", Args: []string{"30"}})
	cfg.Policy.TaskTimeoutS = 1

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reporter := &capturingReporter{}
	ag := New(cfg, reporter, logger)

	summary, err := ag.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, summary.Failed)

	require.Len(t, reporter.results, 1)
	assert.Equal(t, report.ReasonCancelled, reporter.results[0].Reason)
}
