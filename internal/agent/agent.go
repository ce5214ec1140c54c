// Package agent runs the configured task list: each task becomes one
// supervised session driven by a responder, with heartbeats and lifecycle
// records flowing to the event log and console.
package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/veas-org/veas-agent/internal/config"
	"github.com/veas-org/veas-agent/internal/eventlog"
	"github.com/veas-org/veas-agent/internal/protocol"
	"github.com/veas-org/veas-agent/internal/report"
	"github.com/veas-org/veas-agent/internal/responder"
	"github.com/veas-org/veas-agent/internal/rules"
	"github.com/veas-org/veas-agent/internal/session"
	"github.com/veas-org/veas-agent/internal/supervisor"
	"github.com/veas-org/veas-agent/internal/transcript"
)

// Summary counts terminal task outcomes for one agent run
type Summary struct {
	Succeeded int
	Failed    int
}

// Agent executes the configured tasks and fans their lifecycle records out
// to the event log, the console transcript, and the completion reporter
type Agent struct {
	cfg       *config.Config
	logger    *slog.Logger
	reporter  report.Reporter
	events    *eventlog.EventLog
	formatter *transcript.Formatter
	console   io.Writer

	outcomeHook func(taskID, sessionID string, result report.Result)
}

// Option configures optional agent collaborators
type Option func(*Agent)

// WithEventLog attaches an NDJSON event log
func WithEventLog(events *eventlog.EventLog) Option {
	return func(a *Agent) { a.events = events }
}

// WithConsole attaches a console transcript writer
func WithConsole(w io.Writer) Option {
	return func(a *Agent) { a.console = w }
}

// WithOutcomeHook registers a callback invoked with each task's terminal
// result, after it has been recorded and reported
func WithOutcomeHook(hook func(taskID, sessionID string, result report.Result)) Option {
	return func(a *Agent) { a.outcomeHook = hook }
}

// New creates an agent for the validated configuration
func New(cfg *config.Config, reporter report.Reporter, logger *slog.Logger, opts ...Option) *Agent {
	a := &Agent{
		cfg:       cfg,
		logger:    logger,
		reporter:  reporter,
		formatter: transcript.NewFormatter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes every configured task, at most policy.concurrency at a time.
// It returns a summary of outcomes, and an error when any task failed.
func (a *Agent) Run(ctx context.Context) (Summary, error) {
	var (
		mu      sync.Mutex
		summary Summary
	)

	var group errgroup.Group
	group.SetLimit(a.cfg.Policy.Concurrency)

	for i := range a.cfg.Tasks {
		task := a.cfg.Tasks[i]
		group.Go(func() error {
			result := a.runTask(ctx, task)

			mu.Lock()
			if result.Status == report.StatusSuccess {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
			mu.Unlock()
			return nil
		})
	}

	// Task failures are captured in the summary; the group never carries one
	_ = group.Wait()

	if summary.Failed > 0 {
		return summary, fmt.Errorf("%d of %d tasks failed", summary.Failed, len(a.cfg.Tasks))
	}
	return summary, nil
}

func (a *Agent) runTask(ctx context.Context, task config.Task) report.Result {
	logger := a.logger.With("task_id", task.ID)

	compiled, err := rules.Compile(task.Rules)
	if err != nil {
		// Validated at load time, so only a programming error lands here
		logger.Error("rule compilation failed", "error", err)
		return report.Result{
			Status: report.StatusFailure,
			Reason: report.ReasonSpawnFailed,
			Error:  err.Error(),
		}
	}

	sess := session.New(task.ID, task.Command, task.Args, task.Cwd, task.Interactive, compiled)
	sup := supervisor.New(sess, logger)
	ctrl := responder.New(sess, sup, time.Duration(a.cfg.Policy.GraceMs)*time.Millisecond, logger)
	ctrl.SetRecorder(&taskRecorder{agent: a, logger: logger})

	if a.cfg.Policy.TaskTimeoutS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(a.cfg.Policy.TaskTimeoutS)*time.Second)
		defer cancel()
	}

	stopHeartbeats := a.startHeartbeats(sess, sup, logger)
	result := ctrl.Run(ctx)
	stopHeartbeats()

	a.recordCompletion(sess, result, logger)

	if err := a.reporter.ReportCompletion(ctx, sess.ID, result); err != nil {
		logger.Error("completion report failed", "session_id", sess.ID, "error", err)
	}

	if a.outcomeHook != nil {
		a.outcomeHook(task.ID, sess.ID, result)
	}

	return result
}

// startHeartbeats emits periodic heartbeat records while the session runs.
// The returned func stops the ticker and must be called exactly once.
func (a *Agent) startHeartbeats(sess *session.Session, sup *supervisor.Supervisor, logger *slog.Logger) func() {
	interval := time.Duration(a.cfg.Policy.HeartbeatIntervalS) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var seq int64
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if sess.Status() != session.StatusRunning {
					continue
				}
				seq++
				hb := &protocol.Heartbeat{
					Kind:         protocol.RecordKindHeartbeat,
					SessionID:    sess.ID,
					TaskID:       sess.TaskID,
					Seq:          seq,
					Status:       protocol.HeartbeatStatusRunning,
					PID:          sup.PID(),
					UptimeS:      time.Since(sess.StartedAt()).Seconds(),
					LastOutputAt: sess.LastOutputAt().UTC(),
					EmittedAt:    time.Now().UTC(),
				}
				if a.events != nil {
					if err := a.events.WriteHeartbeat(hb); err != nil {
						logger.Warn("heartbeat write failed", "error", err)
					}
				}
				if a.console != nil {
					fmt.Fprintln(a.console, a.formatter.FormatHeartbeat(hb))
				}
			}
		}
	}()

	return func() { close(done) }
}

func (a *Agent) recordCompletion(sess *session.Session, result report.Result, logger *slog.Logger) {
	rec := &protocol.SessionCompleted{
		Kind:        protocol.RecordKindSessionCompleted,
		RecordID:    uuid.New().String(),
		SessionID:   sess.ID,
		TaskID:      sess.TaskID,
		Status:      string(result.Status),
		Reason:      string(result.Reason),
		ExitCode:    result.ExitCode,
		Signal:      result.Signal,
		Error:       result.Error,
		DurationMs:  result.Duration.Milliseconds(),
		RulesFired:  result.RulesFired,
		CompletedAt: time.Now().UTC(),
	}
	if a.events != nil {
		if err := a.events.WriteSessionCompleted(rec); err != nil {
			logger.Warn("completion record write failed", "error", err)
		}
	}
	if a.console != nil {
		fmt.Fprintln(a.console, a.formatter.FormatSessionCompleted(rec))
	}
}

// taskRecorder adapts the agent's sinks to the responder's Recorder interface
type taskRecorder struct {
	agent  *Agent
	logger *slog.Logger
}

func (r *taskRecorder) RecordSessionStarted(rec *protocol.SessionStarted) {
	if r.agent.events != nil {
		if err := r.agent.events.WriteSessionStarted(rec); err != nil {
			r.logger.Warn("start record write failed", "error", err)
		}
	}
	if r.agent.console != nil {
		fmt.Fprintln(r.agent.console, r.agent.formatter.FormatSessionStarted(rec))
	}
}

func (r *taskRecorder) RecordRuleFired(rec *protocol.RuleFired) {
	if r.agent.events != nil {
		if err := r.agent.events.WriteRuleFired(rec); err != nil {
			r.logger.Warn("rule record write failed", "error", err)
		}
	}
	if r.agent.console != nil {
		fmt.Fprintln(r.agent.console, r.agent.formatter.FormatRuleFired(rec))
	}
}
