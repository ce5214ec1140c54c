// Package responder drives an interactive child program without a human
// present: it watches the merged output feed for rule triggers, schedules
// scripted keystrokes on per-rule timers, injects them into the child's
// stdin, and shepherds the session to a single completion result.
package responder

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/veas-org/veas-agent/internal/protocol"
	"github.com/veas-org/veas-agent/internal/report"
	"github.com/veas-org/veas-agent/internal/rules"
	"github.com/veas-org/veas-agent/internal/session"
	"github.com/veas-org/veas-agent/internal/supervisor"
)

// DefaultGracePeriod bounds how long a close_after interrupt waits for the
// child to exit on its own before escalating to a kill
const DefaultGracePeriod = 2 * time.Second

// Per-rule states. A rule advances Armed -> Scheduled -> Fired; the
// fallback rule can instead be parked in Discarded when other activity
// preempts it. Transitions are compare-and-swap so a timer firing
// concurrently with cancellation resolves deterministically.
const (
	stateArmed int32 = iota
	stateScheduled
	stateFired
	stateDiscarded
)

// trackedRule pairs an immutable compiled rule with its mutable firing state
type trackedRule struct {
	rule  *rules.Rule
	state atomic.Int32
	timer *time.Timer
}

func (t *trackedRule) claim(from, to int32) bool {
	return t.state.CompareAndSwap(from, to)
}

// Recorder receives session lifecycle notifications for persistence. The
// spawn notification carries the PID, which only exists once the child is up.
type Recorder interface {
	RecordSessionStarted(rec *protocol.SessionStarted)
	RecordRuleFired(rec *protocol.RuleFired)
}

// Controller runs one session: spawn, match, inject, terminate, report
type Controller struct {
	sess     *session.Session
	sup      *supervisor.Supervisor
	tracked  []*trackedRule
	fallback *trackedRule
	grace    time.Duration
	logger   *slog.Logger
	recorder Recorder

	mu  sync.Mutex
	buf bytes.Buffer

	fired      chan *trackedRule
	rulesFired int
	forced     bool
}

// New creates a controller for the session. A non-positive grace falls
// back to DefaultGracePeriod.
func New(sess *session.Session, sup *supervisor.Supervisor, grace time.Duration, logger *slog.Logger) *Controller {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	c := &Controller{
		sess:   sess,
		sup:    sup,
		grace:  grace,
		logger: logger,
		// Buffered to rule count: every rule fires at most once, so timer
		// callbacks never block even after Run has returned.
		fired: make(chan *trackedRule, len(sess.Rules)),
	}

	for _, rule := range sess.Rules {
		tr := &trackedRule{rule: rule}
		c.tracked = append(c.tracked, tr)
		if rule.Fallback() {
			c.fallback = tr
		}
	}

	return c
}

// SetRecorder attaches an optional sink for rule.fired records
func (c *Controller) SetRecorder(r Recorder) {
	c.recorder = r
}

// CapturedOutput returns a copy of the merged output text accumulated so
// far (scripted mode only; empty in passthrough mode)
func (c *Controller) CapturedOutput() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Run spawns the child and drives it until exit, supervision error, or
// external cancellation. Exactly one Result is returned per call.
func (c *Controller) Run(ctx context.Context) report.Result {
	start := time.Now()

	if err := c.sup.Start(); err != nil {
		c.sess.MarkFailed(err.Error())
		c.logger.Error("spawn failed", "session_id", c.sess.ID, "error", err)
		return report.Result{
			Status:   report.StatusFailure,
			Reason:   report.ReasonSpawnFailed,
			ExitCode: -1,
			Error:    err.Error(),
			Duration: time.Since(start),
		}
	}

	if c.recorder != nil {
		c.recorder.RecordSessionStarted(&protocol.SessionStarted{
			Kind:      protocol.RecordKindSessionStarted,
			RecordID:  uuid.New().String(),
			SessionID: c.sess.ID,
			TaskID:    c.sess.TaskID,
			Command:   c.sess.Command,
			Args:      c.sess.Args,
			Cwd:       c.sess.Cwd,
			Mode:      string(c.sess.Mode),
			RuleCount: len(c.sess.Rules),
			PID:       c.sup.PID(),
			StartedAt: c.sess.StartedAt().UTC(),
		})
	}

	// Immediate rules count their delay from session start; the fallback
	// rule is armed from start as a liveness nudge.
	for _, tr := range c.tracked {
		if tr.rule.Immediate || tr.rule.Fallback() {
			c.schedule(tr)
		}
	}

	output := c.sup.Output()
	var graceCh <-chan time.Time

	for {
		select {
		case chunk, ok := <-output:
			if !ok {
				output = nil
				continue
			}
			c.append(chunk.Data)
			c.matchArmed()

		case tr := <-c.fired:
			if ch := c.handleFire(tr); ch != nil && graceCh == nil {
				graceCh = ch
			}

		case <-graceCh:
			c.logger.Warn("grace period expired, killing process",
				"session_id", c.sess.ID,
				"grace", c.grace)
			c.forced = true
			if err := c.sup.Kill(); err != nil {
				c.logger.Warn("kill failed", "session_id", c.sess.ID, "error", err)
			}
			graceCh = nil

		case status := <-c.sup.Exited():
			// The exit status is published only after both readers hit EOF,
			// so any remaining chunks are already buffered: drain them so
			// the captured output is complete.
			if output != nil {
				for chunk := range output {
					c.append(chunk.Data)
				}
			}
			c.cancelTimers()
			return c.completion(start, status)

		case <-ctx.Done():
			c.logger.Warn("session cancelled, terminating process",
				"session_id", c.sess.ID,
				"cause", ctx.Err())
			c.cancelTimers()
			// Keep draining so the stream readers can reach EOF and the
			// reaper can publish the exit status.
			if output != nil {
				go func() {
					for chunk := range output {
						c.append(chunk.Data)
					}
				}()
			}
			c.terminate()
			c.sess.MarkFailed(ctx.Err().Error())
			return report.Result{
				Status:     report.StatusFailure,
				Reason:     report.ReasonCancelled,
				ExitCode:   -1,
				Error:      ctx.Err().Error(),
				Duration:   time.Since(start),
				RulesFired: c.rulesFired,
			}
		}
	}
}

func (c *Controller) append(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(data)
}

// matchArmed tests every armed trigger rule against the accumulated text
// and schedules the ones whose trigger just appeared
func (c *Controller) matchArmed() {
	c.mu.Lock()
	text := c.buf.String()
	c.mu.Unlock()

	for _, tr := range c.tracked {
		if !tr.rule.HasTrigger() || tr.state.Load() != stateArmed {
			continue
		}
		if tr.rule.Matches(text) {
			c.logger.Debug("trigger matched",
				"session_id", c.sess.ID,
				"rule", tr.rule.Index,
				"trigger", tr.rule.Trigger,
				"delay", tr.rule.Delay)
			c.schedule(tr)
		}
	}
}

func (c *Controller) schedule(tr *trackedRule) {
	if !tr.claim(stateArmed, stateScheduled) {
		return
	}
	tr.timer = time.AfterFunc(tr.rule.Delay, func() {
		c.fired <- tr
	})
}

// handleFire injects the rule's input and, for close_after rules, begins
// the two-step shutdown. Returns the grace channel when a shutdown began.
func (c *Controller) handleFire(tr *trackedRule) <-chan time.Time {
	if !tr.claim(stateScheduled, stateFired) {
		return nil
	}
	c.rulesFired++

	// Any firing satisfies the fallback's "nudge if nothing happened"
	// intent, so discard it if it is still pending.
	if c.fallback != nil && c.fallback != tr {
		if c.fallback.claim(stateScheduled, stateDiscarded) {
			if c.fallback.timer != nil {
				c.fallback.timer.Stop()
			}
			c.logger.Debug("fallback rule discarded",
				"session_id", c.sess.ID,
				"rule", c.fallback.rule.Index)
		}
	}

	if err := c.sup.WriteInput([]byte(tr.rule.Input)); err != nil {
		// The child may have exited between scheduling and firing; a broken
		// pipe here is dropped, not a session failure.
		c.logger.Warn("dropping scripted input",
			"session_id", c.sess.ID,
			"rule", tr.rule.Index,
			"error", err)
	} else {
		c.logger.Info("scripted input written",
			"session_id", c.sess.ID,
			"rule", tr.rule.Index,
			"bytes", len(tr.rule.Input))
	}

	if c.recorder != nil {
		c.recorder.RecordRuleFired(&protocol.RuleFired{
			Kind:       protocol.RecordKindRuleFired,
			RecordID:   uuid.New().String(),
			SessionID:  c.sess.ID,
			TaskID:     c.sess.TaskID,
			RuleIndex:  tr.rule.Index,
			Trigger:    tr.rule.Trigger,
			Immediate:  tr.rule.Immediate,
			Fallback:   tr.rule.Fallback(),
			CloseAfter: tr.rule.CloseAfter,
			InputBytes: len(tr.rule.Input),
			ElapsedMs:  time.Since(c.sess.StartedAt()).Milliseconds(),
			FiredAt:    time.Now().UTC(),
		})
	}

	if tr.rule.CloseAfter {
		// Interrupt first: the scripted goodbye may already be shutting the
		// program down, and the grace period lets it exit on its own.
		c.logger.Info("requesting termination after scripted input",
			"session_id", c.sess.ID,
			"rule", tr.rule.Index)
		if err := c.sup.Interrupt(); err != nil {
			c.logger.Warn("interrupt failed", "session_id", c.sess.ID, "error", err)
		}
		return time.After(c.grace)
	}

	return nil
}

func (c *Controller) cancelTimers() {
	for _, tr := range c.tracked {
		if tr.timer != nil {
			tr.timer.Stop()
		}
	}
}

// terminate force-kills the child and waits briefly for the reaper, the
// same shutdown path a close_after grace expiry takes
func (c *Controller) terminate() {
	c.forced = true
	if err := c.sup.Kill(); err != nil {
		c.logger.Warn("kill failed", "session_id", c.sess.ID, "error", err)
	}
	select {
	case <-c.sup.Exited():
	case <-time.After(c.grace):
		c.logger.Error("process did not exit after kill", "session_id", c.sess.ID)
	}
}

func (c *Controller) completion(start time.Time, status supervisor.ExitStatus) report.Result {
	result := report.Result{
		ExitCode:   status.Code,
		Signal:     status.Signal,
		Duration:   time.Since(start),
		RulesFired: c.rulesFired,
	}

	switch {
	case c.forced:
		result.Status = report.StatusFailure
		result.Reason = report.ReasonForcedTermination
		c.sess.MarkFailed("terminated after grace period")

	case status.Err != nil:
		result.Status = report.StatusFailure
		result.Reason = report.ReasonSupervisionError
		result.Error = status.Err.Error()

	case status.Code == 0:
		result.Status = report.StatusSuccess
		result.Reason = report.ReasonExit

	default:
		result.Status = report.StatusFailure
		result.Reason = report.ReasonExit
		if status.Signal != "" {
			result.Error = "terminated by signal " + status.Signal
		}
	}

	return result
}
