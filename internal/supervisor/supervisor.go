package supervisor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/veas-org/veas-agent/internal/session"
)

// readBufferSize is the per-read chunk size for the child's output streams
const readBufferSize = 4096

// SpawnError wraps a failure to create the child process (executable
// missing, permission denied). Fatal for the session, no retry.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn process: %v", e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// OutputChunk is one read from the child's stdout or stderr. Chunks from a
// single stream arrive in order; ordering between the two streams is not
// guaranteed.
type OutputChunk struct {
	Stream string // "stdout" or "stderr"
	Data   []byte
}

// ExitStatus describes how the child ended. Err is set only for
// supervision failures that are not a normal exit.
type ExitStatus struct {
	Code   int
	Signal string
	Err    error
}

// Supervisor owns the child process handle and its standard streams for one
// session. No other component writes to the child's stdin except through
// WriteInput.
type Supervisor struct {
	sess   *session.Session
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	running bool

	output chan OutputChunk
	exited chan ExitStatus
}

// New creates a supervisor for the session
func New(sess *session.Session, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		sess:   sess,
		logger: logger,
		output: make(chan OutputChunk, 100),
		exited: make(chan ExitStatus, 1),
	}
}

// Start launches the child process in the session's spawn mode. In
// passthrough mode the child inherits the agent's terminal and the output
// channel is closed immediately; in scripted mode all three standard
// streams are pipes owned by this supervisor.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("process already running")
	}
	s.mu.Unlock()

	s.logger.Info("spawning process",
		"session_id", s.sess.ID,
		"command", s.sess.Command,
		"mode", s.sess.Mode)

	proc := exec.Command(s.sess.Command, s.sess.Args...)
	proc.Dir = s.sess.Cwd
	proc.Env = os.Environ()

	if s.sess.Mode == session.ModePassthrough {
		proc.Stdin = os.Stdin
		proc.Stdout = os.Stdout
		proc.Stderr = os.Stderr

		if err := proc.Start(); err != nil {
			return &SpawnError{Err: err}
		}

		s.mu.Lock()
		s.cmd = proc
		s.running = true
		s.mu.Unlock()

		s.sess.Begin()
		close(s.output)
		go s.waitForExit(nil)

		s.logger.Info("process started", "session_id", s.sess.ID, "pid", proc.Process.Pid)
		return nil
	}

	stdin, err := proc.StdinPipe()
	if err != nil {
		return &SpawnError{Err: fmt.Errorf("create stdin pipe: %w", err)}
	}

	stdout, err := proc.StdoutPipe()
	if err != nil {
		stdin.Close()
		return &SpawnError{Err: fmt.Errorf("create stdout pipe: %w", err)}
	}

	stderr, err := proc.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return &SpawnError{Err: fmt.Errorf("create stderr pipe: %w", err)}
	}

	if err := proc.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return &SpawnError{Err: err}
	}

	s.mu.Lock()
	s.cmd = proc
	s.stdin = stdin
	s.running = true
	s.mu.Unlock()

	s.sess.Begin()

	var readers errgroup.Group
	readers.Go(func() error { return s.readStream(stdout, "stdout") })
	readers.Go(func() error { return s.readStream(stderr, "stderr") })
	go s.waitForExit(&readers)

	s.logger.Info("process started", "session_id", s.sess.ID, "pid", proc.Process.Pid)
	return nil
}

// Output returns the channel of raw output chunks. Closed once both
// streams reach EOF (immediately in passthrough mode).
func (s *Supervisor) Output() <-chan OutputChunk {
	return s.output
}

// Exited returns the channel that delivers the single exit status
func (s *Supervisor) Exited() <-chan ExitStatus {
	return s.exited
}

// Running returns true while the child process is alive
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// PID returns the child's process ID, or 0 before Start
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// WriteInput writes scripted response bytes to the child's stdin. Returns
// an error if stdin is unavailable or the pipe is broken; the caller
// decides whether that is fatal.
func (s *Supervisor) WriteInput(data []byte) error {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()

	if stdin == nil {
		return fmt.Errorf("stdin not available in %s mode", s.sess.Mode)
	}

	if _, err := stdin.Write(data); err != nil {
		return fmt.Errorf("write to child stdin: %w", err)
	}
	return nil
}

// Interrupt asks the child to terminate (SIGINT)
func (s *Supervisor) Interrupt() error {
	s.mu.Lock()
	proc := s.cmd
	s.mu.Unlock()

	if proc == nil || proc.Process == nil {
		return fmt.Errorf("process not started")
	}
	return proc.Process.Signal(os.Interrupt)
}

// Kill forcefully terminates the child (SIGKILL)
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	proc := s.cmd
	s.mu.Unlock()

	if proc == nil || proc.Process == nil {
		return fmt.Errorf("process not started")
	}
	return proc.Process.Kill()
}

func (s *Supervisor) readStream(r io.Reader, stream string) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.sess.TouchOutput()
			s.output <- OutputChunk{Stream: stream, Data: data}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read %s: %w", stream, err)
		}
	}
}

// waitForExit reaps the child and publishes the exit status. In scripted
// mode the readers must drain before Wait so the pipes are not closed
// under them.
func (s *Supervisor) waitForExit(readers *errgroup.Group) {
	if readers != nil {
		if err := readers.Wait(); err != nil {
			s.logger.Debug("stream reader ended", "session_id", s.sess.ID, "error", err)
		}
		close(s.output)
	}

	err := s.cmd.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	status := ExitStatus{}
	switch {
	case err == nil:
		status.Code = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status.Code = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				status.Signal = ws.Signal().String()
			}
		} else {
			status.Code = -1
			status.Err = err
		}
	}

	if status.Err != nil {
		s.sess.MarkFailed(status.Err.Error())
	} else {
		s.sess.MarkExited(status.Code)
	}

	s.logger.Info("process exited",
		"session_id", s.sess.ID,
		"exit_code", status.Code,
		"signal", status.Signal)

	s.exited <- status
}
