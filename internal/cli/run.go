package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/veas-org/veas-agent/internal/agent"
	"github.com/veas-org/veas-agent/internal/config"
	"github.com/veas-org/veas-agent/internal/eventlog"
	"github.com/veas-org/veas-agent/internal/report"
	"github.com/veas-org/veas-agent/internal/runstate"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured tasks",
	Long: `Run every task in the configuration file. Tasks with rules are driven
in scripted mode; interactive tasks without rules keep the real terminal.`,
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
}

// addRunFlags registers the run flags. The root command registers them too,
// so a bare 'veas-agent' invocation delegates to run with a working flag set.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("events", "", "Path for the NDJSON event log (default: events/<run-id>.ndjson)")
	cmd.Flags().String("state-dir", "state", "Directory for run state files")
	cmd.Flags().Bool("quiet", false, "Suppress the console transcript")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return err
	}

	logger.Info("loaded configuration", "path", configPath, "tasks", len(cfg.Tasks))

	if err := cfg.Validate(); err != nil {
		return err
	}

	// Passthrough tasks hand the child the real terminal; warn when there
	// is none, since the child will see EOF on stdin.
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		for _, task := range cfg.Tasks {
			if task.Interactive && len(task.Rules) == 0 {
				logger.Warn("interactive task without a terminal",
					"task_id", task.ID,
					"hint", "stdin is not a TTY; the child will not receive keyboard input")
			}
		}
	}

	runID := fmt.Sprintf("run-%s-%s", time.Now().UTC().Format("20060102-150405"), uuid.New().String()[:8])

	eventsPath, err := cmd.Flags().GetString("events")
	if err != nil {
		return err
	}
	if eventsPath == "" {
		eventsPath = filepath.Join("events", runID+".ndjson")
	}

	evtLog, err := eventlog.NewEventLog(eventsPath, logger)
	if err != nil {
		return fmt.Errorf("failed to create event log: %w", err)
	}
	defer evtLog.Close()

	stateDir, err := cmd.Flags().GetString("state-dir")
	if err != nil {
		return err
	}

	state := runstate.NewRunState(runID, eventsPath)
	statePath := runstate.GetRunStatePath(stateDir, runID)
	if err := runstate.SaveRunState(state, statePath); err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}

	logger.Info("run initialized", "run_id", runID, "events", eventsPath, "state", statePath)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reporter := report.NewOnce(report.NewLogReporter(logger), logger)

	var stateMu sync.Mutex
	recordOutcome := func(taskID, sessionID string, result report.Result) {
		stateMu.Lock()
		defer stateMu.Unlock()
		state.RecordTask(taskID, runstate.TaskOutcome{
			SessionID:   sessionID,
			Status:      string(result.Status),
			Reason:      string(result.Reason),
			ExitCode:    result.ExitCode,
			RulesFired:  result.RulesFired,
			CompletedAt: time.Now().UTC(),
		})
		if err := runstate.SaveRunState(state, statePath); err != nil {
			logger.Warn("run state write failed", "error", err)
		}
	}

	opts := []agent.Option{agent.WithEventLog(evtLog), agent.WithOutcomeHook(recordOutcome)}
	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return err
	}
	if !quiet {
		opts = append(opts, agent.WithConsole(cmd.OutOrStdout()))
	}

	ag := agent.New(cfg, reporter, logger, opts...)

	summary, err := ag.Run(ctx)

	stateMu.Lock()
	if err != nil {
		state.MarkFailed()
	} else {
		state.MarkCompleted()
	}
	if saveErr := runstate.SaveRunState(state, statePath); saveErr != nil {
		logger.Warn("run state write failed", "error", saveErr)
	}
	stateMu.Unlock()

	fmt.Fprintf(cmd.OutOrStdout(), "Run complete: %d succeeded, %d failed\n", summary.Succeeded, summary.Failed)
	return err
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, err := cmd.Flags().GetBool("verbose"); err == nil && verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
