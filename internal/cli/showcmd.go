package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/veas-org/veas-agent/internal/ndjson"
	"github.com/veas-org/veas-agent/internal/protocol"
	"github.com/veas-org/veas-agent/internal/transcript"
)

var showCmd = &cobra.Command{
	Use:   "show <event-log>",
	Short: "Render a recorded event log as a console transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	dec := ndjson.NewDecoder(file, logger)
	formatter := transcript.NewFormatter()
	out := cmd.OutOrStdout()

	for {
		rec, err := dec.DecodeEnvelope()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch r := rec.(type) {
		case *protocol.SessionStarted:
			fmt.Fprintln(out, formatter.FormatSessionStarted(r))
		case *protocol.RuleFired:
			fmt.Fprintln(out, formatter.FormatRuleFired(r))
		case *protocol.Heartbeat:
			fmt.Fprintln(out, formatter.FormatHeartbeat(r))
		case *protocol.SessionCompleted:
			fmt.Fprintln(out, formatter.FormatSessionCompleted(r))
		}
	}
}
