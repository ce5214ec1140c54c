package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "veas-agent",
	Short: "Machine agent that runs interactive programs unattended",
	Long: `veas-agent spawns configured external programs, watches their output
for trigger cues, and injects scripted keystrokes on timers so interactive
prompts can be answered without a human at the keyboard.

Running 'veas-agent' without a subcommand is equivalent to 'veas-agent run'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: run the 'run' command
		return runCmd.RunE(cmd, args)
	},
}

func init() {
	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(showCmd)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "veas-agent.json", "Path to config file (JSON or YAML)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	// The root's RunE delegates to run, so it needs run's flags
	addRunFlags(rootCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
