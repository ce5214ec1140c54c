package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veas-org/veas-agent/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file %s already exists", configPath)
	}

	cfg := config.GenerateDefault()
	if err := cfg.SaveToFile(configPath); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", configPath)
	return nil
}
