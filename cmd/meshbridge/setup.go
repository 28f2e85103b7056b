package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshbridge-project/meshbridge/internal/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively write a config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return config.RunSetupWizard(cfg, os.Stdin, cmd.OutOrStdout())
	},
}
