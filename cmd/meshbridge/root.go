package main

import (
	"github.com/spf13/cobra"

	"github.com/meshbridge-project/meshbridge/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "meshbridge",
	Short: "Bridge a MeshCore radio to Discord",
	Long: `meshbridge connects to a MeshCore companion radio over TCP, decodes
channel messages, direct messages, adverts and traces, and posts them to
Discord channels or webhooks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBridge,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultConfigFile, "config file (.yaml, .json or .toml)")
	// bare "meshbridge" behaves like "meshbridge run"
	rootCmd.Flags().BoolVar(&noConsole, "no-console", false, "disable the interactive console")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(versionCmd)
}
