package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/meshbridge-project/meshbridge/internal/util"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the meshbridge version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "meshbridge %s (%s/%s, %s)\n",
			util.Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	},
}
