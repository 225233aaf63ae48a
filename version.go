package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "noisemeter %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}
}
