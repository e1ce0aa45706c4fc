package main

import (
	"fmt"

	"github.com/maloquacious/semver"
	"github.com/spf13/cobra"
)

var version = semver.Version{Minor: 1, Build: semver.Commit()}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bootstrapper version",
	Args:  cobra.NoArgs,
	// No config or connections needed.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}
