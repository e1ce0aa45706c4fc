package main

import (
	"fmt"

	"smart-demo/bootstrapper/internal/bootstrap"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate DB_NAME (destroys its data)",
	Long: `Reset drops the database named by DB_NAME if it exists and creates it
again, empty. Every run discards the database's contents.

Set reset.force (BOOTSTRAPPER_RESET_FORCE=true) to terminate other sessions
on the database first; otherwise an open session makes the drop fail.

Prints a JSON result to stdout and exits 0 on success, non-zero on any
connection, permission or other fatal error.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateReset(); err != nil {
		printError(cmd.OutOrStdout(), err)
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return runMode(cmd, bootstrap.ModeReset, bootstrap.Names(cfg.Reset.Name))
}
