package main

import (
	"fmt"

	"smart-demo/bootstrapper/internal/bootstrap"

	"github.com/spf13/cobra"
)

var ensureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create each demo database that does not exist yet",
	Long: `Ensure creates every database in ensure.databases (default: fhir, jhe)
that is missing. Existing databases are reported as already-existed and left
untouched, so the command is safe to run repeatedly.

Databases are processed in order. The run stops at the first connection or
permission error; earlier databases are not rolled back.`,
	Args: cobra.NoArgs,
	RunE: runEnsure,
}

func runEnsure(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateEnsure(); err != nil {
		printError(cmd.OutOrStdout(), err)
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return runMode(cmd, bootstrap.ModeEnsure, app.ensureNames())
}
