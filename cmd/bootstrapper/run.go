package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"smart-demo/bootstrapper/internal/bootstrap"

	"github.com/spf13/cobra"
)

// runMode runs one bootstrap pass, prints the result and maps a fatal error
// to a non-zero exit.
func runMode(cmd *cobra.Command, mode bootstrap.Mode, names []bootstrap.DatabaseName) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
	defer cancel()
	defer app.Close()

	slog.InfoContext(ctx, "starting bootstrap",
		"mode", mode,
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"user", cfg.Database.User,
	)

	result, err := app.bootstrapper.RunBootstrap(ctx, names, mode)
	if result == nil {
		printError(cmd.OutOrStdout(), err)
		return fmt.Errorf("%s failed: %w", mode, err)
	}

	printRunResult(cmd.OutOrStdout(), result, err)
	if err != nil {
		return fmt.Errorf("%s failed: %w", mode, err)
	}
	return nil
}

// runReport is the stdout shape of a finished run.
type runReport struct {
	*bootstrap.RunResult
	Error string `json:"error,omitempty"`
}

func printRunResult(w io.Writer, result *bootstrap.RunResult, err error) {
	report := runReport{RunResult: result}
	if err != nil {
		report.Error = err.Error()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(report); encErr != nil {
		fmt.Fprintf(w, `{"status":%q}`+"\n", result.Status)
	}
}

func printError(w io.Writer, err error) {
	result := map[string]string{"status": bootstrap.StatusError}
	if err != nil {
		result["error"] = err.Error()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result); encErr != nil {
		fmt.Fprintf(w, `{"status":%q}`+"\n", bootstrap.StatusError)
	}
}
