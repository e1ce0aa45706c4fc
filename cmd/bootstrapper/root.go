package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"smart-demo/bootstrapper/internal/config"
	"smart-demo/bootstrapper/internal/telemetry"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// cfg is populated by PersistentPreRunE and shared with all subcommands.
	cfg *config.Config

	// app holds all wired dependencies; populated by PersistentPreRunE.
	app *AppContext
)

var rootCmd = &cobra.Command{
	Use:   "bootstrapper",
	Short: "Create or reset the demo stack's databases",
	Long: `bootstrapper brings the demo stack's PostgreSQL databases into a known state.

  ensure  create each configured database that is missing (safe to repeat)
  reset   drop and recreate DB_NAME (destroys its data)
  serve   ensure once, then serve health and readiness over HTTP

Connection parameters come from DB_HOST, DB_PORT, DB_USER and DB_PASSWORD.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(ensureCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads configuration once and wires the application. Nothing below
// cmd/ reads the environment.
func setup(cmd *cobra.Command, args []string) error {
	initLogger(logLevel)

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// --log-level flag takes precedence over value in config file.
	if cmd.Flags().Changed("log-level") {
		cfg.Telemetry.LogLevel = logLevel
	} else if cfg.Telemetry.LogLevel != "" {
		initLogger(cfg.Telemetry.LogLevel)
	}

	app, err = buildAppContext(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("building app context: %w", err)
	}

	return nil
}

// Execute is the entry point called by main. SIGINT/SIGTERM cancel the
// command context; databases already processed stay as they are.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// initLogger writes JSON logs to stderr so stdout carries only the run result.
func initLogger(level string) {
	slog.SetDefault(telemetry.NewLogger(os.Stderr, level))
}
