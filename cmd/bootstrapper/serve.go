package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"smart-demo/bootstrapper/internal/api"
	"smart-demo/bootstrapper/internal/bootstrap"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Ensure the demo databases, then serve health and readiness",
	Long: `Serve runs one ensure pass at startup and then serves:

  GET  /health            liveness
  GET  /health/deep       server and per-database reachability
  GET  /ready             200 once the last ensure run succeeded
  POST /api/v1/bootstrap  start another ensure run in the background

A failed startup run is logged and reported through /ready; the server keeps
running so the operator can fix the environment and retry. No route resets a
database. Shuts down cleanly on SIGTERM or SIGINT.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateEnsure(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx := cmd.Context()
	defer app.Close()

	names := app.ensureNames()

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	if _, err := app.bootstrapper.RunBootstrap(runCtx, names, bootstrap.ModeEnsure); err != nil {
		slog.WarnContext(ctx, "startup ensure run failed; serving unready", "err", err)
	}
	cancel()

	router := api.NewRouter(app.bootstrapper, names, cfg.Telemetry.ServiceName)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("bootstrapper server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutCancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped cleanly")
	return nil
}
