package main

import (
	"context"
	"log/slog"
	"time"

	"smart-demo/bootstrapper/internal/bootstrap"
	"smart-demo/bootstrapper/internal/config"
	"smart-demo/bootstrapper/internal/postgres"
	"smart-demo/bootstrapper/internal/telemetry"
)

// AppContext holds all constructed application dependencies shared across
// subcommands. It is built once in PersistentPreRunE.
type AppContext struct {
	cfg          *config.Config
	otelProvider *telemetry.Provider
	pg           *postgres.Client
	bootstrapper *bootstrap.Bootstrapper
}

// buildAppContext constructs all application dependencies from cfg:
//  1. Initialises the OTEL provider (best-effort, non-fatal)
//  2. Creates the circuit breaker and the postgres admin client
//  3. Creates the bootstrapper
//
// No database connection is opened here.
func buildAppContext(ctx context.Context, cfg *config.Config) (*AppContext, error) {
	app := &AppContext{cfg: cfg}

	// With no endpoint configured telemetry stays on the global no-op providers.
	if cfg.Telemetry.OTLPEndpoint == "" {
		slog.Debug("OTEL telemetry disabled (no endpoint configured)")
	} else {
		tp, err := telemetry.InitProvider(
			ctx,
			cfg.Telemetry.OTLPEndpoint,
			cfg.Telemetry.ServiceName,
			version.String(),
			cfg.Telemetry.OTLPInsecure,
		)
		if err != nil {
			slog.Warn("OTEL provider init failed, telemetry disabled", "err", err)
		} else {
			app.otelProvider = tp
			slog.SetDefault(slog.New(telemetry.NewTeeHandler(
				slog.Default().Handler(),
				tp.LogHandler,
			)))
		}
	}

	app.pg = postgres.NewClient(
		cfg.Database,
		postgres.NewCircuitBreaker("postgres"),
		postgres.WithForceDrop(cfg.Reset.Force),
	)
	app.bootstrapper = bootstrap.New(app.pg, app.pg)

	return app, nil
}

// Close releases the database pool and flushes telemetry.
func (a *AppContext) Close() {
	a.pg.Close()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.otelProvider.Shutdown(shutCtx); err != nil {
		slog.Warn("OTEL shutdown error", "err", err)
	}
}

// ensureNames returns the configured ensure list as DatabaseNames.
func (a *AppContext) ensureNames() []bootstrap.DatabaseName {
	return bootstrap.Names(a.cfg.Ensure.Databases...)
}
