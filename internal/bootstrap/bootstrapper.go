package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "demo-bootstrapper"

// Admin is satisfied by *postgres.Client. Errors are expected to wrap one of
// the kind sentinels in errors.go.
type Admin interface {
	DatabaseExists(ctx context.Context, name string) (bool, error)
	CreateDatabase(ctx context.Context, name string) error
	DropDatabase(ctx context.Context, name string) error
}

// Prober is satisfied by *postgres.Client.
type Prober interface {
	Probe(ctx context.Context) ProbeResult
	ProbeDatabase(ctx context.Context, name string) ProbeResult
}

// Bootstrapper applies database lifecycle actions against one server. The
// connection parameters are fixed when the Admin is built, so every call on a
// Bootstrapper targets the same ConnectionConfig.
type Bootstrapper struct {
	admin  Admin
	prober Prober

	outcomes metric.Int64Counter

	inProgress atomic.Bool
	lastResult *RunResult
	resultMu   sync.RWMutex
}

// New constructs a Bootstrapper.
func New(admin Admin, prober Prober) *Bootstrapper {
	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"bootstrapper.databases",
		metric.WithDescription("Databases processed by outcome"),
	)
	if err != nil {
		slog.Warn("outcome counter unavailable", "err", err)
		counter = noop.Int64Counter{}
	}
	return &Bootstrapper{
		admin:    admin,
		prober:   prober,
		outcomes: counter,
	}
}

// ResetDatabase drops name if it exists and creates it again, empty.
//
// This is destructive: every call discards the database's contents. Repeated
// calls converge on the same end state (present and empty).
func (b *Bootstrapper) ResetDatabase(ctx context.Context, name DatabaseName) (Outcome, error) {
	ctx, span := startSpan(ctx, "bootstrapper.reset", name)
	defer span.End()

	if err := name.Validate(); err != nil {
		return OutcomeFailed, spanError(span, &OpError{Op: OpReset, Database: name, Err: err})
	}
	if name.Protected() {
		return OutcomeFailed, spanError(span, &OpError{Op: OpReset, Database: name, Err: ErrProtectedDatabase})
	}

	if err := b.admin.DropDatabase(ctx, string(name)); err != nil {
		return OutcomeFailed, spanError(span, &OpError{Op: OpDrop, Database: name, Err: err})
	}
	// A duplicate here means something recreated the database between the
	// drop and the create, so emptiness is no longer guaranteed.
	if err := b.admin.CreateDatabase(ctx, string(name)); err != nil {
		return OutcomeFailed, spanError(span, &OpError{Op: OpCreate, Database: name, Err: err})
	}

	span.SetStatus(codes.Ok, "")
	return OutcomeReset, nil
}

// EnsureDatabaseExists creates name only when it is absent. An existing
// database is left untouched and reported as OutcomeAlreadyExisted, which is
// not an error.
func (b *Bootstrapper) EnsureDatabaseExists(ctx context.Context, name DatabaseName) (Outcome, error) {
	ctx, span := startSpan(ctx, "bootstrapper.ensure", name)
	defer span.End()

	if err := name.Validate(); err != nil {
		return OutcomeFailed, spanError(span, &OpError{Op: OpEnsure, Database: name, Err: err})
	}
	if name.Protected() {
		return OutcomeFailed, spanError(span, &OpError{Op: OpEnsure, Database: name, Err: ErrProtectedDatabase})
	}

	exists, err := b.admin.DatabaseExists(ctx, string(name))
	if err != nil {
		return OutcomeFailed, spanError(span, &OpError{Op: OpExists, Database: name, Err: err})
	}
	if exists {
		span.SetStatus(codes.Ok, "")
		return OutcomeAlreadyExisted, nil
	}

	if err := b.admin.CreateDatabase(ctx, string(name)); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			slog.DebugContext(ctx, "database appeared between existence check and create", "database", name)
			span.SetStatus(codes.Ok, "")
			return OutcomeAlreadyExisted, nil
		}
		return OutcomeFailed, spanError(span, &OpError{Op: OpCreate, Database: name, Err: err})
	}

	span.SetStatus(codes.Ok, "")
	return OutcomeCreated, nil
}

// RunBootstrap applies mode to each name in order. It stops at the first
// fatal error, marks the remaining names skipped, and returns that error
// together with the partial result. Databases processed before the failure
// are not rolled back. Returns ErrBootstrapInProgress if a run is already
// active.
func (b *Bootstrapper) RunBootstrap(ctx context.Context, names []DatabaseName, mode Mode) (*RunResult, error) {
	var step func(context.Context, DatabaseName) (Outcome, error)
	switch mode {
	case ModeReset:
		step = b.ResetDatabase
	case ModeEnsure:
		step = b.EnsureDatabaseExists
	default:
		return nil, fmt.Errorf("unknown bootstrap mode %q", mode)
	}

	if !b.inProgress.CompareAndSwap(false, true) {
		return nil, ErrBootstrapInProgress
	}
	defer b.inProgress.Store(false)

	result := &RunResult{
		Mode:      mode,
		Status:    StatusInProgress,
		Databases: make([]NameResult, 0, len(names)),
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "bootstrapper.run",
		trace.WithAttributes(
			attribute.String("bootstrap.mode", string(mode)),
			attribute.Int("bootstrap.databases", len(names)),
		),
	)
	defer span.End()

	slog.InfoContext(ctx, "bootstrap started", "mode", mode, "databases", len(names))

	var fatal error
	for i, name := range names {
		var (
			outcome Outcome
			err     error
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			outcome, err = OutcomeFailed, &OpError{Op: string(mode), Database: name, Err: ctxErr}
		} else {
			outcome, err = step(ctx, name)
		}

		nr := NameResult{Name: name, Outcome: outcome}
		if err != nil {
			nr.Outcome = OutcomeFailed
			nr.Kind = KindOf(err)
			nr.Error = err.Error()
		}
		result.Databases = append(result.Databases, nr)
		b.record(ctx, mode, nr)

		if err != nil {
			fatal = err
			for _, rest := range names[i+1:] {
				skipped := NameResult{Name: rest, Outcome: OutcomeSkipped}
				result.Databases = append(result.Databases, skipped)
				b.record(ctx, mode, skipped)
			}
			break
		}
	}

	result.Status = StatusOK
	if fatal != nil {
		result.Status = StatusError
	}

	span.SetAttributes(attribute.String("bootstrap.status", result.Status))
	if fatal != nil {
		span.RecordError(fatal)
		span.SetStatus(codes.Error, "bootstrap halted on a fatal error")
		slog.ErrorContext(ctx, "bootstrap halted",
			"mode", mode,
			"succeeded", result.Succeeded(),
			"failed", result.Failed(),
			"error", fatal,
		)
	} else {
		span.SetStatus(codes.Ok, "")
		slog.InfoContext(ctx, "bootstrap completed", "mode", mode, "status", result.Status)
	}

	b.resultMu.Lock()
	b.lastResult = result
	b.resultMu.Unlock()

	return result, fatal
}

// RunDeepHealth probes the server and each named database concurrently and
// returns the results keyed by "server" and database name.
func (b *Bootstrapper) RunDeepHealth(ctx context.Context, names []DatabaseName) map[string]ProbeResult {
	results := make(map[string]ProbeResult, len(names)+1)
	var mu sync.Mutex
	var g errgroup.Group

	g.Go(func() error {
		probe := b.prober.Probe(ctx)
		mu.Lock()
		results["server"] = probe
		mu.Unlock()
		return nil
	})

	for _, name := range names {
		g.Go(func() error {
			probe := b.prober.ProbeDatabase(ctx, string(name))
			mu.Lock()
			results[string(name)] = probe
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// IsBootstrapInProgress returns true while a run is active.
func (b *Bootstrapper) IsBootstrapInProgress() bool {
	return b.inProgress.Load()
}

// IsReady returns true if the last run completed with StatusOK.
func (b *Bootstrapper) IsReady() bool {
	b.resultMu.RLock()
	defer b.resultMu.RUnlock()
	return b.lastResult != nil && b.lastResult.Status == StatusOK
}

// LastResult returns the most recent run result, or nil before the first run.
func (b *Bootstrapper) LastResult() *RunResult {
	b.resultMu.RLock()
	defer b.resultMu.RUnlock()
	return b.lastResult
}

// record emits the operator-visible status line for one database and counts
// the outcome.
func (b *Bootstrapper) record(ctx context.Context, mode Mode, nr NameResult) {
	b.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("outcome", string(nr.Outcome)),
	))

	switch nr.Outcome {
	case OutcomeFailed:
		slog.ErrorContext(ctx, "database failed", "database", nr.Name, "kind", nr.Kind, "error", nr.Error)
	case OutcomeSkipped:
		slog.WarnContext(ctx, "database skipped", "database", nr.Name)
	default:
		slog.InfoContext(ctx, "database "+string(nr.Outcome), "database", nr.Name, "outcome", nr.Outcome)
	}
}

func startSpan(ctx context.Context, op string, name DatabaseName) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, op,
		trace.WithAttributes(attribute.String("db.name", string(name))),
	)
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, KindOf(err))
	return err
}
