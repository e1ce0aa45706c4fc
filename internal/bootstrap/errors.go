package bootstrap

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. The admin client wraps driver errors with one of these so
// callers can branch with errors.Is instead of matching message text.
var (
	// ErrConnection covers an unreachable server, rejected credentials and an
	// open circuit breaker.
	ErrConnection = errors.New("connection error")
	// ErrPermission means the connecting role lacks CREATEDB or ownership.
	ErrPermission = errors.New("permission error")
	// ErrAlreadyExists is informational. Ensure treats it as success.
	ErrAlreadyExists = errors.New("database already exists")
	// ErrInUse means other sessions block DROP DATABASE.
	ErrInUse = errors.New("database is in use")
	// ErrInvalidName rejects names the server cannot store as given.
	ErrInvalidName = errors.New("invalid database name")
	// ErrProtectedDatabase refuses to reset maintenance and template databases.
	ErrProtectedDatabase = errors.New("refusing to reset a protected database")
)

// ErrBootstrapInProgress is returned when RunBootstrap is called while a run
// is already active on the same Bootstrapper.
var ErrBootstrapInProgress = errors.New("bootstrap already in progress")

// Operation names carried by OpError.
const (
	OpExists = "exists"
	OpCreate = "create"
	OpDrop   = "drop"
	OpReset  = "reset"
	OpEnsure = "ensure"
)

// OpError records which operation failed on which database.
type OpError struct {
	Op       string
	Database DatabaseName
	Err      error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s database %q: %v", e.Op, e.Database, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// KindOf returns a short label for err's kind, used in run reports.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrAlreadyExists):
		return "already-exists"
	case errors.Is(err, ErrInUse):
		return "in-use"
	case errors.Is(err, ErrInvalidName):
		return "invalid-name"
	case errors.Is(err, ErrProtectedDatabase):
		return "protected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}
