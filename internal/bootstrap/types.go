package bootstrap

import (
	"fmt"
	"strings"
)

// Status values used by RunResult.
const (
	StatusOK         = "ok"
	StatusError      = "error"
	StatusInProgress = "in-progress"
)

// Mode selects the per-database lifecycle action applied by RunBootstrap.
type Mode string

const (
	// ModeReset drops and recreates every database. Existing data is lost.
	ModeReset Mode = "reset"
	// ModeEnsure creates databases that are absent and leaves the rest alone.
	ModeEnsure Mode = "ensure"
)

// ParseMode converts a user-supplied string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeReset, ModeEnsure:
		return m, nil
	default:
		return "", fmt.Errorf("unknown bootstrap mode %q (want %q or %q)", s, ModeReset, ModeEnsure)
	}
}

// Outcome is the per-database result of a bootstrap step.
type Outcome string

const (
	OutcomeCreated        Outcome = "created"
	OutcomeAlreadyExisted Outcome = "already-existed"
	OutcomeReset          Outcome = "reset"
	OutcomeFailed         Outcome = "failed"
	// OutcomeSkipped marks names never attempted because an earlier name failed.
	OutcomeSkipped Outcome = "skipped"
)

// Present reports whether the outcome leaves the database in place.
func (o Outcome) Present() bool {
	switch o {
	case OutcomeCreated, OutcomeAlreadyExisted, OutcomeReset:
		return true
	}
	return false
}

// DatabaseName identifies one logical store of the demo stack.
type DatabaseName string

// maxNameLen is PostgreSQL's NAMEDATALEN minus the terminator.
const maxNameLen = 63

// protectedDatabases are never dropped by a reset.
var protectedDatabases = map[DatabaseName]bool{
	"postgres":  true,
	"template0": true,
	"template1": true,
}

// Validate rejects names the server would silently truncate or refuse.
func (n DatabaseName) Validate() error {
	switch {
	case n == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	case len(n) > maxNameLen:
		return fmt.Errorf("%w: %q is longer than %d bytes", ErrInvalidName, n, maxNameLen)
	case strings.ContainsRune(string(n), 0):
		return fmt.Errorf("%w: name contains a NUL byte", ErrInvalidName)
	}
	return nil
}

// Protected reports whether n is a maintenance or template database.
func (n DatabaseName) Protected() bool {
	return protectedDatabases[n]
}

// Names converts plain strings into DatabaseNames, preserving order.
func Names(ss ...string) []DatabaseName {
	names := make([]DatabaseName, len(ss))
	for i, s := range ss {
		names[i] = DatabaseName(s)
	}
	return names
}

// NameResult is the outcome of a single database within a run.
type NameResult struct {
	Name    DatabaseName `json:"name"`
	Outcome Outcome      `json:"outcome"`
	Kind    string       `json:"kind,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// RunResult is the aggregate result of a RunBootstrap call. Databases keeps
// the input order.
type RunResult struct {
	Mode      Mode         `json:"mode"`
	Status    string       `json:"status"`
	Databases []NameResult `json:"databases"`
}

// Succeeded returns the names that ended PRESENT.
func (r *RunResult) Succeeded() []DatabaseName {
	var out []DatabaseName
	for _, d := range r.Databases {
		if d.Outcome.Present() {
			out = append(out, d.Name)
		}
	}
	return out
}

// Failed returns the names whose step failed.
func (r *RunResult) Failed() []DatabaseName {
	var out []DatabaseName
	for _, d := range r.Databases {
		if d.Outcome == OutcomeFailed {
			out = append(out, d.Name)
		}
	}
	return out
}

// ProbeResult is returned by RunDeepHealth for the server and each database.
type ProbeResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}
