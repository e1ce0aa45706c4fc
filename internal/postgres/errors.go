package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"

	"smart-demo/bootstrapper/internal/bootstrap"
)

// Classify wraps err with the bootstrap error kind matching its SQLSTATE or
// transport failure. Errors it does not recognise are returned unchanged.
func Classify(err error) error {
	kind := kindOf(err)
	if kind == nil {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// A missing database (3D000) is left unclassified here: a probed database or
// a CREATE ... TEMPLATE source being absent says nothing about the server.
// Only admin() treats it as a connection failure, via maintenanceErr.
func kindOf(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return bootstrap.ErrConnection
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.DuplicateDatabase:
			return bootstrap.ErrAlreadyExists
		case pgerrcode.InsufficientPrivilege:
			return bootstrap.ErrPermission
		case pgerrcode.ObjectInUse:
			return bootstrap.ErrInUse
		case pgerrcode.InvalidPassword,
			pgerrcode.InvalidAuthorizationSpecification,
			pgerrcode.CannotConnectNow,
			pgerrcode.TooManyConnections:
			return bootstrap.ErrConnection
		}
		if pgerrcode.IsConnectionException(pgErr.Code) {
			return bootstrap.ErrConnection
		}
		return nil
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return bootstrap.ErrConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return bootstrap.ErrConnection
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return bootstrap.ErrConnection
	}
	return nil
}

// maintenanceErr marks a missing maintenance database as a connection
// failure, since no admin statement can run without it.
func maintenanceErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InvalidCatalogName {
		return fmt.Errorf("%w: maintenance database: %w", bootstrap.ErrConnection, err)
	}
	return err
}
