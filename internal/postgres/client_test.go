package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-demo/bootstrapper/internal/bootstrap"
	"smart-demo/bootstrapper/internal/config"
)

// mockRow implements pgx.Row for use in tests.
type mockRow struct {
	scanErr error
	val     any
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	if len(dest) > 0 {
		if ptr, ok := dest[0].(*int); ok {
			if v, ok := r.val.(int); ok {
				*ptr = v
			}
		}
	}
	return nil
}

// mockDB implements dbConn for use in tests.
type mockDB struct {
	pingErr  error
	queryRow pgx.Row
	execErr  error
	execs    []string
	args     []any
	closed   bool
}

func (m *mockDB) Ping(_ context.Context) error { return m.pingErr }
func (m *mockDB) Close()                       { m.closed = true }
func (m *mockDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	m.args = args
	return m.queryRow
}
func (m *mockDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, sql)
	if m.execErr != nil {
		return pgconn.CommandTag{}, m.execErr
	}
	return pgconn.NewCommandTag("OK"), nil
}

// makeClient returns a Client with a stubbed connect function and records the
// database names it was asked to connect to.
func makeClient(db dbConn, connectErr error, cb *gobreaker.CircuitBreaker, dials *[]string, opts ...Option) *Client {
	c := NewClient(config.ConnectionConfig{
		Host:          "db",
		Port:          5432,
		User:          "demo",
		MaintenanceDB: "postgres",
	}, cb, opts...)
	c.connect = func(_ context.Context, _ config.ConnectionConfig, dbname string) (dbConn, error) {
		if dials != nil {
			*dials = append(*dials, dbname)
		}
		return db, connectErr
	}
	return c
}

var authFailed = &pgconn.PgError{Code: "28P01", Message: `password authentication failed for user "demo"`}

func TestDatabaseExists(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		row        *mockRow
		connectErr error
		want       bool
		wantKind   error
		wantErr    bool
	}{
		{
			name: "row found",
			row:  &mockRow{val: 1},
			want: true,
		},
		{
			name: "no rows means absent",
			row:  &mockRow{scanErr: pgx.ErrNoRows},
			want: false,
		},
		{
			name:    "scan failure is an error",
			row:     &mockRow{scanErr: errors.New("conn busy")},
			wantErr: true,
		},
		{
			name:       "bad credentials",
			connectErr: authFailed,
			wantErr:    true,
			wantKind:   bootstrap.ErrConnection,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			db := &mockDB{queryRow: tc.row}
			client := makeClient(db, tc.connectErr, NewCircuitBreaker("test-"+tc.name), nil)

			got, err := client.DatabaseExists(context.Background(), "fhir")
			if tc.wantErr {
				require.Error(t, err)
				if tc.wantKind != nil {
					assert.ErrorIs(t, err, tc.wantKind)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, []any{"fhir"}, db.args)
		})
	}
}

func TestCreateDatabase(t *testing.T) {
	t.Parallel()

	t.Run("plain create quotes the identifier", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{}
		client := makeClient(db, nil, NewCircuitBreaker("create-plain"), nil)

		require.NoError(t, client.CreateDatabase(context.Background(), `jhe"; DROP`))
		assert.Equal(t, []string{`CREATE DATABASE "jhe""; DROP"`}, db.execs)
	})

	t.Run("template clause", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{}
		client := makeClient(db, nil, NewCircuitBreaker("create-template"), nil)
		client.cfg.Template = "template0"

		require.NoError(t, client.CreateDatabase(context.Background(), "fhir"))
		assert.Equal(t, []string{`CREATE DATABASE "fhir" TEMPLATE "template0"`}, db.execs)
	})

	t.Run("duplicate database", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{execErr: &pgconn.PgError{Code: "42P04", Message: `database "fhir" already exists`}}
		client := makeClient(db, nil, NewCircuitBreaker("create-dup"), nil)

		err := client.CreateDatabase(context.Background(), "fhir")
		assert.ErrorIs(t, err, bootstrap.ErrAlreadyExists)
	})

	t.Run("missing CREATEDB", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{execErr: &pgconn.PgError{Code: "42501", Message: "permission denied to create database"}}
		client := makeClient(db, nil, NewCircuitBreaker("create-perm"), nil)

		err := client.CreateDatabase(context.Background(), "fhir")
		assert.ErrorIs(t, err, bootstrap.ErrPermission)
	})
}

func TestDropDatabase(t *testing.T) {
	t.Parallel()

	t.Run("if exists", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{}
		client := makeClient(db, nil, NewCircuitBreaker("drop-plain"), nil)

		require.NoError(t, client.DropDatabase(context.Background(), "jhe"))
		assert.Equal(t, []string{`DROP DATABASE IF EXISTS "jhe"`}, db.execs)
	})

	t.Run("force", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{}
		client := makeClient(db, nil, NewCircuitBreaker("drop-force"), nil, WithForceDrop(true))

		require.NoError(t, client.DropDatabase(context.Background(), "jhe"))
		assert.Equal(t, []string{`DROP DATABASE IF EXISTS "jhe" WITH (FORCE)`}, db.execs)
	})

	t.Run("active sessions", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{execErr: &pgconn.PgError{Code: "55006", Message: `database "jhe" is being accessed by other users`}}
		client := makeClient(db, nil, NewCircuitBreaker("drop-inuse"), nil)

		assert.ErrorIs(t, client.DropDatabase(context.Background(), "jhe"), bootstrap.ErrInUse)
	})
}

func TestAdminPool_ReusedAndNotCachedOnFailure(t *testing.T) {
	t.Parallel()

	var dials []string
	db := &mockDB{queryRow: &mockRow{val: 1}}
	client := makeClient(db, nil, NewCircuitBreaker("reuse"), &dials)

	for range 3 {
		_, err := client.DatabaseExists(context.Background(), "fhir")
		require.NoError(t, err)
	}
	require.NoError(t, client.CreateDatabase(context.Background(), "jhe"))
	assert.Equal(t, []string{"postgres"}, dials, "maintenance pool should be opened once")

	client.Close()
	assert.True(t, db.closed)

	// A pool whose first ping fails is closed and not cached.
	var failingDials []string
	bad := &mockDB{pingErr: authFailed}
	failing := makeClient(bad, nil, NewCircuitBreaker("reuse-fail"), &failingDials)
	_, err := failing.DatabaseExists(context.Background(), "fhir")
	assert.ErrorIs(t, err, bootstrap.ErrConnection)
	assert.True(t, bad.closed)
	_, _ = failing.DatabaseExists(context.Background(), "fhir")
	assert.Len(t, failingDials, 2)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pingErr    error
		connectErr error
		wantOK     bool
		wantErrSub string
	}{
		{
			name:   "success — ping ok",
			wantOK: true,
		},
		{
			name:       "failure — ping error",
			pingErr:    errors.New("connection refused"),
			wantOK:     false,
			wantErrSub: "connection refused",
		},
		{
			name:       "failure — connect error",
			connectErr: errors.New("dial error"),
			wantOK:     false,
			wantErrSub: "dial error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			db := &mockDB{pingErr: tc.pingErr}
			client := makeClient(db, tc.connectErr, NewCircuitBreaker("test-"+tc.name), nil)

			result := client.Probe(context.Background())

			assert.Equal(t, "server", result.Name)
			assert.Equal(t, tc.wantOK, result.OK)
			if tc.wantErrSub != "" {
				assert.Contains(t, result.Error, tc.wantErrSub)
			}
			if tc.wantOK {
				assert.Empty(t, result.Error)
			}
		})
	}
}

func TestProbeDatabase_ConnectsToNamedDatabase(t *testing.T) {
	t.Parallel()

	var dials []string
	db := &mockDB{}
	client := makeClient(db, nil, NewCircuitBreaker("probe-db"), &dials)

	result := client.ProbeDatabase(context.Background(), "jhe")

	assert.True(t, result.OK)
	assert.Equal(t, "jhe", result.Name)
	assert.Equal(t, []string{"jhe"}, dials)
	assert.True(t, db.closed, "per-database probe connection must be closed")

	missing := makeClient(nil, &pgconn.PgError{Code: "3D000", Message: `database "nope" does not exist`},
		NewCircuitBreaker("probe-missing"), nil)
	result = missing.ProbeDatabase(context.Background(), "nope")
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "does not exist")
}

func TestCircuitBreaker_OpensAfterThreeConnectionFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("cb-open-test")
	client := makeClient(nil, authFailed, cb, nil)

	for i := range 3 {
		_, err := client.DatabaseExists(context.Background(), "fhir")
		require.Error(t, err, "call %d should fail", i+1)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState, "call %d should not be circuit-open yet", i+1)
	}

	// The 4th call must be rejected immediately by the open breaker, and
	// still reported as a connection problem.
	_, err := client.DatabaseExists(context.Background(), "fhir")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, bootstrap.ErrConnection)

	result := client.Probe(context.Background())
	assert.False(t, result.OK)
	assert.Equal(t, "circuit open", result.Error)
}

func TestCircuitBreaker_IgnoresSQLErrors(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("cb-sql-test")
	db := &mockDB{execErr: &pgconn.PgError{Code: "42P04"}}
	client := makeClient(db, nil, cb, nil)

	for range 5 {
		assert.ErrorIs(t, client.CreateDatabase(context.Background(), "fhir"), bootstrap.ErrAlreadyExists)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

var dbMissing = &pgconn.PgError{Code: "3D000", Message: `database "jhe" does not exist`}

func TestCircuitBreaker_IgnoresMissingDatabaseProbes(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("cb-missing-db")
	admin := &mockDB{queryRow: &mockRow{scanErr: pgx.ErrNoRows}}
	client := makeClient(admin, nil, cb, nil)
	client.connect = func(_ context.Context, _ config.ConnectionConfig, dbname string) (dbConn, error) {
		if dbname == "jhe" {
			return nil, fmt.Errorf("failed to connect: %w", dbMissing)
		}
		return admin, nil
	}

	for range 5 {
		result := client.ProbeDatabase(context.Background(), "jhe")
		assert.False(t, result.OK)
		assert.NotEqual(t, "circuit open", result.Error)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	exists, err := client.DatabaseExists(context.Background(), "jhe")
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, client.CreateDatabase(context.Background(), "jhe"))
	assert.Equal(t, []string{`CREATE DATABASE "jhe"`}, admin.execs)
}

func TestCreateDatabase_MissingTemplateIsNotConnectionError(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("cb-missing-template")
	db := &mockDB{execErr: &pgconn.PgError{Code: "3D000", Message: `template database "demo_tpl" does not exist`}}
	client := makeClient(db, nil, cb, nil)

	for range 4 {
		err := client.CreateDatabase(context.Background(), "fhir")
		require.Error(t, err)
		assert.NotErrorIs(t, err, bootstrap.ErrConnection)
		assert.Equal(t, "unknown", bootstrap.KindOf(err))
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestAdmin_MissingMaintenanceDatabaseIsConnectionError(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("cb-missing-maintenance")
	client := makeClient(nil, &pgconn.PgError{Code: "3D000", Message: `database "postgres" does not exist`}, cb, nil)

	for range 3 {
		_, err := client.DatabaseExists(context.Background(), "fhir")
		assert.ErrorIs(t, err, bootstrap.ErrConnection)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestNewCircuitBreaker(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("unit-test")
	assert.NotNil(t, cb)
	assert.Equal(t, "unit-test", cb.Name())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"duplicate database", &pgconn.PgError{Code: "42P04"}, bootstrap.ErrAlreadyExists},
		{"insufficient privilege", &pgconn.PgError{Code: "42501"}, bootstrap.ErrPermission},
		{"object in use", &pgconn.PgError{Code: "55006"}, bootstrap.ErrInUse},
		{"invalid password", authFailed, bootstrap.ErrConnection},
		{"role does not exist", &pgconn.PgError{Code: "28000"}, bootstrap.ErrConnection},
		{"connection exception class", &pgconn.PgError{Code: "08006"}, bootstrap.ErrConnection},
		{"server starting up", &pgconn.PgError{Code: "57P03"}, bootstrap.ErrConnection},
		{"network error", &url.Error{Op: "dial", URL: "db", Err: context.DeadlineExceeded}, bootstrap.ErrConnection},
		{"deadline", context.DeadlineExceeded, bootstrap.ErrConnection},
		{"open breaker", gobreaker.ErrOpenState, bootstrap.ErrConnection},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := Classify(tc.err)
			assert.ErrorIs(t, got, tc.want)
			assert.ErrorIs(t, got, tc.err, "original error must stay in the chain")
		})
	}

	t.Run("unrecognised errors pass through", func(t *testing.T) {
		t.Parallel()
		syntax := &pgconn.PgError{Code: "42601"}
		assert.Same(t, syntax, Classify(syntax))
		missing := &pgconn.PgError{Code: "3D000"}
		assert.Same(t, missing, Classify(missing))
		assert.Nil(t, Classify(nil))
		assert.ErrorIs(t, Classify(context.Canceled), context.Canceled)
		assert.NotErrorIs(t, Classify(context.Canceled), bootstrap.ErrConnection)
	})
}

func TestConnString(t *testing.T) {
	t.Parallel()

	cfg := config.ConnectionConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "demo",
		Password: config.Secret("p@ss:w/rd"),
		SSLMode:  "require",
	}

	raw := connString(cfg, "fhir")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:5433", u.Host)
	assert.Equal(t, "/fhir", u.Path)
	pw, ok := u.User.Password()
	require.True(t, ok)
	assert.Equal(t, "p@ss:w/rd", pw)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
}
