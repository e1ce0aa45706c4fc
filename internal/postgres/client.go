package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"smart-demo/bootstrapper/internal/bootstrap"
	"smart-demo/bootstrapper/internal/config"
)

const probeName = "server"

const existsSQL = "SELECT 1 FROM pg_database WHERE datname = $1"

// dbConn abstracts the pgxpool.Pool methods the client needs so that tests
// can inject a fake without standing up a real database.
type dbConn interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

type connectFunc func(ctx context.Context, cfg config.ConnectionConfig, dbname string) (dbConn, error)

// Client issues database lifecycle statements against the maintenance
// database of one PostgreSQL server. Every statement runs inside a circuit
// breaker; errors come back wrapped with a bootstrap error kind.
type Client struct {
	cfg       config.ConnectionConfig
	forceDrop bool
	cb        *gobreaker.CircuitBreaker
	connect   connectFunc

	mu   sync.Mutex
	pool dbConn
}

// Option configures a Client.
type Option func(*Client)

// WithForceDrop makes DropDatabase terminate other sessions first
// (DROP DATABASE ... WITH (FORCE), PostgreSQL 13+).
func WithForceDrop(force bool) Option {
	return func(c *Client) { c.forceDrop = force }
}

// NewClient creates a Client. No connection is made at construction time;
// the maintenance pool is opened on first use and reused until Close.
func NewClient(cfg config.ConnectionConfig, cb *gobreaker.CircuitBreaker, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		cb:      cb,
		connect: realConnect,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DatabaseExists reports whether name is present in pg_database.
func (c *Client) DatabaseExists(ctx context.Context, name string) (bool, error) {
	v, err := c.cb.Execute(func() (any, error) {
		db, err := c.admin(ctx)
		if err != nil {
			return nil, err
		}

		var one int
		err = db.QueryRow(ctx, existsSQL, name).Scan(&one)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return false, nil
		case err != nil:
			return nil, fmt.Errorf("querying pg_database: %w", err)
		}
		return true, nil
	})
	if err != nil {
		return false, Classify(err)
	}
	return v.(bool), nil
}

// CreateDatabase issues CREATE DATABASE for name. A duplicate database comes
// back wrapped in bootstrap.ErrAlreadyExists.
func (c *Client) CreateDatabase(ctx context.Context, name string) error {
	return c.exec(ctx, createStatement(name, c.cfg.Template))
}

// DropDatabase issues DROP DATABASE IF EXISTS for name.
func (c *Client) DropDatabase(ctx context.Context, name string) error {
	return c.exec(ctx, dropStatement(name, c.forceDrop))
}

// Probe pings the server through the maintenance database.
func (c *Client) Probe(ctx context.Context) bootstrap.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		db, err := c.admin(ctx)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		return nil, nil
	})

	return probeResult(probeName, start, err)
}

// ProbeDatabase opens a short-lived connection to name itself, proving the
// database is reachable with the configured credentials. A database that does
// not exist yet fails the probe without counting against the breaker.
func (c *Client) ProbeDatabase(ctx context.Context, name string) bootstrap.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		db, err := c.connect(ctx, c.cfg, name)
		if err != nil {
			return nil, err
		}
		defer db.Close()

		if err := db.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		return nil, nil
	})

	return probeResult(name, start, err)
}

// Close releases the maintenance pool, if one was opened.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
}

func (c *Client) exec(ctx context.Context, sql string) error {
	_, err := c.cb.Execute(func() (any, error) {
		db, err := c.admin(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := db.Exec(ctx, sql); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return Classify(err)
}

// admin returns the cached maintenance pool, opening it if needed. A failed
// open is not cached.
func (c *Client) admin(ctx context.Context) (dbConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		return c.pool, nil
	}
	db, err := c.connect(ctx, c.cfg, c.cfg.MaintenanceDB)
	if err != nil {
		return nil, maintenanceErr(err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, maintenanceErr(fmt.Errorf("connecting to %s:%d as %s: %w", c.cfg.Host, c.cfg.Port, c.cfg.User, err))
	}
	c.pool = db
	return db, nil
}

func createStatement(name, template string) string {
	sql := "CREATE DATABASE " + pgx.Identifier{name}.Sanitize()
	if template != "" {
		sql += " TEMPLATE " + pgx.Identifier{template}.Sanitize()
	}
	return sql
}

func dropStatement(name string, force bool) string {
	sql := "DROP DATABASE IF EXISTS " + pgx.Identifier{name}.Sanitize()
	if force {
		sql += " WITH (FORCE)"
	}
	return sql
}

func probeResult(name string, start time.Time, err error) bootstrap.ProbeResult {
	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			errMsg = "circuit open"
		}
		return bootstrap.ProbeResult{
			Name:      name,
			OK:        false,
			LatencyMs: latency,
			Error:     errMsg,
		}
	}

	return bootstrap.ProbeResult{
		Name:      name,
		OK:        true,
		LatencyMs: latency,
	}
}

// connString renders a postgres:// URL for dbname. url.URL escapes the
// credentials, so passwords may contain any character.
func connString(cfg config.ConnectionConfig, dbname string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password.Reveal()),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + dbname,
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	q.Set("application_name", "demo-bootstrapper")
	u.RawQuery = q.Encode()
	return u.String()
}

// realConnect opens a small pgxpool.Pool on dbname.
func realConnect(ctx context.Context, cfg config.ConnectionConfig, dbname string) (dbConn, error) {
	poolCfg, err := pgxpool.ParseConfig(connString(cfg, dbname))
	if err != nil {
		return nil, fmt.Errorf("parsing postgres connection string: %w", err)
	}
	poolCfg.MaxConns = 2
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}

	return pool, nil
}
