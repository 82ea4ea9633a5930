// Package postgres implements the Persistence Gateway and the domain store
// interfaces on top of it, using pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// defaultMinConns and defaultMaxConns are the Persistence Gateway's pool
// bounds when the caller does not override them.
const (
	defaultMinConns = 2
	defaultMaxConns = 5
)

// GatewayConfig holds connection parameters for the Persistence Gateway. The
// Password field may be left empty and supplied instead via the DB_PASSWORD
// environment variable (see internal/config).
type GatewayConfig struct {
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN builds a PostgreSQL connection string from the given config.
func DSN(cfg GatewayConfig) string {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, port, cfg.Database, sslMode,
	)
}

// Gateway is the Persistence Gateway: a pooled pgx connection plus a
// QueryBuilder that compiles parameterised insert/update/fetch/remove
// statements from column lists, per table.
type Gateway struct {
	pool *pgxpool.Pool
	qb   QueryBuilder
}

// New creates a new Gateway with a connection pool configured from cfg. Pool
// bounds default to 2 min / 5 max connections when unset.
func New(ctx context.Context, cfg GatewayConfig) (*Gateway, error) {
	dsn := DSN(cfg)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	minConns := cfg.MinConns
	if minConns <= 0 {
		minConns = defaultMinConns
	}
	poolCfg.MaxConns = int32(maxConns)
	poolCfg.MinConns = int32(minConns)

	// Prefer IPv4 when possible, but gracefully handle IPv6-only endpoints.
	poolCfg.ConnConfig.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("postgres: split host/port %q: %w", addr, err)
		}

		dialer := &net.Dialer{}

		if ip := net.ParseIP(host); ip != nil {
			if ip.To4() != nil {
				return dialer.DialContext(ctx, "tcp4", net.JoinHostPort(ip.String(), port))
			}
			return dialer.DialContext(ctx, "tcp6", net.JoinHostPort(ip.String(), port))
		}

		ipv4s, err4 := net.DefaultResolver.LookupIP(ctx, "ip4", host)
		for _, ip := range ipv4s {
			conn, dialErr := dialer.DialContext(ctx, "tcp4", net.JoinHostPort(ip.String(), port))
			if dialErr == nil {
				return conn, nil
			}
		}

		conn, err := dialer.DialContext(ctx, network, addr)
		if err == nil {
			return conn, nil
		}

		if err4 != nil {
			return nil, fmt.Errorf("postgres: dial %q failed (ipv4 lookup=%v, fallback=%w)", addr, err4, err)
		}
		return nil, fmt.Errorf("postgres: dial %q failed: %w", addr, errors.Join(err4, err))
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Gateway{pool: pool, qb: NewQueryBuilder()}, nil
}

// Pool returns the underlying connection pool, for stores that need raw
// query access beyond the generic CRUD methods below.
func (g *Gateway) Pool() *pgxpool.Pool {
	return g.pool
}

// Close shuts down the connection pool.
func (g *Gateway) Close() {
	g.pool.Close()
}

// gatewayError wraps a database error together with the SQL text that
// failed, per spec: "on any database error return a failure with the
// failing SQL textually attached; do not retry (the caller decides)".
type gatewayError struct {
	stmt string
	err  error
}

func (e *gatewayError) Error() string {
	return fmt.Sprintf("postgres: %v (stmt=%q)", e.err, e.stmt)
}

func (e *gatewayError) Unwrap() error { return e.err }

// Insert compiles and executes "INSERT INTO table (columns) VALUES (...)".
func (g *Gateway) Insert(ctx context.Context, table string, columns []string, values []any) error {
	stmt := g.qb.PrepareInsertStatement(table, columns)
	if _, err := g.pool.Exec(ctx, stmt, values...); err != nil {
		return &gatewayError{stmt: stmt, err: err}
	}
	return nil
}

// Update compiles and executes "UPDATE table SET ... WHERE pk=$N", where the
// last column/value pair is the primary-key filter.
func (g *Gateway) Update(ctx context.Context, table string, columns []string, values []any) error {
	stmt := g.qb.PrepareUpdateStatement(table, columns)
	if _, err := g.pool.Exec(ctx, stmt, values...); err != nil {
		return &gatewayError{stmt: stmt, err: err}
	}
	return nil
}

// Fetch compiles and runs "SELECT * FROM table [WHERE ...]" and returns the
// resulting rows. The caller is responsible for closing the returned Rows.
func (g *Gateway) Fetch(ctx context.Context, table string, filterColumns []string, values []any) (pgx.Rows, error) {
	stmt := g.qb.PrepareFetchStatement(table, filterColumns)
	rows, err := g.pool.Query(ctx, stmt, values...)
	if err != nil {
		return nil, &gatewayError{stmt: stmt, err: err}
	}
	return rows, nil
}

// Remove compiles and executes "DELETE FROM table [WHERE ...]".
func (g *Gateway) Remove(ctx context.Context, table string, filterColumns []string, values []any) error {
	stmt := g.qb.PrepareRemoveStatement(table, filterColumns)
	if _, err := g.pool.Exec(ctx, stmt, values...); err != nil {
		return &gatewayError{stmt: stmt, err: err}
	}
	return nil
}

// RunMigrations reads embedded SQL files from the migrations/ directory,
// applies them in lexicographic order, and tracks applied migrations in a
// schema_migrations table.
func (g *Gateway) RunMigrations(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := g.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var exists bool
		err := g.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)",
			entry.Name(),
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", entry.Name(), err)
		}
		if exists {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", entry.Name(), err)
		}

		tx, err := g.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("postgres: begin tx for %s: %w", entry.Name(), err)
		}

		if _, err := tx.Exec(ctx, string(data)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: exec migration %s: %w", entry.Name(), err)
		}

		if _, err := tx.Exec(ctx,
			"INSERT INTO schema_migrations (filename) VALUES ($1)",
			entry.Name(),
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: record migration %s: %w", entry.Name(), err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("postgres: commit migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}
