// Package postgres journals trades and audit events in PostgreSQL via pgx.
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
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ClientConfig holds connection parameters for the PostgreSQL client.
type ClientConfig struct {
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

// DSN builds a PostgreSQL connection string from the given config. An
// explicit DSN wins over the individual fields.
func DSN(cfg ClientConfig) string {
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

// Client wraps a pgxpool.Pool and manages migrations.
type Client struct {
	pool *pgxpool.Pool
}

// New creates a Client with a connection pool configured from cfg and
// verifies connectivity.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	poolCfg.ConnConfig.DialFunc = dialPreferIPv4

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Client{pool: pool}, nil
}

// dialPreferIPv4 tries the host's IPv4 addresses first and falls back to
// the system dialer for IPv6-only endpoints.
func dialPreferIPv4(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("postgres: split host/port %q: %w", addr, err)
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	if ip := net.ParseIP(host); ip != nil {
		family := "tcp6"
		if ip.To4() != nil {
			family = "tcp4"
		}
		return dialer.DialContext(ctx, family, net.JoinHostPort(ip.String(), port))
	}

	ipv4s, err4 := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	for _, ip := range ipv4s {
		if conn, dialErr := dialer.DialContext(ctx, "tcp4", net.JoinHostPort(ip.String(), port)); dialErr == nil {
			return conn, nil
		}
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err == nil {
		return conn, nil
	}
	return nil, fmt.Errorf("postgres: dial %q failed: %w", addr, errors.Join(err4, err))
}

// Pool returns the underlying connection pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Ping checks the database connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// RunMigrations applies the embedded migrations/*.sql files in lexicographic
// order, each in its own transaction, and records them in schema_migrations.
func (c *Client) RunMigrations(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := c.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", err)
	}

	names, err := migrationNames()
	if err != nil {
		return err
	}

	for _, name := range names {
		var exists bool
		err := c.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)", name,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", name, err)
		}
		if exists {
			continue
		}
		if err := c.applyMigration(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) applyMigration(ctx context.Context, name string) error {
	data, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("postgres: read migration %s: %w", name, err)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx for %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(data)); err != nil {
		return fmt.Errorf("postgres: exec migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", name); err != nil {
		return fmt.Errorf("postgres: record migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit migration %s: %w", name, err)
	}
	return nil
}

// migrationNames lists the embedded .sql files in apply order.
func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// listQuery appends the time window, ordering and pagination of opts to a
// base query whose WHERE clause is already open. args holds the base query's
// own placeholders.
func listQuery(base, timeCol string, args []any, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		fmt.Fprintf(&b, " AND %s >= %s", timeCol, next(*opts.Since))
	}
	if opts.Until != nil {
		fmt.Fprintf(&b, " AND %s <= %s", timeCol, next(*opts.Until))
	}
	fmt.Fprintf(&b, " ORDER BY %s DESC", timeCol)
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %s", next(opts.Limit))
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %s", next(opts.Offset))
	}
	return b.String(), args
}
