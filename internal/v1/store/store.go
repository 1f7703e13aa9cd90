// Package store is the relational gateway: pool lifecycle, schema
// migrations, and the room/message repositories.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/driftroom/driftroom/internal/v1/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	maxConns       = 20
	minConns       = 5
	connectTimeout = 3 * time.Second
	idleTimeout    = 300 * time.Second
)

// SQLSTATE 3D000: invalid_catalog_name, the database does not exist.
const sqlstateUnknownDatabase = "3D000"

// ErrNotFound reports a lookup that matched nothing.
var ErrNotFound = errors.New("store: not found")

// Gateway owns the connection pool and exposes the repositories plus the
// transactional flows built on top of them.
type Gateway struct {
	pool *pgxpool.Pool

	Rooms    RoomRepo
	Messages MessageRepo
}

// Connect opens the pool, creating the database and applying migrations
// when the DSN points at a database that does not exist yet. Any other
// connection failure is returned as-is so startup fails fast.
func Connect(ctx context.Context, dsn string) (*Gateway, error) {
	return connect(ctx, dsn, minConns)
}

func connect(ctx context.Context, dsn string, minIdle int32) (*Gateway, error) {
	g, err := open(ctx, dsn, minIdle)
	if isUnknownDatabase(err) {
		logging.Info(ctx, "database does not exist, creating it")
		if cerr := createDatabase(ctx, dsn); cerr != nil {
			return nil, cerr
		}
		g, err = open(ctx, dsn, minIdle)
	}
	if err != nil {
		return nil, err
	}

	if err := g.migrate(ctx); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

func open(ctx context.Context, dsn string, minIdle int32) (*Gateway, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minIdle
	cfg.MaxConnIdleTime = idleTimeout
	cfg.ConnConfig.ConnectTimeout = connectTimeout
	// Liveness probe before a pooled connection is handed out.
	cfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		return conn.Ping(ctx) == nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logging.Info(ctx, "connected to database", zap.String("database", cfg.ConnConfig.Database))
	return &Gateway{pool: pool}, nil
}

func isUnknownDatabase(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlstateUnknownDatabase
}

// createDatabase connects to the admin database on the same server and
// issues CREATE DATABASE for the name the DSN points at.
func createDatabase(ctx context.Context, dsn string) error {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("invalid database DSN: %w", err)
	}
	name := cfg.Database
	if name == "" {
		return errors.New("database DSN names no database")
	}

	cfg.Database = "postgres"
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to admin database: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}

	logging.Info(ctx, "created database", zap.String("database", name))
	return nil
}

// migrate applies the embedded migrations in filename order inside one
// transaction. Statements are idempotent, so re-running on boot is safe.
func (g *Gateway) migrate(ctx context.Context) error {
	names, err := migrationFiles()
	if err != nil {
		return err
	}

	tx, err := g.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migrations: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, name := range names {
		sql, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}

	logging.Info(ctx, "migrations applied", zap.Int("count", len(names)))
	return nil
}

func migrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Pool exposes the underlying pool for autocommit queries.
func (g *Gateway) Pool() *pgxpool.Pool {
	return g.pool
}

// Ping verifies database connectivity. Used by the readiness probe.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

// Close drains the pool.
func (g *Gateway) Close() {
	g.pool.Close()
}
