package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trends-importer/internal/config"
)

//go:embed schema.sql
var schema string

// Querier is the subset of pgx shared by pools, connections and transactions
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner starts a transaction. *pgxpool.Pool, *pgxpool.Conn and pgx.Tx
// (as a savepoint) all satisfy it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxLifetime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "trends-importer"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying connection pool for custom queries
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Acquire reserves one connection for a whole run. Staging tables are
// temporary and only visible to the session that created them.
func (db *DB) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, Classify("acquire connection", err)
	}
	return conn, nil
}

// Init loads the schema
func (db *DB) Init(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return Classify("load schema", err)
	}
	return nil
}

// InTx runs fn inside a transaction on q, committing when fn succeeds
func InTx(ctx context.Context, q Beginner, fn func(tx pgx.Tx) error) error {
	tx, err := q.Begin(ctx)
	if err != nil {
		return Classify("begin", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return Classify("commit", err)
	}
	return nil
}
