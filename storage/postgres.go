package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPool is the subset of pgxpool.Pool used by the backend.
type PostgresPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresBackend persists sessions in a PostgreSQL table.
type PostgresBackend struct {
	pool  PostgresPool
	table string
}

// PostgresOption configures a PostgresBackend.
type PostgresOption func(*PostgresBackend)

// WithPostgresTable overrides the default table name.
func WithPostgresTable(name string) PostgresOption {
	return func(b *PostgresBackend) { b.table = name }
}

// NewPostgresBackend creates a backend over an existing pool and prepares
// the schema.
func NewPostgresBackend(ctx context.Context, pool PostgresPool, opts ...PostgresOption) (*PostgresBackend, error) {
	b := &PostgresBackend{pool: pool, table: "agent_sessions"}
	for _, opt := range opts {
		opt(b)
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id         TEXT PRIMARY KEY,
		payload    BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, b.table)
	if _, err := b.pool.Exec(ctx, schema); err != nil {
		return nil, unavailable("schema", err)
	}
	return b, nil
}

// ConnectPostgres opens a pgx pool for the given connection string and
// verifies connectivity.
func ConnectPostgres(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("ping", err)
	}
	return pool, nil
}

// Put stores data under id, replacing any existing row.
func (b *PostgresBackend) Put(ctx context.Context, id string, data []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, payload, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`, b.table)
	if _, err := b.pool.Exec(ctx, query, id, data); err != nil {
		return unavailable("insert", err)
	}
	return nil
}

// Get retrieves the payload stored under id.
func (b *PostgresBackend) Get(ctx context.Context, id string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1`, b.table)
	var data []byte
	err := b.pool.QueryRow(ctx, query, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, unavailable("select", err)
	}
	return data, nil
}

// List returns all stored IDs in lexical order.
func (b *PostgresBackend) List(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, b.table)
	rows, err := b.pool.Query(ctx, query)
	if err != nil {
		return nil, unavailable("select", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rows", err)
	}
	return ids, nil
}

// Delete removes the row stored under id.
func (b *PostgresBackend) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, b.table)
	if _, err := b.pool.Exec(ctx, query, id); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Exists reports whether a row is stored under id.
func (b *PostgresBackend) Exists(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, b.table)
	var exists bool
	if err := b.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, unavailable("select", err)
	}
	return exists, nil
}
