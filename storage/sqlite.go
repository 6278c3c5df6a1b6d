package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend persists sessions in an embedded SQLite database.
// The driver is pure Go; no cgo is required.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at path and prepares the
// schema. Use ":memory:" for an ephemeral database.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, unavailable("open", err)
	}
	b := &SQLiteBackend{db: db}
	if err := b.init(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) init() error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := b.db.Exec(pragma); err != nil {
			return unavailable("pragma", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return unavailable("schema", err)
	}
	return nil
}

// Put stores data under id, replacing any existing row.
func (b *SQLiteBackend) Put(ctx context.Context, id string, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO sessions (id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		id, data, time.Now().UnixMilli())
	if err != nil {
		return unavailable("insert", err)
	}
	return nil
}

// Get retrieves the payload stored under id.
func (b *SQLiteBackend) Get(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT payload FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, unavailable("select", err)
	}
	return data, nil
}

// List returns all stored IDs in lexical order.
func (b *SQLiteBackend) List(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id`)
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
func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Exists reports whether a row is stored under id.
func (b *SQLiteBackend) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("select", err)
	}
	return true, nil
}

// ListMeta returns row metadata without payloads.
func (b *SQLiteBackend) ListMeta(ctx context.Context) ([]Meta, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id, LENGTH(payload), updated_at FROM sessions ORDER BY id`)
	if err != nil {
		return nil, unavailable("select", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var (
			meta Meta
			ms   int64
		)
		if err := rows.Scan(&meta.ID, &meta.Size, &ms); err != nil {
			return nil, unavailable("scan", err)
		}
		meta.ModifiedAt = time.UnixMilli(ms).UTC()
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rows", err)
	}
	return metas, nil
}

// Close releases the underlying database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
