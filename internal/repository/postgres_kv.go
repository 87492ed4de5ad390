package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresKV keeps collections in a single key/value table:
//
//	CREATE TABLE kv_store (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW())
//
// Each Set is a single upsert, never a multi-key transaction.
type PostgresKV struct {
	db *sqlx.DB
}

// NewPostgresKV constructs the store.
func NewPostgresKV(db *sqlx.DB) *PostgresKV {
	return &PostgresKV{db: db}
}

const createKVTable = `CREATE TABLE IF NOT EXISTS kv_store (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureSchema creates the backing table if missing.
func (p *PostgresKV) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createKVTable); err != nil {
		return fmt.Errorf("create kv_store: %w", err)
	}
	return nil
}

// Get reads the stored value.
func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := p.db.GetContext(ctx, &value, `SELECT value FROM kv_store WHERE key = $1`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return []byte(value), nil
}

// Set upserts the value.
func (p *PostgresKV) Set(ctx context.Context, key string, value []byte) error {
	const query = `INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	if _, err := p.db.ExecContext(ctx, query, key, string(value)); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}
