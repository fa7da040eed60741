package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS flagship_config_cache (
	cache_key  TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	selectPayloadSQL = `SELECT payload FROM flagship_config_cache WHERE cache_key = $1`
	upsertPayloadSQL = `INSERT INTO flagship_config_cache (cache_key, payload, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (cache_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
)

// querier is satisfied by *pgxpool.Pool, pgx.Conn and pgxmock pools.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a PostgreSQL implementation of the Store interface.
// Payloads live in the flagship_config_cache table, one row per cache key.
type PostgresStore struct {
	db querier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the cache table when it does not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, createTableSQL)
	return err
}

// Get reads the payload stored under key.
func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var payload string
	err := p.db.QueryRow(ctx, selectPayloadSQL, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// Set upserts the payload for key.
func (p *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.db.Exec(ctx, upsertPayloadSQL, key, string(value))
	return err
}

// Close closes the underlying pool when it owns one.
func (p *PostgresStore) Close() error {
	if c, ok := p.db.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}
