package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // Postgres driver
)

var postgresDialect = sqlDialect{
	name: "postgres",
	get:  "SELECT value FROM kv WHERE key = $1",
	put: `INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
	del:        "DELETE FROM kv WHERE key = $1",
	delList:    "DELETE FROM kv_list WHERE key = $1",
	appendItem: "INSERT INTO kv_list (key, value) VALUES ($1, $2)",
	rangeItems: "SELECT value FROM kv_list WHERE key = $1 ORDER BY id",
	// Row locks cannot cover a key that does not exist yet.
	lockKey: "SELECT pg_advisory_xact_lock(hashtext($1))",
}

// postgresSchema is applied idempotently by Migrate.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS kv_list (
		id BIGSERIAL PRIMARY KEY,
		key TEXT NOT NULL,
		value BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	"CREATE INDEX IF NOT EXISTS idx_kv_list_key ON kv_list (key, id)",
}

// PostgresKV is a KV stored in PostgreSQL.
type PostgresKV struct {
	sqlKV
}

// NewPostgresKV wraps an open database handle. Call Migrate before first
// use against a fresh database.
func NewPostgresKV(db *sql.DB) *PostgresKV {
	return &PostgresKV{sqlKV{db: db, dialect: postgresDialect}}
}

// OpenPostgres connects with dsn, verifies the connection and applies the
// schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresKV, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	kv := NewPostgresKV(db)
	if err := kv.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return kv, nil
}

// Migrate creates the tables if they do not exist.
func (p *PostgresKV) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: failed to apply schema: %w", err)
		}
	}
	return nil
}
