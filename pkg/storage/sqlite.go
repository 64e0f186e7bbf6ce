package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var sqliteDialect = sqlDialect{
	name: "sqlite",
	get:  "SELECT value FROM kv WHERE key = ?",
	put: `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	del:        "DELETE FROM kv WHERE key = ?",
	delList:    "DELETE FROM kv_list WHERE key = ?",
	appendItem: "INSERT INTO kv_list (key, value) VALUES (?, ?)",
	rangeItems: "SELECT value FROM kv_list WHERE key = ? ORDER BY id",
}

// SQLiteKV is a KV stored in a single SQLite database file.
type SQLiteKV struct {
	sqlKV
}

// NewSQLiteKV opens (creating if needed) the database at dbPath and applies
// pending migrations.
func NewSQLiteKV(dbPath string) (*SQLiteKV, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection; it also serialises
	// Update transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := InitializeDatabase(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &SQLiteKV{sqlKV{db: db, dialect: sqliteDialect}}, nil
}
