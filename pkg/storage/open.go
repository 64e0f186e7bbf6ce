package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config selects and configures a KV backend.
type Config struct {
	Backend string `yaml:"backend"`

	// SQLite
	Path string `yaml:"path,omitempty"`

	// Redis
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`

	// Postgres
	DSN string `yaml:"dsn,omitempty"`
}

// Open creates the configured KV. Relative SQLite paths resolve against
// baseDir.
func Open(ctx context.Context, cfg Config, baseDir string) (KV, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = "decisionflow.db"
		}
		if !filepath.IsAbs(path) && path != ":memory:" {
			path = filepath.Join(baseDir, path)
		}
		return NewSQLiteKV(path)
	case BackendMemory:
		return NewMemoryKV(), nil
	case BackendRedis:
		if cfg.Addr == "" {
			return nil, fmt.Errorf("redis backend requires addr")
		}
		return OpenRedis(ctx, &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}, cfg.Prefix)
	case BackendPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires dsn")
		}
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
