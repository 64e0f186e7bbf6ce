package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// sqlDialect holds the statements a database/sql backend runs. Values live
// in table kv, lists in table kv_list ordered by an autoincrement id.
type sqlDialect struct {
	name       string
	get        string
	put        string
	del        string
	delList    string
	appendItem string
	rangeItems string
	// lockKey, when set, runs first in every Update transaction with the
	// key as its only argument.
	lockKey string
}

// sqlKV implements KV over database/sql.
type sqlKV struct {
	db      *sql.DB
	dialect sqlDialect
}

func (s *sqlKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.dialect.get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get %s: %w", s.dialect.name, key, err)
	}
	return value, nil
}

func (s *sqlKV) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.put, key, value); err != nil {
		return fmt.Errorf("%s: failed to put %s: %w", s.dialect.name, key, err)
	}
	return nil
}

func (s *sqlKV) Delete(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: failed to begin transaction: %w", s.dialect.name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.dialect.del, key); err != nil {
		return fmt.Errorf("%s: failed to delete %s: %w", s.dialect.name, key, err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.delList, key); err != nil {
		return fmt.Errorf("%s: failed to delete list %s: %w", s.dialect.name, key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: failed to commit delete: %w", s.dialect.name, err)
	}
	return nil
}

func (s *sqlKV) Update(ctx context.Context, key string, fn func([]byte, bool) ([]byte, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: failed to begin transaction: %w", s.dialect.name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.dialect.lockKey != "" {
		if _, err := tx.ExecContext(ctx, s.dialect.lockKey, key); err != nil {
			return fmt.Errorf("%s: failed to lock %s: %w", s.dialect.name, key, err)
		}
	}

	var current []byte
	exists := true
	err = tx.QueryRowContext(ctx, s.dialect.get, key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("%s: failed to read %s: %w", s.dialect.name, key, err)
	}

	next, err := fn(current, exists)
	if err != nil {
		return err
	}

	if next == nil {
		_, err = tx.ExecContext(ctx, s.dialect.del, key)
	} else {
		_, err = tx.ExecContext(ctx, s.dialect.put, key, next)
	}
	if err != nil {
		return fmt.Errorf("%s: failed to write %s: %w", s.dialect.name, key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: failed to commit update: %w", s.dialect.name, err)
	}
	return nil
}

func (s *sqlKV) Append(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.appendItem, key, value); err != nil {
		return fmt.Errorf("%s: failed to append to %s: %w", s.dialect.name, key, err)
	}
	return nil
}

func (s *sqlKV) Range(ctx context.Context, key string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rangeItems, key)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to range %s: %w", s.dialect.name, key, err)
	}
	defer func() { _ = rows.Close() }()

	items := make([][]byte, 0)
	for rows.Next() {
		var item []byte
		if err := rows.Scan(&item); err != nil {
			return nil, fmt.Errorf("%s: failed to scan %s: %w", s.dialect.name, key, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: failed to iterate %s: %w", s.dialect.name, key, err)
	}
	return items, nil
}

func (s *sqlKV) Close() error {
	return s.db.Close()
}
