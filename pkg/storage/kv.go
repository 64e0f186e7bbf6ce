// Package storage persists flows, execution state and audit logs on a
// pluggable key-value substrate.
package storage

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by KV.Get for a missing key.
var ErrKeyNotFound = errors.New("key not found")

// KV is the durable substrate every store is built on. A key holds either a
// single value (Get/Put/Update) or an append-only list (Append/Range).
// Implementations must be safe for concurrent use.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes the value and any list stored under key. Deleting a
	// missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Update atomically replaces the value under key with fn's result. fn
	// receives the current value and whether it exists; returning a nil
	// slice deletes the key, returning an error aborts without writing.
	// fn may run more than once and must not call back into the KV.
	Update(ctx context.Context, key string, fn func(current []byte, exists bool) ([]byte, error)) error
	Append(ctx context.Context, key string, value []byte) error
	// Range returns the list under key in insertion order; empty if none.
	Range(ctx context.Context, key string) ([][]byte, error)
	Close() error
}
