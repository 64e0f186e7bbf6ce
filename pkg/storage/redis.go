package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// maxUpdateRetries bounds optimistic retries when a watched key changes
// under an Update.
const maxUpdateRetries = 16

// RedisKV is a KV backed by Redis. Values are plain strings and lists are
// Redis lists, all under a common key prefix:
//
//	<prefix><key>  => STRING (Get/Put/Update) or LIST (Append/Range)
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV creates a RedisKV. prefix is optional but recommended (e.g.
// "decisionflow:").
func NewRedisKV(client *redis.Client, prefix string) *RedisKV {
	if prefix == "" {
		prefix = "decisionflow:"
	}
	return &RedisKV{client: client, prefix: prefix}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, opts *redis.Options, prefix string) (*RedisKV, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return NewRedisKV(client, prefix), nil
}

func (r *RedisKV) key(key string) string {
	return r.prefix + key
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get %s: %w", key, err)
	}
	return data, nil
}

func (r *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis: failed to put %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete %s: %w", key, err)
	}
	return nil
}

// Update runs fn under WATCH and commits with MULTI/EXEC, retrying when
// another client modified the key in between.
func (r *RedisKV) Update(ctx context.Context, key string, fn func([]byte, bool) ([]byte, error)) error {
	full := r.key(key)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, full).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
			current = nil
		} else if err != nil {
			return err
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, full)
			} else {
				pipe.Set(ctx, full, next, 0)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, full)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis: update of %s kept conflicting after %d attempts", key, maxUpdateRetries)
}

func (r *RedisKV) Append(ctx context.Context, key string, value []byte) error {
	if err := r.client.RPush(ctx, r.key(key), value).Err(); err != nil {
		return fmt.Errorf("redis: failed to append to %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Range(ctx context.Context, key string) ([][]byte, error) {
	values, err := r.client.LRange(ctx, r.key(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to range %s: %w", key, err)
	}
	items := make([][]byte, len(values))
	for i, v := range values {
		items[i] = []byte(v)
	}
	return items, nil
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}
