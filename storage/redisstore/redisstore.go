package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jrsteele09/elearn-session/internal/errors"
	"github.com/jrsteele09/elearn-session/storage"
)

var _ storage.Slots = (*RedisStore)(nil)

// RedisStore keeps slots as plain string keys under a common prefix. It lets
// several processes on one device share the same session slots.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// Options configures the redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Dial connects and pings the server.
func Dial(ctx context.Context, opts Options) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(errors.ErrStorageUnavailable, "[redisstore.Dial] ping %s: %v", opts.Addr, err)
	}
	return New(client, opts.Prefix), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (rs *RedisStore) key(k string) string {
	return rs.prefix + k
}

func (rs *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := rs.client.Get(ctx, rs.key(key)).Bytes()
	if err == redis.Nil {
		return nil, errors.ErrSlotNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorageUnavailable, "[redisstore.Get] %s: %v", key, err)
	}
	return v, nil
}

func (rs *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := rs.client.Set(ctx, rs.key(key), value, 0).Err(); err != nil {
		return errors.Wrapf(errors.ErrStorageUnavailable, "[redisstore.Set] %s: %v", key, err)
	}
	return nil
}

// SetMany uses MSET, which redis applies atomically.
func (rs *RedisStore) SetMany(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	pairs := make([]any, 0, len(entries)*2)
	for k, v := range entries {
		pairs = append(pairs, rs.key(k), v)
	}
	if err := rs.client.MSet(ctx, pairs...).Err(); err != nil {
		return errors.Wrapf(errors.ErrStorageUnavailable, "[redisstore.SetMany] %v", err)
	}
	return nil
}

// Delete issues a single DEL for all keys.
func (rs *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = rs.key(k)
	}
	if err := rs.client.Del(ctx, full...).Err(); err != nil {
		return errors.Wrapf(errors.ErrStorageUnavailable, "[redisstore.Delete] %v", err)
	}
	return nil
}

func (rs *RedisStore) Close() error {
	if err := rs.client.Close(); err != nil {
		return fmt.Errorf("[redisstore.Close] %w", err)
	}
	return nil
}
