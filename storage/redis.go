package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of redis.UniversalClient used by the backend.
type RedisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisBackend persists sessions as Redis string values.
type RedisBackend struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisBackend.
type RedisOption func(*RedisBackend)

// WithRedisPrefix overrides the default key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(b *RedisBackend) { b.prefix = prefix }
}

// WithRedisTTL sets an expiry on stored sessions. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(b *RedisBackend) { b.ttl = ttl }
}

// NewRedisBackend creates a backend over an existing Redis client.
func NewRedisBackend(client RedisClient, opts ...RedisOption) *RedisBackend {
	b := &RedisBackend{
		client: client,
		prefix: "agent_session:",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ConnectRedis dials a Redis server and verifies connectivity.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, unavailable("ping", err)
	}
	return client, nil
}

func (b *RedisBackend) key(id string) string {
	return b.prefix + id
}

// Put stores data under the prefixed key.
func (b *RedisBackend) Put(ctx context.Context, id string, data []byte) error {
	if err := b.client.Set(ctx, b.key(id), data, b.ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Get retrieves the value stored under the prefixed key.
func (b *RedisBackend) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return data, nil
}

// List scans the keyspace for stored IDs.
func (b *RedisBackend) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.prefix+"*", 100).Result()
		if err != nil {
			return nil, unavailable("scan", err)
		}
		for _, key := range keys {
			seen[strings.TrimPrefix(key, b.prefix)] = struct{}{}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the value stored under the prefixed key.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	if err := b.client.Del(ctx, b.key(id)).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

// Exists reports whether a value is stored under the prefixed key.
func (b *RedisBackend) Exists(ctx context.Context, id string) (bool, error) {
	n, err := b.client.Exists(ctx, b.key(id)).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n > 0, nil
}
