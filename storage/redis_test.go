package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// mockRedisClient implements RedisClient over an in-memory map using the
// go-redis result constructors.
type mockRedisClient struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{data: make(map[string][]byte)}
}

func (m *mockRedisClient) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = append([]byte(nil), v...)
	case string:
		m.data[key] = []byte(v)
	}
	return redis.NewStatusResult("OK", nil)
}

func (m *mockRedisClient) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(data), nil)
}

func (m *mockRedisClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			delete(m.data, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *mockRedisClient) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *mockRedisClient) Scan(_ context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return redis.NewScanCmdResult(keys, 0, nil)
}

func TestRedisBackendPutGet(t *testing.T) {
	client := newMockRedisClient()
	backend := NewRedisBackend(client)
	ctx := context.Background()

	if err := backend.Put(ctx, "sess_a", []byte("payload")); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}

	data, err := backend.Get(ctx, "sess_a")
	if err != nil {
		t.Fatalf("Get returned unexpected error: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Get = %q, want %q", data, "payload")
	}

	// Stored under the default key prefix.
	client.mu.Lock()
	_, ok := client.data["agent_session:sess_a"]
	client.mu.Unlock()
	if !ok {
		t.Error("value was not stored under the agent_session: prefix")
	}
}

func TestRedisBackendGetNotFound(t *testing.T) {
	backend := NewRedisBackend(newMockRedisClient())

	_, err := backend.Get(context.Background(), "sess_missing")
	if err == nil {
		t.Fatal("Get with unknown ID should return an error")
	}
	if !IsNotFound(err) {
		t.Errorf("error %v is not a NotFoundError", err)
	}
}

func TestRedisBackendList(t *testing.T) {
	client := newMockRedisClient()
	backend := NewRedisBackend(client)
	ctx := context.Background()

	for _, id := range []string{"sess_b", "sess_a"} {
		if err := backend.Put(ctx, id, []byte("x")); err != nil {
			t.Fatalf("Put returned unexpected error: %v", err)
		}
	}

	// Keys outside the prefix are invisible to List.
	client.Set(ctx, "other:key", "x", 0)

	ids, err := backend.List(ctx)
	if err != nil {
		t.Fatalf("List returned unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "sess_a" || ids[1] != "sess_b" {
		t.Errorf("List = %v, want [sess_a sess_b]", ids)
	}
}

func TestRedisBackendDeleteIdempotent(t *testing.T) {
	backend := NewRedisBackend(newMockRedisClient())
	ctx := context.Background()

	if err := backend.Put(ctx, "sess_a", []byte("x")); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}
	if err := backend.Delete(ctx, "sess_a"); err != nil {
		t.Fatalf("Delete returned unexpected error: %v", err)
	}
	if err := backend.Delete(ctx, "sess_a"); err != nil {
		t.Fatalf("second Delete returned unexpected error: %v", err)
	}

	ok, err := backend.Exists(ctx, "sess_a")
	if err != nil {
		t.Fatalf("Exists returned unexpected error: %v", err)
	}
	if ok {
		t.Error("Exists = true after Delete, want false")
	}
}

func TestRedisBackendCustomPrefix(t *testing.T) {
	client := newMockRedisClient()
	backend := NewRedisBackend(client, WithRedisPrefix("custom:"), WithRedisTTL(time.Hour))
	ctx := context.Background()

	if err := backend.Put(ctx, "sess_a", []byte("x")); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}

	client.mu.Lock()
	_, ok := client.data["custom:sess_a"]
	client.mu.Unlock()
	if !ok {
		t.Error("value was not stored under the custom prefix")
	}
}
