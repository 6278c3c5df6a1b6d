package storage

import (
	"context"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdBackend persists sessions as values in an etcd keyspace.
type EtcdBackend struct {
	kv     clientv3.KV
	prefix string
}

// EtcdOption configures an EtcdBackend.
type EtcdOption func(*EtcdBackend)

// WithEtcdPrefix overrides the default key prefix.
func WithEtcdPrefix(prefix string) EtcdOption {
	return func(b *EtcdBackend) { b.prefix = prefix }
}

// NewEtcdBackend creates a backend over an existing KV client.
func NewEtcdBackend(kv clientv3.KV, opts ...EtcdOption) *EtcdBackend {
	b := &EtcdBackend{
		kv:     kv,
		prefix: "agent_session/",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ConnectEtcd dials an etcd cluster.
func ConnectEtcd(endpoints []string) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, unavailable("connect", err)
	}
	return cli, nil
}

func (b *EtcdBackend) key(id string) string {
	return b.prefix + id
}

// Put stores data under the prefixed key.
func (b *EtcdBackend) Put(ctx context.Context, id string, data []byte) error {
	if _, err := b.kv.Put(ctx, b.key(id), string(data)); err != nil {
		return unavailable("put", err)
	}
	return nil
}

// Get retrieves the value stored under the prefixed key.
func (b *EtcdBackend) Get(ctx context.Context, id string) ([]byte, error) {
	resp, err := b.kv.Get(ctx, b.key(id))
	if err != nil {
		return nil, unavailable("get", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, &NotFoundError{ID: id}
	}
	return resp.Kvs[0].Value, nil
}

// List returns all stored IDs under the prefix.
func (b *EtcdBackend) List(ctx context.Context) ([]string, error) {
	resp, err := b.kv.Get(ctx, b.prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, unavailable("list", err)
	}

	ids := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ids = append(ids, strings.TrimPrefix(string(kv.Key), b.prefix))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the value stored under the prefixed key.
func (b *EtcdBackend) Delete(ctx context.Context, id string) error {
	if _, err := b.kv.Delete(ctx, b.key(id)); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Exists reports whether a value is stored under the prefixed key.
func (b *EtcdBackend) Exists(ctx context.Context, id string) (bool, error) {
	resp, err := b.kv.Get(ctx, b.key(id), clientv3.WithCountOnly())
	if err != nil {
		return false, unavailable("get", err)
	}
	return resp.Count > 0, nil
}
