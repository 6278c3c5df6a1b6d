package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	data       []byte
	modifiedAt time.Time
}

// MemoryBackend is an in-memory backend for tests and ephemeral agents.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry)}
}

// Put stores a copy of data under id.
func (b *MemoryBackend) Put(_ context.Context, id string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	b.entries[id] = memoryEntry{data: cp, modifiedAt: time.Now().UTC()}
	return nil
}

// Get retrieves a copy of the data stored under id.
func (b *MemoryBackend) Get(_ context.Context, id string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.entries[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	cp := make([]byte, len(entry.data))
	copy(cp, entry.data)
	return cp, nil
}

// List returns all stored IDs in lexical order.
func (b *MemoryBackend) List(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the data stored under id.
func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, id)
	return nil
}

// Exists reports whether data is stored under id.
func (b *MemoryBackend) Exists(_ context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.entries[id]
	return ok, nil
}

// ListMeta returns metadata for all stored records.
func (b *MemoryBackend) ListMeta(_ context.Context) ([]Meta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	metas := make([]Meta, 0, len(b.entries))
	for id, entry := range b.entries {
		metas = append(metas, Meta{ID: id, Size: int64(len(entry.data)), ModifiedAt: entry.modifiedAt})
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
	return metas, nil
}
