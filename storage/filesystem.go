package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileBackend persists one JSON file per session under a directory.
// Writes go through a temp file and rename so readers never observe a
// partially written record.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the directory if needed and returns a backend
// rooted at it.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, unavailable("mkdir", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(id string) string {
	return filepath.Join(b.dir, id+".json")
}

// Put atomically writes data to the session's file.
func (b *FileBackend) Put(_ context.Context, id string, data []byte) error {
	tmp, err := os.CreateTemp(b.dir, "."+id+".tmp-*")
	if err != nil {
		return unavailable("create temp", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return unavailable("write", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return unavailable("close", err)
	}
	if err := os.Rename(tmpName, b.path(id)); err != nil {
		os.Remove(tmpName)
		return unavailable("rename", err)
	}
	return nil
}

// Get reads the session's file.
func (b *FileBackend) Get(_ context.Context, id string) ([]byte, error) {
	data, err := os.ReadFile(b.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, unavailable("read", err)
	}
	return data, nil
}

// List returns the IDs of all stored session files.
func (b *FileBackend) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, unavailable("readdir", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Delete removes the session's file. A missing file is not an error.
func (b *FileBackend) Delete(_ context.Context, id string) error {
	if err := os.Remove(b.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return unavailable("remove", err)
	}
	return nil
}

// Exists reports whether the session's file is present.
func (b *FileBackend) Exists(_ context.Context, id string) (bool, error) {
	if _, err := os.Stat(b.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, unavailable("stat", err)
	}
	return true, nil
}

// ListMeta returns file metadata for all stored records.
func (b *FileBackend) ListMeta(_ context.Context) ([]Meta, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, unavailable("readdir", err)
	}

	var metas []Meta
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, unavailable(fmt.Sprintf("stat %s", name), err)
		}
		metas = append(metas, Meta{
			ID:         strings.TrimSuffix(name, ".json"),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	return metas, nil
}
