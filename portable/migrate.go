package portable

import (
	"fmt"
	"sync"
)

// MigrateFunc transforms a payload from one schema version to another.
// It must return a new payload; the input is never mutated.
type MigrateFunc func(payload map[string]any) (map[string]any, error)

type migrationKey struct {
	from, to string
}

// Migrator upgrades portable payloads between schema versions.
// Migrations are registered per (from, to) pair; asking for an
// unregistered path is an error, never a silent pass-through.
type Migrator struct {
	mu         sync.RWMutex
	migrations map[migrationKey]MigrateFunc
}

// NewMigrator returns a migrator with no registered paths.
func NewMigrator() *Migrator {
	return &Migrator{migrations: map[migrationKey]MigrateFunc{}}
}

// Register adds a migration for the (from, to) version pair, replacing
// any previous registration.
func (m *Migrator) Register(from, to string, fn MigrateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.migrations[migrationKey{from: from, to: to}] = fn
}

// DetectVersion returns the schema version declared in payload, falling
// back to the current format version when absent.
func (m *Migrator) DetectVersion(payload map[string]any) string {
	if v, ok := payload["version"].(string); ok && v != "" {
		return v
	}
	return FormatVersion
}

// Migrate upgrades payload to the target version. A payload already at
// the target is returned unchanged. An empty target means the current
// format version.
func (m *Migrator) Migrate(payload map[string]any, target string) (map[string]any, error) {
	if target == "" {
		target = FormatVersion
	}
	current := m.DetectVersion(payload)
	if current == target {
		return payload, nil
	}

	m.mu.RLock()
	fn, ok := m.migrations[migrationKey{from: current, to: target}]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no migration path from schema version %q to %q", current, target)
	}

	migrated, err := fn(payload)
	if err != nil {
		return nil, fmt.Errorf("migrate schema %q to %q: %w", current, target, err)
	}
	migrated["version"] = target
	return migrated, nil
}
