package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/invincible-jha/agent-session-linker/storage"
)

// CheckpointKeyPrefix marks backend keys that hold checkpoint snapshots
// rather than live sessions. The manager hides such keys from listings.
const CheckpointKeyPrefix = "__checkpoint__"

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 50 * time.Millisecond
	listConcurrency    = 8
)

// Manager creates, persists, loads, lists, and deletes session records.
// Saves on the same session id are serialized through a per-id lock, and a
// stale writer is rejected with ConflictError instead of silently winning.
// Transient backend failures are retried with bounded backoff.
type Manager struct {
	backend      storage.Backend
	codec        *Serializer
	defaultAgent string
	maxAttempts  int
	retryBase    time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	loads singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSerializer replaces the default checksum-validating serializer.
func WithSerializer(s *Serializer) ManagerOption {
	return func(m *Manager) { m.codec = s }
}

// WithDefaultAgent sets the agent id used when Create receives an empty one.
func WithDefaultAgent(agentID string) ManagerOption {
	return func(m *Manager) { m.defaultAgent = agentID }
}

// WithRetryPolicy sets how many attempts each backend operation gets and
// the initial backoff delay, which doubles per attempt. Retries apply only
// to storage unavailability.
func WithRetryPolicy(attempts int, backoff time.Duration) ManagerOption {
	return func(m *Manager) {
		if attempts > 0 {
			m.maxAttempts = attempts
		}
		if backoff > 0 {
			m.retryBase = backoff
		}
	}
}

// NewManager returns a manager persisting through the given backend.
func NewManager(backend storage.Backend, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend:      backend,
		codec:        NewSerializer(),
		defaultAgent: "default",
		maxAttempts:  defaultMaxAttempts,
		retryBase:    defaultRetryBase,
		locks:        map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateOption customizes a record built by Create.
type CreateOption func(*Record)

// WithParent links the new session to a prior one. Create verifies the
// parent exists.
func WithParent(parentID string) CreateOption {
	return func(r *Record) { r.ParentSessionID = parentID }
}

// WithPreferences seeds the new session's preference map.
func WithPreferences(prefs map[string]string) CreateOption {
	return func(r *Record) {
		for k, v := range prefs {
			r.Preferences[k] = v
		}
	}
}

// Create builds a fresh session for agentID, persists it, and returns it.
// An empty agentID falls back to the manager's default agent.
func (m *Manager) Create(ctx context.Context, agentID string, opts ...CreateOption) (*Record, error) {
	if agentID == "" {
		agentID = m.defaultAgent
	}
	rec := NewRecord(agentID)
	for _, opt := range opts {
		opt(rec)
	}
	if rec.ParentSessionID != "" {
		ok, err := m.Exists(ctx, rec.ParentSessionID)
		if err != nil {
			return nil, fmt.Errorf("create session: check parent: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("create session: parent: %w", &storage.NotFoundError{ID: rec.ParentSessionID})
		}
	}
	if _, err := m.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Save persists rec through the backend. It refreshes updated_at (strictly
// after its previous value), recomputes the checksum, and writes one blob.
// When the stored version no longer matches the checksum rec carried from
// its last load or save, Save fails with ConflictError and writes nothing.
func (m *Manager) Save(ctx context.Context, rec *Record) (*Record, error) {
	if rec == nil {
		return nil, errors.New("save session: nil record")
	}
	lock := m.lockFor(rec.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.checkConflict(ctx, rec); err != nil {
		return nil, err
	}

	prevUpdatedAt := rec.UpdatedAt
	prevChecksum := rec.Checksum
	now := time.Now().UTC()
	if !now.After(rec.UpdatedAt) {
		now = rec.UpdatedAt.Add(time.Nanosecond)
	}
	rec.UpdatedAt = now

	data, err := m.codec.Encode(rec)
	if err != nil {
		rec.UpdatedAt = prevUpdatedAt
		rec.Checksum = prevChecksum
		return nil, err
	}
	err = m.withRetry(ctx, func() error {
		return m.backend.Put(ctx, rec.SessionID, data)
	})
	if err != nil {
		// Encode advanced the record's checksum and timestamp. Roll them
		// back so a retried Save still matches the stored version.
		rec.UpdatedAt = prevUpdatedAt
		rec.Checksum = prevChecksum
		return nil, fmt.Errorf("save session %s: %w", rec.SessionID, err)
	}
	return rec, nil
}

// checkConflict compares the checksum rec carried in from its last
// load/save against the currently stored version. A missing stored record
// is fine (first save); an undecodable stored record never blocks repair.
func (m *Manager) checkConflict(ctx context.Context, rec *Record) error {
	data, err := m.fetch(ctx, rec.SessionID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("save session %s: read current: %w", rec.SessionID, err)
	}
	stored, err := m.codec.Decode(data)
	if err != nil {
		return nil
	}
	if stored.Checksum != rec.Checksum {
		return &ConflictError{SessionID: rec.SessionID}
	}
	return nil
}

// Load reads, decodes, and integrity-checks a session. Identical
// concurrent loads are collapsed into one backend read; every caller gets
// its own copy.
func (m *Manager) Load(ctx context.Context, id string) (*Record, error) {
	v, err, _ := m.loads.Do(id, func() (any, error) {
		data, err := m.fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		return m.codec.Decode(data)
	})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return v.(*Record).Clone(), nil
}

// Delete removes a session. Unlike backend deletes, deleting an unknown
// session is an error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	ok, err := m.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if !ok {
		return &storage.NotFoundError{ID: id}
	}
	err = m.withRetry(ctx, func() error {
		return m.backend.Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Exists reports whether a session id is present in the backend.
func (m *Manager) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := m.withRetry(ctx, func() error {
		var err error
		ok, err = m.backend.Exists(ctx, id)
		return err
	})
	return ok, err
}

// ContinueSession loads parentID and creates a persisted child session
// inheriting the parent's agent id, preferences, entities, and every task
// that has not reached a terminal state.
func (m *Manager) ContinueSession(ctx context.Context, parentID string) (*Record, error) {
	parent, err := m.Load(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("continue session: %w", err)
	}
	child := NewRecord(parent.AgentID)
	child.ParentSessionID = parentID
	child.Preferences = parent.Preferences
	child.Entities = parent.Entities
	for _, task := range parent.Tasks {
		if task.Status.Terminal() {
			continue
		}
		child.Tasks = append(child.Tasks, task)
	}
	if _, err := m.Save(ctx, child); err != nil {
		return nil, err
	}
	return child, nil
}

// ListOption narrows List and Stats results.
type ListOption func(*listOptions)

type listOptions struct {
	agentID string
	limit   int
}

// ForAgent keeps only sessions owned by agentID.
func ForAgent(agentID string) ListOption {
	return func(o *listOptions) { o.agentID = agentID }
}

// WithLimit caps the number of returned summaries.
func WithLimit(n int) ListOption {
	return func(o *listOptions) { o.limit = n }
}

// List returns summaries of stored sessions in id order. Checkpoint blobs
// are excluded. Entries that vanished or fail to decode are skipped;
// loading such an id directly still surfaces the underlying error.
func (m *Manager) List(ctx context.Context, opts ...ListOption) ([]Summary, error) {
	var lo listOptions
	for _, opt := range opts {
		opt(&lo)
	}
	records, err := m.scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	summaries := make([]Summary, 0, len(records))
	for _, rec := range records {
		if lo.agentID != "" && rec.AgentID != lo.agentID {
			continue
		}
		summaries = append(summaries, Summarize(rec))
	}
	if lo.limit > 0 && len(summaries) > lo.limit {
		summaries = summaries[:lo.limit]
	}
	return summaries, nil
}

// Stats aggregates counts, token totals, and cost across stored sessions,
// optionally narrowed to one agent. Backends that enumerate record
// metadata also contribute the stored byte footprint.
func (m *Manager) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	var lo listOptions
	for _, opt := range opts {
		opt(&lo)
	}
	records, err := m.scan(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("session stats: %w", err)
	}
	var stats Stats
	agents := map[string]struct{}{}
	for _, rec := range records {
		if lo.agentID != "" && rec.AgentID != lo.agentID {
			continue
		}
		stats.TotalSessions++
		stats.TotalSegments += len(rec.Segments)
		stats.TotalTokens += rec.TotalTokens()
		stats.TotalTasks += len(rec.Tasks)
		stats.TotalEntities += len(rec.Entities)
		stats.TotalCostUSD += rec.TotalCostUSD
		agents[rec.AgentID] = struct{}{}
		if stats.OldestCreatedAt.IsZero() || rec.CreatedAt.Before(stats.OldestCreatedAt) {
			stats.OldestCreatedAt = rec.CreatedAt
		}
		if rec.UpdatedAt.After(stats.NewestUpdatedAt) {
			stats.NewestUpdatedAt = rec.UpdatedAt
		}
	}
	if lister, ok := m.backend.(storage.MetaLister); ok && lo.agentID == "" {
		metas, err := lister.ListMeta(ctx)
		if err != nil {
			return Stats{}, fmt.Errorf("session stats: %w", err)
		}
		for _, meta := range metas {
			if isCheckpointKey(meta.ID) {
				continue
			}
			stats.StoredBytes += meta.Size
		}
	}
	stats.TotalCostUSD = roundCost(stats.TotalCostUSD)
	stats.Agents = make([]string, 0, len(agents))
	for agent := range agents {
		stats.Agents = append(stats.Agents, agent)
	}
	sort.Strings(stats.Agents)
	return stats, nil
}

// scan lists session ids and decodes each record with bounded parallelism.
// Checkpoint keys are filtered out. Results keep id order.
func (m *Manager) scan(ctx context.Context) ([]*Record, error) {
	var ids []string
	err := m.withRetry(ctx, func() error {
		var err error
		ids, err = m.backend.List(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	live := ids[:0]
	for _, id := range ids {
		if !isCheckpointKey(id) {
			live = append(live, id)
		}
	}
	sort.Strings(live)

	records := make([]*Record, len(live))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, id := range live {
		g.Go(func() error {
			data, err := m.fetch(gctx, id)
			if err != nil {
				if storage.IsNotFound(err) {
					return nil
				}
				return err
			}
			rec, err := m.codec.Decode(data)
			if err != nil {
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := records[:0]
	for _, rec := range records {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Manager) fetch(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := m.withRetry(ctx, func() error {
		var err error
		data, err = m.backend.Get(ctx, id)
		return err
	})
	return data, err
}

// withRetry runs fn up to the configured attempt count, doubling the
// backoff between attempts. Only storage unavailability is retried.
func (m *Manager) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := m.retryBase
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		err = fn()
		if err == nil || !storage.IsUnavailable(err) {
			return err
		}
		if attempt == m.maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

func isCheckpointKey(id string) bool {
	return len(id) >= len(CheckpointKeyPrefix) && id[:len(CheckpointKeyPrefix)] == CheckpointKeyPrefix
}
