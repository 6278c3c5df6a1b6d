package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invincible-jha/agent-session-linker/session"
	"github.com/invincible-jha/agent-session-linker/storage"
)

// Checkpoint retention and cadence defaults.
const (
	DefaultMaxCheckpoints   = 10
	DefaultCheckpointTurns  = 10
	DefaultCheckpointPeriod = 15 * time.Minute

	indexKeySuffix      = "__index__"
	checkpointMarkerKey = "checkpoint"
)

// Checkpoint is the metadata kept for one session snapshot.
type Checkpoint struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	SessionID    string    `json:"session_id"`
	Label        string    `json:"label"`
	Sequence     int       `json:"sequence"`
	CreatedAt    time.Time `json:"created_at"`
	SegmentCount int       `json:"segment_count"`
	TokenCount   int       `json:"token_count"`
}

// CheckpointStore snapshots session records into the same backend that
// holds live sessions, under keys the session manager hides from
// listings. Each session keeps at most a fixed number of checkpoints,
// evicting the oldest, plus an index blob describing them.
type CheckpointStore struct {
	backend storage.Backend
	codec   *session.Serializer
	max     int
	turns   int
	period  time.Duration
	now     func() time.Time
}

// CheckpointOption configures a CheckpointStore.
type CheckpointOption func(*CheckpointStore)

// WithMaxCheckpoints sets how many snapshots each session retains.
// Default 10.
func WithMaxCheckpoints(n int) CheckpointOption {
	return func(s *CheckpointStore) { s.max = n }
}

// WithCheckpointTurns sets how many new segments make a checkpoint due.
// Default 10.
func WithCheckpointTurns(n int) CheckpointOption {
	return func(s *CheckpointStore) { s.turns = n }
}

// WithCheckpointPeriod sets the elapsed time after which a checkpoint is
// due regardless of turn count. Default 15 minutes.
func WithCheckpointPeriod(d time.Duration) CheckpointOption {
	return func(s *CheckpointStore) { s.period = d }
}

// NewCheckpointStore returns a store snapshotting into backend.
func NewCheckpointStore(backend storage.Backend, opts ...CheckpointOption) *CheckpointStore {
	s := &CheckpointStore{
		backend: backend,
		codec:   session.NewSerializer(),
		max:     DefaultMaxCheckpoints,
		turns:   DefaultCheckpointTurns,
		period:  DefaultCheckpointPeriod,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func checkpointKey(sessionID string, sequence int) string {
	return fmt.Sprintf("%s%s__%04d", session.CheckpointKeyPrefix, sessionID, sequence)
}

func indexKey(sessionID string) string {
	return session.CheckpointKeyPrefix + sessionID + indexKeySuffix
}

// Create snapshots rec under the next checkpoint key, evicting the
// oldest snapshot when the session is at capacity. The snapshot is a
// full session record tagged with a checkpoint marker in preferences;
// the live record is not modified. An empty label defaults to the
// creation timestamp.
func (s *CheckpointStore) Create(ctx context.Context, rec *session.Record, label string) (*Checkpoint, error) {
	if rec == nil {
		return nil, fmt.Errorf("checkpoint: nil record")
	}
	index, err := s.loadIndex(ctx, rec.SessionID)
	if err != nil {
		return nil, err
	}

	sequence := 0
	if len(index) > 0 {
		sequence = index[len(index)-1].Sequence + 1
	}

	for len(index) >= s.max && len(index) > 0 {
		oldest := index[0]
		if err := s.backend.Delete(ctx, oldest.Key); err != nil && !storage.IsNotFound(err) {
			return nil, fmt.Errorf("evict checkpoint %s: %w", oldest.Key, err)
		}
		index = index[1:]
	}

	now := s.now().UTC()
	cp := Checkpoint{
		ID:           session.NewCheckpointID(),
		Key:          checkpointKey(rec.SessionID, sequence),
		SessionID:    rec.SessionID,
		Label:        label,
		Sequence:     sequence,
		CreatedAt:    now,
		SegmentCount: len(rec.Segments),
		TokenCount:   rec.TotalTokens(),
	}
	if cp.Label == "" {
		cp.Label = now.Format(time.RFC3339)
	}

	snapshot := rec.Clone()
	snapshot.Preferences[checkpointMarkerKey] = cp.ID
	data, err := s.codec.Encode(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint for session %s: %w", rec.SessionID, err)
	}
	if err := s.backend.Put(ctx, cp.Key, data); err != nil {
		return nil, fmt.Errorf("store checkpoint %s: %w", cp.Key, err)
	}

	index = append(index, cp)
	if err := s.saveIndex(ctx, rec.SessionID, index); err != nil {
		return nil, err
	}
	return &cp, nil
}

// List returns the session's checkpoints, oldest first.
func (s *CheckpointStore) List(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	return s.loadIndex(ctx, sessionID)
}

// Restore loads the snapshot stored under key and returns it as a record
// ready to save: the checkpoint marker is stripped and the conflict
// baseline is aligned with the currently stored live record, so passing
// the result to the session manager's Save rolls the session back.
func (s *CheckpointStore) Restore(ctx context.Context, key string) (*session.Record, error) {
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint %s: %w", key, err)
	}
	rec, err := s.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint %s: %w", key, err)
	}
	delete(rec.Preferences, checkpointMarkerKey)

	rec.Checksum = ""
	if live, err := s.backend.Get(ctx, rec.SessionID); err == nil {
		if current, err := s.codec.Decode(live); err == nil {
			rec.Checksum = current.Checksum
		}
	} else if !storage.IsNotFound(err) {
		return nil, fmt.Errorf("restore checkpoint %s: read live session: %w", key, err)
	}
	return rec, nil
}

// Delete removes one checkpoint and drops it from the session's index.
func (s *CheckpointStore) Delete(ctx context.Context, sessionID, key string) error {
	index, err := s.loadIndex(ctx, sessionID)
	if err != nil {
		return err
	}
	found := false
	kept := index[:0]
	for _, cp := range index {
		if cp.Key == key {
			found = true
			continue
		}
		kept = append(kept, cp)
	}
	if !found {
		return &storage.NotFoundError{ID: key}
	}
	if err := s.backend.Delete(ctx, key); err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("delete checkpoint %s: %w", key, err)
	}
	return s.saveIndex(ctx, sessionID, kept)
}

// Purge removes every checkpoint and the index for a session. Used when
// the session itself is deleted. It returns how many snapshots were
// removed.
func (s *CheckpointStore) Purge(ctx context.Context, sessionID string) (int, error) {
	index, err := s.loadIndex(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, cp := range index {
		if err := s.backend.Delete(ctx, cp.Key); err != nil && !storage.IsNotFound(err) {
			return removed, fmt.Errorf("purge checkpoint %s: %w", cp.Key, err)
		}
		removed++
	}
	if err := s.backend.Delete(ctx, indexKey(sessionID)); err != nil && !storage.IsNotFound(err) {
		return removed, fmt.Errorf("purge checkpoint index for %s: %w", sessionID, err)
	}
	return removed, nil
}

// Due reports whether rec should be checkpointed now: enough new
// segments accumulated since the last snapshot, the configured period
// elapsed while content changed, or the history shrank because a
// compaction replaced it.
func (s *CheckpointStore) Due(ctx context.Context, rec *session.Record) (bool, error) {
	if rec == nil {
		return false, nil
	}
	index, err := s.loadIndex(ctx, rec.SessionID)
	if err != nil {
		return false, err
	}
	now := s.now()

	if len(index) == 0 {
		if len(rec.Segments) == 0 {
			return false, nil
		}
		return len(rec.Segments) >= s.turns || now.Sub(rec.CreatedAt) >= s.period, nil
	}

	last := index[len(index)-1]
	delta := len(rec.Segments) - last.SegmentCount
	switch {
	case delta < 0:
		return true, nil
	case delta >= s.turns:
		return true, nil
	case delta > 0 && now.Sub(last.CreatedAt) >= s.period:
		return true, nil
	}
	return false, nil
}

// MaybeCreate snapshots rec when a checkpoint is due. It returns the new
// checkpoint, or nil when none was due.
func (s *CheckpointStore) MaybeCreate(ctx context.Context, rec *session.Record) (*Checkpoint, error) {
	due, err := s.Due(ctx, rec)
	if err != nil || !due {
		return nil, err
	}
	return s.Create(ctx, rec, "")
}

func (s *CheckpointStore) loadIndex(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	data, err := s.backend.Get(ctx, indexKey(sessionID))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load checkpoint index for %s: %w", sessionID, err)
	}
	var index []Checkpoint
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("decode checkpoint index for %s: %w", sessionID, err)
	}
	return index, nil
}

func (s *CheckpointStore) saveIndex(ctx context.Context, sessionID string, index []Checkpoint) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encode checkpoint index for %s: %w", sessionID, err)
	}
	if err := s.backend.Put(ctx, indexKey(sessionID), data); err != nil {
		return fmt.Errorf("store checkpoint index for %s: %w", sessionID, err)
	}
	return nil
}
