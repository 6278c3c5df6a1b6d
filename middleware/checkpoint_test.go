package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/invincible-jha/agent-session-linker/session"
	"github.com/invincible-jha/agent-session-linker/storage"
)

func newCheckpointFixture(t *testing.T, opts ...CheckpointOption) (*CheckpointStore, *session.Manager, *session.Record) {
	t.Helper()
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	mgr := session.NewManager(backend)
	rec, err := mgr.Create(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Create returned unexpected error: %v", err)
	}
	return NewCheckpointStore(backend, opts...), mgr, rec
}

func TestCheckpointCreateAndList(t *testing.T) {
	ctx := context.Background()
	store, _, rec := newCheckpointFixture(t)
	rec.AddSegment(session.RoleUser, "hello")

	cp, err := store.Create(ctx, rec, "first")
	if err != nil {
		t.Fatalf("Create returned unexpected error: %v", err)
	}
	if cp.Label != "first" || cp.Sequence != 0 || cp.SegmentCount != 1 {
		t.Errorf("checkpoint = %+v", cp)
	}

	cps, err := store.List(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("List returned unexpected error: %v", err)
	}
	if len(cps) != 1 || cps[0].ID != cp.ID {
		t.Errorf("List = %+v", cps)
	}
}

func TestCheckpointDefaultLabelIsTimestamp(t *testing.T) {
	ctx := context.Background()
	store, _, rec := newCheckpointFixture(t)

	cp, err := store.Create(ctx, rec, "")
	if err != nil {
		t.Fatalf("Create returned unexpected error: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, cp.Label); err != nil {
		t.Errorf("default label %q is not a timestamp: %v", cp.Label, err)
	}
}

func TestCheckpointCreateFromBareRecord(t *testing.T) {
	ctx := context.Background()
	store := NewCheckpointStore(storage.NewMemoryBackend())

	// A record assembled by hand, without NewRecord's initialized maps.
	now := time.Now().UTC()
	rec := &session.Record{
		SessionID:     "sess_bare",
		AgentID:       "agent-1",
		SchemaVersion: session.SchemaVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	rec.AddSegment(session.RoleUser, "hello")

	cp, err := store.Create(ctx, rec, "bare")
	if err != nil {
		t.Fatalf("Create returned unexpected error: %v", err)
	}
	if cp.SessionID != "sess_bare" {
		t.Errorf("SessionID = %q, want %q", cp.SessionID, "sess_bare")
	}
	if rec.Preferences != nil {
		t.Error("checkpointing materialized the live record's preference map")
	}
}

func TestCheckpointEvictsOldest(t *testing.T) {
	ctx := context.Background()
	store, _, rec := newCheckpointFixture(t, WithMaxCheckpoints(2))

	for i := 0; i < 3; i++ {
		rec.AddSegment(session.RoleUser, "turn")
		if _, err := store.Create(ctx, rec, ""); err != nil {
			t.Fatalf("Create returned unexpected error: %v", err)
		}
	}

	cps, err := store.List(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("List returned unexpected error: %v", err)
	}
	if len(cps) != 2 {
		t.Fatalf("retained %d checkpoints, want 2", len(cps))
	}
	if cps[0].Sequence != 1 || cps[1].Sequence != 2 {
		t.Errorf("sequences = %d, %d, want oldest evicted", cps[0].Sequence, cps[1].Sequence)
	}
}

func TestCheckpointRestoreRollsBack(t *testing.T) {
	ctx := context.Background()
	store, mgr, rec := newCheckpointFixture(t)

	rec.AddSegment(session.RoleUser, "keep this")
	if _, err := mgr.Save(ctx, rec); err != nil {
		t.Fatalf("Save returned unexpected error: %v", err)
	}
	cp, err := store.Create(ctx, rec, "before mistake")
	if err != nil {
		t.Fatalf("Create returned unexpected error: %v", err)
	}

	rec.AddSegment(session.RoleAssistant, "a wrong turn")
	if _, err := mgr.Save(ctx, rec); err != nil {
		t.Fatalf("Save returned unexpected error: %v", err)
	}

	restored, err := store.Restore(ctx, cp.Key)
	if err != nil {
		t.Fatalf("Restore returned unexpected error: %v", err)
	}
	if len(restored.Segments) != 1 {
		t.Fatalf("restored %d segments, want 1", len(restored.Segments))
	}
	if _, ok := restored.Preferences[checkpointMarkerKey]; ok {
		t.Error("checkpoint marker not stripped on restore")
	}

	// The restored record carries the live checksum, so saving it rolls
	// the session back without a conflict.
	if _, err := mgr.Save(ctx, restored); err != nil {
		t.Fatalf("Save of restored record returned unexpected error: %v", err)
	}
	loaded, err := mgr.Load(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}
	if len(loaded.Segments) != 1 {
		t.Errorf("rollback left %d segments, want 1", len(loaded.Segments))
	}
}

func TestCheckpointKeysHiddenFromListings(t *testing.T) {
	ctx := context.Background()
	store, mgr, rec := newCheckpointFixture(t)

	if _, err := store.Create(ctx, rec, ""); err != nil {
		t.Fatalf("Create returned unexpected error: %v", err)
	}
	summaries, err := mgr.List(ctx)
	if err != nil {
		t.Fatalf("List returned unexpected error: %v", err)
	}
	if len(summaries) != 1 {
		t.Errorf("listing sees %d sessions, want 1 (checkpoints hidden)", len(summaries))
	}
}

func TestCheckpointDeleteAndPurge(t *testing.T) {
	ctx := context.Background()
	store, _, rec := newCheckpointFixture(t)

	first, err := store.Create(ctx, rec, "a")
	if err != nil {
		t.Fatalf("Create returned unexpected error: %v", err)
	}
	if _, err := store.Create(ctx, rec, "b"); err != nil {
		t.Fatalf("Create returned unexpected error: %v", err)
	}

	if err := store.Delete(ctx, rec.SessionID, first.Key); err != nil {
		t.Fatalf("Delete returned unexpected error: %v", err)
	}
	if err := store.Delete(ctx, rec.SessionID, first.Key); !storage.IsNotFound(err) {
		t.Errorf("second Delete = %v, want NotFoundError", err)
	}

	removed, err := store.Purge(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("Purge returned unexpected error: %v", err)
	}
	if removed != 1 {
		t.Errorf("Purge removed %d, want 1", removed)
	}
	if cps, _ := store.List(ctx, rec.SessionID); len(cps) != 0 {
		t.Errorf("Purge left %d checkpoints", len(cps))
	}
}

func TestCheckpointDue(t *testing.T) {
	ctx := context.Background()
	store, _, rec := newCheckpointFixture(t, WithCheckpointTurns(3))

	// Empty session is never due.
	due, err := store.Due(ctx, rec)
	if err != nil {
		t.Fatalf("Due returned unexpected error: %v", err)
	}
	if due {
		t.Error("empty session reported due")
	}

	for i := 0; i < 3; i++ {
		rec.AddSegment(session.RoleUser, "turn")
	}
	if due, _ = store.Due(ctx, rec); !due {
		t.Error("session at the turn threshold not due")
	}

	if _, err := store.Create(ctx, rec, ""); err != nil {
		t.Fatalf("Create returned unexpected error: %v", err)
	}
	if due, _ = store.Due(ctx, rec); due {
		t.Error("freshly checkpointed session reported due")
	}

	// A shrunken history means a compaction happened; snapshot it.
	rec.Segments = rec.Segments[:1]
	if due, _ = store.Due(ctx, rec); !due {
		t.Error("compacted session not due")
	}
}

func TestMaybeCreateOnlyWhenDue(t *testing.T) {
	ctx := context.Background()
	store, _, rec := newCheckpointFixture(t, WithCheckpointTurns(2))

	cp, err := store.MaybeCreate(ctx, rec)
	if err != nil {
		t.Fatalf("MaybeCreate returned unexpected error: %v", err)
	}
	if cp != nil {
		t.Error("MaybeCreate snapshotted an empty session")
	}

	rec.AddSegment(session.RoleUser, "one")
	rec.AddSegment(session.RoleAssistant, "two")
	cp, err = store.MaybeCreate(ctx, rec)
	if err != nil {
		t.Fatalf("MaybeCreate returned unexpected error: %v", err)
	}
	if cp == nil {
		t.Error("MaybeCreate skipped a due session")
	}
}
