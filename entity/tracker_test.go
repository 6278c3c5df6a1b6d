package entity

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/invincible-jha/agent-session-linker/session"
)

func TestTrackerRecordsNewEntity(t *testing.T) {
	tr := NewTracker()
	tr.Update([]Mention{{Surface: "Postgres", Kind: "tool", Confidence: 0.9}})

	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tr.Len())
	}
	got, ok := tr.Get("postgres", "tool")
	if !ok {
		t.Fatal("Get returned not found")
	}
	if got.Frequency != 1 {
		t.Errorf("Frequency = %d, want 1", got.Frequency)
	}
	if got.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", got.Confidence)
	}
	if len(got.SurfaceForms) != 1 || got.SurfaceForms[0] != "Postgres" {
		t.Errorf("SurfaceForms = %v, want [Postgres]", got.SurfaceForms)
	}
	if got.FirstSeen.IsZero() || got.LastSeen.IsZero() {
		t.Error("FirstSeen/LastSeen not set")
	}

	// Lookup text is folded the same way as stored keys.
	if _, ok := tr.Get("Postgres", "tool"); !ok {
		t.Error("Get with original casing returned not found")
	}
}

func TestTrackerRunningAverageAndSurfaceForms(t *testing.T) {
	tr := NewTracker()
	tr.Update([]Mention{{Surface: "Redis", Kind: "tool", Confidence: 0.6}})
	tr.Update([]Mention{{Surface: "redis", Kind: "tool", Confidence: 0.8}})
	tr.Update([]Mention{{Surface: "REDIS", Kind: "tool", Confidence: 1.0}})

	got, ok := tr.Get("redis", "tool")
	if !ok {
		t.Fatal("Get returned not found")
	}
	if got.Frequency != 3 {
		t.Errorf("Frequency = %d, want 3", got.Frequency)
	}
	if math.Abs(got.Confidence-0.8) > 1e-9 {
		t.Errorf("Confidence = %v, want running average 0.8", got.Confidence)
	}
	if len(got.SurfaceForms) != 3 {
		t.Errorf("SurfaceForms = %v, want three distinct casings", got.SurfaceForms)
	}
}

func TestTrackerTopByFrequency(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 3; i++ {
		tr.Update([]Mention{{Surface: "alpha", Kind: "concept", Confidence: 0.8}})
	}
	for i := 0; i < 2; i++ {
		tr.Update([]Mention{{Surface: "beta", Kind: "concept", Confidence: 0.8}})
	}
	tr.Update([]Mention{{Surface: "gamma", Kind: "concept", Confidence: 0.8}})

	top := tr.Top(2)
	if len(top) != 2 {
		t.Fatalf("Top(2) returned %d entries, want 2", len(top))
	}
	if top[0].Text != "alpha" || top[0].Frequency != 3 {
		t.Errorf("top[0] = %q (%d), want alpha (3)", top[0].Text, top[0].Frequency)
	}
	if top[1].Text != "beta" || top[1].Frequency != 2 {
		t.Errorf("top[1] = %q (%d), want beta (2)", top[1].Text, top[1].Frequency)
	}
}

func TestTrackerTopBreaksTiesByRecency(t *testing.T) {
	tr := NewTracker()
	tr.Update([]Mention{{Surface: "older", Kind: "concept", Confidence: 0.8}})
	time.Sleep(2 * time.Millisecond)
	tr.Update([]Mention{{Surface: "newer", Kind: "concept", Confidence: 0.8}})

	top := tr.Top(2)
	if len(top) != 2 {
		t.Fatalf("Top(2) returned %d entries, want 2", len(top))
	}
	if top[0].Text != "newer" {
		t.Errorf("top[0] = %q, want the more recently seen entry", top[0].Text)
	}
}

func TestTrackerByKind(t *testing.T) {
	tr := NewTracker()
	tr.Update([]Mention{
		{Surface: "Alice Johnson", Kind: "person", Confidence: 0.75},
		{Surface: "Acme Corp", Kind: "org", Confidence: 0.85},
		{Surface: "Bob Stone", Kind: "person", Confidence: 0.75},
	})
	tr.Update([]Mention{{Surface: "alice johnson", Kind: "person", Confidence: 0.75}})

	people := tr.ByKind("person")
	if len(people) != 2 {
		t.Fatalf("ByKind(person) returned %d entries, want 2", len(people))
	}
	if people[0].Text != "alice johnson" || people[0].Frequency != 2 {
		t.Errorf("people[0] = %q (%d), want alice johnson (2)", people[0].Text, people[0].Frequency)
	}

	orgs := tr.TopOfKind("org", 5)
	if len(orgs) != 1 || orgs[0].Text != "acme corp" {
		t.Errorf("TopOfKind(org) = %+v, want one acme corp entry", orgs)
	}
}

func TestTrackerCaseSensitive(t *testing.T) {
	tr := NewTracker(CaseSensitive())
	tr.Update([]Mention{{Surface: "Redis", Kind: "tool", Confidence: 0.9}})
	tr.Update([]Mention{{Surface: "redis", Kind: "tool", Confidence: 0.9}})

	if tr.Len() != 2 {
		t.Errorf("Len = %d, want 2 distinct case-sensitive entries", tr.Len())
	}
	if _, ok := tr.Get("Redis", "tool"); !ok {
		t.Error("Get(Redis) returned not found")
	}
}

func TestTrackerKindFallsBackToType(t *testing.T) {
	tr := NewTracker()
	tr.Update([]Mention{{Surface: "scheduler", Type: session.EntityConcept, Confidence: 0.7}})

	got, ok := tr.Get("scheduler", string(session.EntityConcept))
	if !ok {
		t.Fatal("Get returned not found for type-keyed entry")
	}
	if got.Kind != string(session.EntityConcept) {
		t.Errorf("Kind = %q, want %q", got.Kind, session.EntityConcept)
	}
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker()
	tr.Update([]Mention{{Surface: "alpha", Kind: "concept", Confidence: 0.8}})
	tr.Reset()

	if tr.Len() != 0 {
		t.Errorf("Len = %d after Reset, want 0", tr.Len())
	}
	if _, ok := tr.Get("alpha", "concept"); ok {
		t.Error("Get found an entry after Reset")
	}
}

func TestTrackerSnapshotsAreIsolated(t *testing.T) {
	tr := NewTracker()
	tr.Update([]Mention{{Surface: "alpha", Kind: "concept", Confidence: 0.8}})

	top := tr.Top(1)
	top[0].SurfaceForms = append(top[0].SurfaceForms, "mutated")
	top[0].Frequency = 99

	got, _ := tr.Get("alpha", "concept")
	if got.Frequency != 1 {
		t.Errorf("Frequency = %d after mutating a snapshot, want 1", got.Frequency)
	}
	if len(got.SurfaceForms) != 1 {
		t.Errorf("SurfaceForms = %v after mutating a snapshot, want [alpha]", got.SurfaceForms)
	}
}

func TestTrackerConcurrentUpdates(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				tr.Update([]Mention{{Surface: "shared", Kind: "concept", Confidence: 0.8}})
			}
		}()
	}
	wg.Wait()

	got, ok := tr.Get("shared", "concept")
	if !ok {
		t.Fatal("Get returned not found")
	}
	if got.Frequency != 100 {
		t.Errorf("Frequency = %d, want 100", got.Frequency)
	}
	if math.Abs(got.Confidence-0.8) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.8", got.Confidence)
	}
}
