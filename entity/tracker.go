package entity

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// TrackedEntity captures how often one entity has been observed and when.
type TrackedEntity struct {
	Text         string
	Kind         string
	Frequency    int
	FirstSeen    time.Time
	LastSeen     time.Time
	Confidence   float64
	SurfaceForms []string
}

type trackerKey struct {
	text string
	kind string
}

// Tracker tallies entity observations across turns. Entries are keyed by
// (normalized text, kind); repeated observations bump frequency, refresh
// last-seen, and fold confidence into a running average. Safe for
// concurrent use.
type Tracker struct {
	mu            sync.Mutex
	entries       map[trackerKey]*TrackedEntity
	caseSensitive bool
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// CaseSensitive keys entries by exact surface text instead of lowercasing.
func CaseSensitive() TrackerOption {
	return func(t *Tracker) { t.caseSensitive = true }
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{entries: map[trackerKey]*TrackedEntity{}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Update records a batch of observed mentions.
func (t *Tracker) Update(mentions []Mention) {
	now := time.Now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range mentions {
		key := t.keyFor(m)
		if tracked, ok := t.entries[key]; ok {
			tracked.Frequency++
			tracked.LastSeen = now
			total := tracked.Confidence*float64(tracked.Frequency-1) + m.Confidence
			tracked.Confidence = total / float64(tracked.Frequency)
			if !containsString(tracked.SurfaceForms, m.Surface) {
				tracked.SurfaceForms = append(tracked.SurfaceForms, m.Surface)
			}
			continue
		}
		t.entries[key] = &TrackedEntity{
			Text:         key.text,
			Kind:         key.kind,
			Frequency:    1,
			FirstSeen:    now,
			LastSeen:     now,
			Confidence:   m.Confidence,
			SurfaceForms: []string{m.Surface},
		}
	}
}

// Top returns the n most frequent entities, ties broken by most recently
// seen.
func (t *Tracker) Top(n int) []TrackedEntity {
	return t.collect(n, "")
}

// TopOfKind returns the n most frequent entities of one kind.
func (t *Tracker) TopOfKind(kind string, n int) []TrackedEntity {
	return t.collect(n, kind)
}

// ByKind returns every tracked entity of one kind, most frequent first.
func (t *Tracker) ByKind(kind string) []TrackedEntity {
	return t.collect(-1, kind)
}

// Get looks up one tracked entity by text and kind.
func (t *Tracker) Get(text, kind string) (TrackedEntity, bool) {
	if !t.caseSensitive {
		text = strings.ToLower(text)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tracked, ok := t.entries[trackerKey{text: text, kind: kind}]
	if !ok {
		return TrackedEntity{}, false
	}
	return snapshotTracked(tracked), true
}

// Len returns the number of distinct tracked entities.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Reset clears all tracked entities.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = map[trackerKey]*TrackedEntity{}
}

func (t *Tracker) collect(n int, kind string) []TrackedEntity {
	t.mu.Lock()
	out := make([]TrackedEntity, 0, len(t.entries))
	for _, tracked := range t.entries {
		if kind != "" && tracked.Kind != kind {
			continue
		}
		out = append(out, snapshotTracked(tracked))
	}
	t.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// keyFor keys a mention by its kind, falling back to the entity type for
// mentions produced by custom extractors that leave Kind unset.
func (t *Tracker) keyFor(m Mention) trackerKey {
	text := m.Surface
	if !t.caseSensitive {
		text = strings.ToLower(text)
	}
	kind := m.Kind
	if kind == "" {
		kind = string(m.Type)
	}
	return trackerKey{text: text, kind: kind}
}

func snapshotTracked(tracked *TrackedEntity) TrackedEntity {
	out := *tracked
	out.SurfaceForms = append([]string(nil), tracked.SurfaceForms...)
	return out
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
