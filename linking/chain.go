package linking

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/invincible-jha/agent-session-linker/session"
)

// DefaultChainSegmentCap bounds how many segments of each session a
// chain renders into prompt context.
const DefaultChainSegmentCap = 20

// Loader loads session records by id. *session.Manager satisfies it.
type Loader interface {
	Load(ctx context.Context, id string) (*session.Record, error)
}

// Chain is an ordered sequence of session ids, oldest first, where each
// session continues the previous one. Records are loaded on demand
// through the supplied loader. Safe for concurrent use.
type Chain struct {
	mu         sync.Mutex
	loader     Loader
	ids        []string
	segmentCap int
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithSegmentCap limits how many of each session's most recent segments
// Render includes. Zero or negative means no limit. Default 20.
func WithSegmentCap(n int) ChainOption {
	return func(c *Chain) { c.segmentCap = n }
}

// NewChain returns a chain over the given session ids, oldest first.
func NewChain(loader Loader, ids []string, opts ...ChainOption) *Chain {
	c := &Chain{
		loader:     loader,
		ids:        append([]string(nil), ids...),
		segmentCap: DefaultChainSegmentCap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append adds a session id at the end of the chain. Duplicates are
// allowed; the chain records insertion order faithfully.
func (c *Chain) Append(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
}

// Prepend adds a session id at the start of the chain.
func (c *Chain) Prepend(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append([]string{id}, c.ids...)
}

// Remove drops every occurrence of id and returns how many were removed.
func (c *Chain) Remove(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.ids[:0]
	removed := 0
	for _, v := range c.ids {
		if v == id {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	c.ids = kept
	return removed
}

// IDs returns a copy of the chain's session ids, oldest first.
func (c *Chain) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

// Len returns the number of sessions in the chain.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Contains reports whether id is in the chain.
func (c *Chain) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.ids {
		if v == id {
			return true
		}
	}
	return false
}

// Records loads every session in chain order. Sessions that fail to
// load, for example because they were deleted, are skipped.
func (c *Chain) Records(ctx context.Context) []*session.Record {
	out := make([]*session.Record, 0, c.Len())
	for _, id := range c.IDs() {
		rec, err := c.loader.Load(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Segments returns the segments of the recent newest sessions in
// document order, oldest session first. recent <= 0 means the whole
// chain. Sessions that fail to load are skipped.
func (c *Chain) Segments(ctx context.Context, recent int) []session.Segment {
	ids := c.IDs()
	if recent > 0 && recent < len(ids) {
		ids = ids[len(ids)-recent:]
	}
	var out []session.Segment
	for _, id := range ids {
		rec, err := c.loader.Load(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, rec.Segments...)
	}
	return out
}

// Render builds a prompt context block from the recent newest sessions
// in the chain, oldest first. Each session contributes a short header
// and its most recent segments as role-labelled lines:
//
//	[Session ab12cd34]
//
//	USER: how do I reset the cache?
//	ASSISTANT: call FlushAll on the client.
//
// Sessions that fail to load or contain no segments are skipped; an
// empty chain renders to the empty string.
func (c *Chain) Render(ctx context.Context, recent int) (string, error) {
	if recent < 1 {
		return "", fmt.Errorf("recent must be >= 1, got %d", recent)
	}

	ids := c.IDs()
	if recent < len(ids) {
		ids = ids[len(ids)-recent:]
	}

	var parts []string
	for _, id := range ids {
		rec, err := c.loader.Load(ctx, id)
		if err != nil {
			continue
		}
		segs := rec.Segments
		if c.segmentCap > 0 && len(segs) > c.segmentCap {
			segs = segs[len(segs)-c.segmentCap:]
		}
		if len(segs) == 0 {
			continue
		}
		parts = append(parts, "[Session "+session.ShortID(rec.SessionID)+"]")
		parts = append(parts, formatSegments(segs))
	}
	return strings.Join(parts, "\n\n"), nil
}

func formatSegments(segs []session.Segment) string {
	lines := make([]string, 0, len(segs))
	for _, seg := range segs {
		lines = append(lines, strings.ToUpper(string(seg.Role))+": "+seg.Content)
	}
	return strings.Join(lines, "\n")
}
