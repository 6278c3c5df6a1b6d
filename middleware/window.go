// Package middleware wraps session persistence around agent request
// handling: window compaction when a session outgrows its token cap,
// periodic checkpoints for rollback, and the before/after request hooks
// that tie loading, extraction, and saving into one cycle.
package middleware

import (
	"context"
	"fmt"

	sessioncontext "github.com/invincible-jha/agent-session-linker/context"
	"github.com/invincible-jha/agent-session-linker/session"
)

// Window cap defaults.
const (
	DefaultWindowTokens   = 4000
	DefaultWindowSegments = 50
)

// Saver persists session records. *session.Manager satisfies it.
type Saver interface {
	Save(ctx context.Context, rec *session.Record) (*session.Record, error)
}

// Window watches a session's accumulated size and compresses its history
// through a summarizer once the token or segment cap is exceeded.
type Window struct {
	summarizer    sessioncontext.Summarizer
	maxTokens     int
	maxSegments   int
	summaryTokens int
}

// WindowOption configures a Window.
type WindowOption func(*Window)

// WithWindowTokens sets the token cap. Default 4000.
func WithWindowTokens(n int) WindowOption {
	return func(w *Window) { w.maxTokens = n }
}

// WithWindowSegments sets the segment cap. Default 50.
func WithWindowSegments(n int) WindowOption {
	return func(w *Window) { w.maxSegments = n }
}

// WithSummaryTokens sets the ceiling handed to the summarizer during
// compaction. Defaults to a quarter of the token cap.
func WithSummaryTokens(n int) WindowOption {
	return func(w *Window) { w.summaryTokens = n }
}

// NewWindow returns a window compacting through s when the caps are hit.
func NewWindow(s sessioncontext.Summarizer, opts ...WindowOption) *Window {
	w := &Window{
		summarizer:  s,
		maxTokens:   DefaultWindowTokens,
		maxSegments: DefaultWindowSegments,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.summaryTokens <= 0 {
		w.summaryTokens = w.maxTokens / 4
	}
	return w
}

// Exceeded reports whether rec has outgrown the window caps.
func (w *Window) Exceeded(rec *session.Record) bool {
	return rec.TotalTokens() > w.maxTokens || len(rec.Segments) > w.maxSegments
}

// Compact replaces rec's history with a summary segment when the window
// caps are exceeded, mutating rec in place. It reports whether a
// compaction happened. The caller owns persistence, so a compaction and
// the segments that triggered it always land in the same save.
func (w *Window) Compact(ctx context.Context, rec *session.Record) (bool, error) {
	if rec == nil || !w.Exceeded(rec) {
		return false, nil
	}
	if err := sessioncontext.Compact(ctx, w.summarizer, rec, w.summaryTokens); err != nil {
		return false, fmt.Errorf("window compaction for session %s: %w", rec.SessionID, err)
	}
	return true, nil
}

// Apply runs the window check on rec, compacting in memory when needed,
// and persists the result through saver in exactly one write. It returns
// the saved record and whether a compaction happened.
func (w *Window) Apply(ctx context.Context, saver Saver, rec *session.Record) (*session.Record, bool, error) {
	compacted, err := w.Compact(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	saved, err := saver.Save(ctx, rec)
	if err != nil {
		return nil, compacted, err
	}
	return saved, compacted, nil
}
