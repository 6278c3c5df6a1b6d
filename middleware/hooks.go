package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	sessioncontext "github.com/invincible-jha/agent-session-linker/context"
	"github.com/invincible-jha/agent-session-linker/entity"
	"github.com/invincible-jha/agent-session-linker/session"
	"github.com/invincible-jha/agent-session-linker/storage"
	"github.com/invincible-jha/agent-session-linker/tokenizer"
)

// TokenCounter reports how many tokens a piece of text occupies.
// *tokenizer.Tokenizer satisfies it.
type TokenCounter interface {
	CountTokens(text string) int
}

// SessionStore is the slice of the session manager the request hooks
// need. *session.Manager satisfies it.
type SessionStore interface {
	Load(ctx context.Context, id string) (*session.Record, error)
	Save(ctx context.Context, rec *session.Record) (*session.Record, error)
	Delete(ctx context.Context, id string) error
}

// Turn is one segment's worth of new context produced by a request.
type Turn struct {
	Role    session.Role
	Content string
	Type    session.SegmentType
}

// SessionMiddleware wraps agent request handling with transparent
// session persistence. BeforeRequest loads or creates the conversation's
// session and builds the prior-context prompt; AfterRequest appends the
// turn's segments, runs entity extraction, the window check, and the
// checkpoint check, then saves the record once.
//
// A conversation id maps deterministically to a session id, so the same
// conversation resumes the same session across process restarts. Loaded
// sessions stay cached per conversation until Invalidate or Delete.
// Request cycles on the same conversation are serialized; two concurrent
// turns never mutate the cached record at once.
type SessionMiddleware struct {
	sessions    SessionStore
	injector    *sessioncontext.Injector
	entities    *entity.Linker
	window      *Window
	checkpoints *CheckpointStore
	counter     TokenCounter
	autoCreate  bool

	mu     sync.Mutex
	active map[string]*session.Record
	locks  map[string]*sync.Mutex
}

// MiddlewareOption configures a SessionMiddleware.
type MiddlewareOption func(*SessionMiddleware)

// WithInjector enables prior-context injection in BeforeRequest.
func WithInjector(in *sessioncontext.Injector) MiddlewareOption {
	return func(m *SessionMiddleware) { m.injector = in }
}

// WithEntityLinker enables entity extraction over appended turns.
func WithEntityLinker(l *entity.Linker) MiddlewareOption {
	return func(m *SessionMiddleware) { m.entities = l }
}

// WithWindow enables window compaction before each save.
func WithWindow(w *Window) MiddlewareOption {
	return func(m *SessionMiddleware) { m.window = w }
}

// WithCheckpoints enables periodic snapshots on the request cycle.
func WithCheckpoints(s *CheckpointStore) MiddlewareOption {
	return func(m *SessionMiddleware) { m.checkpoints = s }
}

// WithTokenCounter replaces the tokenizer used to count appended turn
// tokens.
func WithTokenCounter(c TokenCounter) MiddlewareOption {
	return func(m *SessionMiddleware) { m.counter = c }
}

// WithoutAutoCreate makes BeforeRequest fail for unknown conversations
// instead of creating a fresh session.
func WithoutAutoCreate() MiddlewareOption {
	return func(m *SessionMiddleware) { m.autoCreate = false }
}

// NewSessionMiddleware returns hooks persisting through sessions.
func NewSessionMiddleware(sessions SessionStore, opts ...MiddlewareOption) *SessionMiddleware {
	m := &SessionMiddleware{
		sessions:   sessions,
		autoCreate: true,
		active:     make(map[string]*session.Record),
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.counter == nil {
		// CountTokens on a nil tokenizer falls back to the length
		// estimate, so a failed encoding load never blocks requests.
		tok, _ := tokenizer.New()
		m.counter = tok
	}
	return m
}

// SessionIDFor returns the session id a conversation maps to. The
// mapping is a digest of the agent and conversation ids, so it is stable
// across processes and never collides with generated session ids.
func SessionIDFor(agentID, conversationID string) string {
	sum := sha256.Sum256([]byte(agentID + "\x00" + conversationID))
	return "sess_conv_" + base64.RawURLEncoding.EncodeToString(sum[:16])
}

// BeforeRequest loads the conversation's session, creating it when
// unknown, and returns it with the prior-context prompt to prepend to
// the model request. The prompt is empty when the session has no history
// worth injecting or no injector is configured.
func (m *SessionMiddleware) BeforeRequest(ctx context.Context, agentID, conversationID, query string) (*session.Record, string, error) {
	if conversationID == "" {
		return nil, "", fmt.Errorf("conversation id must not be empty")
	}
	lock := m.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	rec, ok := m.active[conversationID]
	m.mu.Unlock()

	if !ok {
		id := SessionIDFor(agentID, conversationID)
		loaded, err := m.sessions.Load(ctx, id)
		switch {
		case err == nil:
			rec = loaded
		case storage.IsNotFound(err) && m.autoCreate:
			rec = session.NewRecord(agentID)
			rec.SessionID = id
			rec.Preferences["conversation_id"] = conversationID
			if rec, err = m.sessions.Save(ctx, rec); err != nil {
				return nil, "", fmt.Errorf("create session for conversation %s: %w", conversationID, err)
			}
		default:
			return nil, "", fmt.Errorf("load session for conversation %s: %w", conversationID, err)
		}
		m.mu.Lock()
		m.active[conversationID] = rec
		m.mu.Unlock()
	}

	prompt := ""
	if m.injector != nil && hasContext(rec) {
		prompt = m.injector.Inject([]*session.Record{rec}, query).Prompt
	}
	return rec, prompt, nil
}

// AfterRequest appends the turn's segments to the conversation's active
// session, extracts entities from them, compacts the window if the
// session outgrew it, takes a checkpoint when one is due, and saves the
// record exactly once. It returns the saved record.
func (m *SessionMiddleware) AfterRequest(ctx context.Context, conversationID string, turns ...Turn) (*session.Record, error) {
	lock := m.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	rec, ok := m.active[conversationID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no active session for conversation %s, call BeforeRequest first", conversationID)
	}

	appended := make([]session.Segment, 0, len(turns))
	for _, turn := range turns {
		opts := []session.SegmentOption{
			session.WithTokenCount(m.counter.CountTokens(turn.Content)),
		}
		if turn.Type != "" {
			opts = append(opts, session.WithSegmentType(turn.Type))
		}
		seg := rec.AddSegment(turn.Role, turn.Content, opts...)
		appended = append(appended, *seg)
	}

	if m.entities != nil && len(appended) > 0 {
		m.entities.Process(rec, appended)
	}
	if m.window != nil {
		if _, err := m.window.Compact(ctx, rec); err != nil {
			return nil, err
		}
	}
	if m.checkpoints != nil {
		if _, err := m.checkpoints.MaybeCreate(ctx, rec); err != nil {
			return nil, fmt.Errorf("checkpoint for conversation %s: %w", conversationID, err)
		}
	}

	saved, err := m.sessions.Save(ctx, rec)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.active[conversationID] = saved
	m.mu.Unlock()
	return saved, nil
}

// Active returns the cached session for a conversation, if any.
func (m *SessionMiddleware) Active(conversationID string) (*session.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.active[conversationID]
	return rec, ok
}

// Invalidate drops the cached session for a conversation without saving.
// The next BeforeRequest reloads it from storage.
func (m *SessionMiddleware) Invalidate(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, conversationID)
}

// Delete removes the conversation's session from storage and
// invalidates the cache entry.
func (m *SessionMiddleware) Delete(ctx context.Context, agentID, conversationID string) error {
	if err := m.sessions.Delete(ctx, SessionIDFor(agentID, conversationID)); err != nil {
		return err
	}
	m.Invalidate(conversationID)
	return nil
}

// lockFor returns the mutex serializing request cycles for one
// conversation.
func (m *SessionMiddleware) lockFor(conversationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[conversationID] = lock
	}
	return lock
}

// hasContext reports whether a record carries anything the injector
// could surface.
func hasContext(rec *session.Record) bool {
	return len(rec.Segments) > 0 || rec.Summary != "" ||
		len(rec.Tasks) > 0 || len(rec.Entities) > 0
}
