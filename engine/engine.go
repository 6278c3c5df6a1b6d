// Package engine assembles the session components behind one facade:
// create, load, save, list, delete, token issue, resume, and stats, with
// structured logging and metrics on every operation.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	sessioncontext "github.com/invincible-jha/agent-session-linker/context"
	"github.com/invincible-jha/agent-session-linker/internal/filter"
	"github.com/invincible-jha/agent-session-linker/internal/telemetry"
	"github.com/invincible-jha/agent-session-linker/linking"
	"github.com/invincible-jha/agent-session-linker/llm"
	"github.com/invincible-jha/agent-session-linker/middleware"
	"github.com/invincible-jha/agent-session-linker/session"
	"github.com/invincible-jha/agent-session-linker/storage"
)

// Engine wires session persistence, checkpointing, window compaction,
// the session graph, and resumption tokens into one entry point. All
// methods are safe for concurrent use.
type Engine struct {
	cfg         Config
	backend     storage.Backend
	sessions    *session.Manager
	tokens      *linking.TokenIssuer
	graph       *linking.Graph
	linker      *linking.Linker
	checkpoints *middleware.CheckpointStore
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	janitor     *Janitor

	// injector and window are replaced wholesale on config reload; the
	// summarizer carries over so a reload never reverts a custom one.
	mu         sync.RWMutex
	injector   *sessioncontext.Injector
	window     *middleware.Window
	summarizer sessioncontext.Summarizer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Default logs JSON to stderr at
// warn level.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics collector. Default is a fresh one;
// expose it through Metrics().Handler().
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSummarizer replaces the extractive summarizer used for window
// compaction, for example with an LLM-backed one.
func WithSummarizer(s sessioncontext.Summarizer) Option {
	return func(e *Engine) {
		e.summarizer = s
		e.window = middleware.NewWindow(s, windowOptions(e.cfg.Window)...)
	}
}

// New builds an engine over backend using cfg. The backend is injected
// so client-backed stores (redis, postgres, s3, etcd, mongo) work the
// same as the self-contained kinds cfg.OpenBackend covers.
func New(backend storage.Backend, cfg Config, opts ...Option) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("engine: backend is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if cfg.Token.Secret == "" {
		return nil, fmt.Errorf("engine: token secret is required")
	}
	if cfg.Token.TTL <= 0 {
		cfg.Token.TTL = Duration(DefaultTokenTTL)
	}

	tokens, err := linking.NewTokenIssuer([]byte(cfg.Token.Secret))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	var managerOpts []session.ManagerOption
	if cfg.DefaultAgent != "" {
		managerOpts = append(managerOpts, session.WithDefaultAgent(cfg.DefaultAgent))
	}
	if cfg.Retry.Attempts > 0 || cfg.Retry.Backoff > 0 {
		managerOpts = append(managerOpts, session.WithRetryPolicy(cfg.Retry.Attempts, cfg.Retry.Backoff.Std()))
	}

	graph := linking.NewGraph()
	e := &Engine{
		cfg:         cfg,
		backend:     backend,
		sessions:    session.NewManager(backend, managerOpts...),
		tokens:      tokens,
		graph:       graph,
		linker:      linking.NewLinker(graph),
		checkpoints: middleware.NewCheckpointStore(backend, checkpointOptions(cfg.Checkpoint)...),
		injector:    sessioncontext.NewInjector(injectionConfig(cfg.Injection)),
		metrics:     telemetry.NewMetrics(),
	}
	e.summarizer = newSummarizer(cfg.Summarizer)
	e.window = middleware.NewWindow(e.summarizer, windowOptions(cfg.Window)...)
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = telemetry.NewLogger(io.Discard, slog.LevelWarn)
	}
	if cfg.Janitor.Schedule != "" {
		e.janitor, err = NewJanitor(e, cfg.Janitor)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}
	return e, nil
}

// Create builds and persists a fresh session for agentID.
func (e *Engine) Create(ctx context.Context, agentID string, opts ...session.CreateOption) (*session.Record, error) {
	defer e.observe("create", time.Now())
	rec, err := e.sessions.Create(ctx, agentID, opts...)
	if err != nil {
		e.logger.Error("create session failed", "agent_id", agentID, "error", err)
		return nil, err
	}
	e.metrics.SessionOpened()
	telemetry.OperationLogger(e.logger, ctx, "create", rec.SessionID).Info("session created",
		"agent_id", rec.AgentID)
	return rec, nil
}

// Load reads and integrity-checks a session.
func (e *Engine) Load(ctx context.Context, id string) (*session.Record, error) {
	defer e.observe("load", time.Now())
	rec, err := e.sessions.Load(ctx, id)
	if err != nil {
		e.metrics.RecordLoad(backendName(e.backend), "error")
		return nil, err
	}
	e.metrics.RecordLoad(backendName(e.backend), "ok")
	return rec, nil
}

// Save persists rec. When the session has outgrown the window caps its
// history is compacted first, and a checkpoint is taken when one is
// due; compaction, checkpoint, and the new segments land in one write.
func (e *Engine) Save(ctx context.Context, rec *session.Record) (*session.Record, error) {
	defer e.observe("save", time.Now())
	log := telemetry.OperationLogger(e.logger, ctx, "save", sessionID(rec))

	e.mu.RLock()
	window := e.window
	e.mu.RUnlock()

	compacted, err := window.Compact(ctx, rec)
	if err != nil {
		return nil, err
	}
	if compacted {
		e.metrics.RecordSummarization()
		log.Info("session history compacted", "segments", len(rec.Segments))
	}
	if cp, err := e.checkpoints.MaybeCreate(ctx, rec); err != nil {
		return nil, fmt.Errorf("checkpoint session %s: %w", rec.SessionID, err)
	} else if cp != nil {
		e.metrics.RecordCheckpoint("create")
		log.Info("checkpoint created", "checkpoint_key", cp.Key, "sequence", cp.Sequence)
	}

	saved, err := e.sessions.Save(ctx, rec)
	if err != nil {
		if session.IsConflict(err) {
			e.metrics.RecordConflict()
		}
		e.metrics.RecordSave(backendName(e.backend), "error")
		return nil, err
	}
	e.metrics.RecordSave(backendName(e.backend), "ok")
	return saved, nil
}

// List returns session summaries, optionally narrowed by a filter
// expression over summary fields (see internal/filter) and by the
// manager's listing options.
func (e *Engine) List(ctx context.Context, filterExpr string, opts ...session.ListOption) ([]session.Summary, error) {
	defer e.observe("list", time.Now())
	var f *filter.Filter
	if filterExpr != "" {
		var err error
		if f, err = filter.Compile(filterExpr); err != nil {
			return nil, err
		}
	}
	summaries, err := e.sessions.List(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return f.Apply(summaries)
}

// Delete removes a session along with its checkpoints and graph edges.
func (e *Engine) Delete(ctx context.Context, id string) error {
	defer e.observe("delete", time.Now())
	log := telemetry.OperationLogger(e.logger, ctx, "delete", id)

	if err := e.sessions.Delete(ctx, id); err != nil {
		return err
	}
	purged, err := e.checkpoints.Purge(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if purged > 0 {
		e.metrics.RecordCheckpoint("purge")
	}
	unlinked := e.graph.RemoveSession(id)
	e.metrics.SessionClosed()
	log.Info("session deleted", "checkpoints_purged", purged, "edges_removed", unlinked)
	return nil
}

// IssueToken mints a resumption token for an existing session, valid
// for the configured TTL.
func (e *Engine) IssueToken(ctx context.Context, id string) (string, error) {
	defer e.observe("issue_token", time.Now())
	ok, err := e.sessions.Exists(ctx, id)
	if err != nil {
		return "", fmt.Errorf("issue token for session %s: %w", id, err)
	}
	if !ok {
		return "", &storage.NotFoundError{ID: id}
	}
	return e.tokens.Issue(id, e.cfg.Token.TTL.Std())
}

// Resume resolves a resumption token and loads the session it names.
func (e *Engine) Resume(ctx context.Context, token string) (*session.Record, error) {
	defer e.observe("resume", time.Now())
	id, err := e.tokens.Resolve(token)
	if err != nil {
		e.logger.Warn("resume rejected", "error", err)
		return nil, err
	}
	return e.Load(ctx, id)
}

// Stats aggregates totals across stored sessions, optionally narrowed
// to one agent.
func (e *Engine) Stats(ctx context.Context, opts ...session.ListOption) (session.Stats, error) {
	defer e.observe("stats", time.Now())
	return e.sessions.Stats(ctx, opts...)
}

// Inject renders prior-session context for a query using the engine's
// current injection tunables.
func (e *Engine) Inject(records []*session.Record, query string) sessioncontext.Injection {
	e.mu.RLock()
	injector := e.injector
	e.mu.RUnlock()
	return injector.Inject(records, query)
}

// Reload swaps in a new set of hot tunables: injection weights and
// window caps. Identity settings (backend, token secret) are ignored;
// restart for those. Wire this to WatchConfig for live reloads.
func (e *Engine) Reload(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.injector = sessioncontext.NewInjector(injectionConfig(cfg.Injection))
	e.window = middleware.NewWindow(e.summarizer, windowOptions(cfg.Window)...)
	e.cfg.Injection = cfg.Injection
	e.cfg.Window = cfg.Window
	e.logger.Info("engine tunables reloaded")
}

// Sessions exposes the underlying manager for callers needing
// operations beyond the facade, such as ContinueSession.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// Linker exposes the entity-based session linker.
func (e *Engine) Linker() *linking.Linker { return e.linker }

// Graph exposes the session graph the linker records into.
func (e *Engine) Graph() *linking.Graph { return e.graph }

// Checkpoints exposes the checkpoint store for explicit snapshots and
// restores.
func (e *Engine) Checkpoints() *middleware.CheckpointStore { return e.checkpoints }

// Metrics exposes the collector, typically to mount Handler() on an
// HTTP mux.
func (e *Engine) Metrics() *telemetry.Metrics { return e.metrics }

// StartJanitor begins the scheduled checkpoint retention sweep, when
// one is configured.
func (e *Engine) StartJanitor() {
	if e.janitor != nil {
		e.janitor.Start()
	}
}

// Close stops background work. The backend's lifecycle belongs to the
// caller that opened it.
func (e *Engine) Close() error {
	if e.janitor != nil {
		e.janitor.Stop()
	}
	return nil
}

func (e *Engine) observe(operation string, start time.Time) {
	e.metrics.ObserveOperation(operation, time.Since(start))
}

func sessionID(rec *session.Record) string {
	if rec == nil {
		return ""
	}
	return rec.SessionID
}

// backendName labels metrics by backend implementation.
func backendName(b storage.Backend) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", b), "*storage.")
}

// newSummarizer builds the window summarizer the config names. A model
// string routes compaction through that provider; otherwise compaction
// stays extractive.
func newSummarizer(c SummarizerConfig) sessioncontext.Summarizer {
	if c.Model == "" {
		return sessioncontext.NewExtractiveSummarizer()
	}
	client, model := llm.NewClientForModel(c.Model)
	var opts []sessioncontext.LLMSummarizerOption
	if c.TokenBudget > 0 {
		opts = append(opts, sessioncontext.WithTracker(llm.NewTokenTracker(c.TokenBudget)))
	}
	return sessioncontext.NewLLMSummarizer(client, model, opts...)
}

func injectionConfig(c InjectionConfig) sessioncontext.InjectionConfig {
	return sessioncontext.InjectionConfig{
		TokenBudget:     c.TokenBudget,
		MaxSegments:     c.MaxSegments,
		RelevanceWeight: c.RelevanceWeight,
		FreshnessWeight: c.FreshnessWeight,
		TypeWeight:      c.TypeWeight,
		EntityBoost:     c.EntityBoost,
		MaxAgeHours:     c.MaxAgeHours,
	}
}

func windowOptions(c WindowConfig) []middleware.WindowOption {
	var opts []middleware.WindowOption
	if c.MaxTokens > 0 {
		opts = append(opts, middleware.WithWindowTokens(c.MaxTokens))
	}
	if c.MaxSegments > 0 {
		opts = append(opts, middleware.WithWindowSegments(c.MaxSegments))
	}
	if c.SummaryTokens > 0 {
		opts = append(opts, middleware.WithSummaryTokens(c.SummaryTokens))
	}
	return opts
}

func checkpointOptions(c CheckpointConfig) []middleware.CheckpointOption {
	var opts []middleware.CheckpointOption
	if c.Max > 0 {
		opts = append(opts, middleware.WithMaxCheckpoints(c.Max))
	}
	if c.Turns > 0 {
		opts = append(opts, middleware.WithCheckpointTurns(c.Turns))
	}
	if c.Period > 0 {
		opts = append(opts, middleware.WithCheckpointPeriod(c.Period.Std()))
	}
	return opts
}
