// Package linking connects sessions that concern the same entities. It
// maintains the undirected session graph used for cross-session context,
// ordered chains for linear continuations, and the signed resumption
// tokens that let a caller rejoin a session without holding its id.
package linking

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/invincible-jha/agent-session-linker/entity"
	"github.com/invincible-jha/agent-session-linker/session"
)

// DefaultLinkConfidence is the minimum entity confidence, on both sides,
// for two sessions to be linkable.
const DefaultLinkConfidence = 0.75

// Edge is one undirected connection between two sessions, recorded with
// the canonical entity names that justified it.
type Edge struct {
	A              string    `json:"a"`
	B              string    `json:"b"`
	SharedEntities []string  `json:"shared_entities"`
	CreatedAt      time.Time `json:"created_at"`
}

// edgeKey identifies an edge independent of argument order.
type edgeKey struct {
	lo, hi string
}

func keyFor(a, b string) edgeKey {
	if b < a {
		a, b = b, a
	}
	return edgeKey{lo: a, hi: b}
}

// Graph is an explicit adjacency structure keyed by session id. It is
// safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	edges map[edgeKey]*Edge
	adj   map[string][]string
}

// NewGraph returns an empty session graph.
func NewGraph() *Graph {
	return &Graph{
		edges: make(map[edgeKey]*Edge),
		adj:   make(map[string][]string),
	}
}

func (g *Graph) add(e *Edge) {
	g.edges[keyFor(e.A, e.B)] = e
	g.adj[e.A] = append(g.adj[e.A], e.B)
	g.adj[e.B] = append(g.adj[e.B], e.A)
}

// Edge returns the edge between a and b, in either direction.
func (g *Graph) Edge(a, b string) (*Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[keyFor(a, b)]
	return e, ok
}

// Neighbors returns the sessions directly linked to id, in link order.
func (g *Graph) Neighbors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.adj[id]...)
}

// Reachable returns every session connected to id through any number of
// links, in breadth-first order. The starting id is not included.
func (g *Graph) Reachable(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{id: true}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.adj[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out
}

// Unlink removes the edge between a and b. It reports whether an edge
// existed.
func (g *Graph) Unlink(a, b string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := keyFor(a, b)
	if _, ok := g.edges[key]; !ok {
		return false
	}
	delete(g.edges, key)
	g.adj[a] = removeFirst(g.adj[a], b)
	g.adj[b] = removeFirst(g.adj[b], a)
	return true
}

// RemoveSession drops every edge touching id and returns how many were
// removed. Called when a session is deleted so the graph never refers to
// records that no longer exist.
func (g *Graph) RemoveSession(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	neighbors := g.adj[id]
	for _, other := range neighbors {
		delete(g.edges, keyFor(id, other))
		g.adj[other] = removeFirst(g.adj[other], id)
	}
	removed := len(neighbors)
	delete(g.adj, id)
	return removed
}

// Len returns the number of edges in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Edges exports every edge, sorted by session id pair, for persistence.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		cp := *e
		cp.SharedEntities = append([]string(nil), e.SharedEntities...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// Import restores edges from a previous export. Existing edges are
// preserved; duplicates in the input are skipped.
func (g *Graph) Import(edges []Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, e := range edges {
		if e.A == "" || e.B == "" {
			return fmt.Errorf("import edge %d: missing session id", i)
		}
		if e.A == e.B {
			return fmt.Errorf("import edge %d: self-edge on session %s", i, e.A)
		}
		if _, ok := g.edges[keyFor(e.A, e.B)]; ok {
			continue
		}
		cp := e
		cp.SharedEntities = append([]string(nil), e.SharedEntities...)
		g.add(&cp)
	}
	return nil
}

func removeFirst(list []string, id string) []string {
	for i, v := range list {
		if v == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Linker records edges between sessions that share at least one entity
// above its confidence threshold. The graph is supplied by the caller so
// the same adjacency can back multiple linkers or be rebuilt from an
// export.
type Linker struct {
	graph     *Graph
	threshold float64
	now       func() time.Time
}

// LinkerOption configures a Linker.
type LinkerOption func(*Linker)

// WithMinConfidence sets the entity confidence both sessions must reach
// for a link. Default 0.75.
func WithMinConfidence(t float64) LinkerOption {
	return func(l *Linker) { l.threshold = t }
}

// NewLinker returns a linker recording edges into graph.
func NewLinker(graph *Graph, opts ...LinkerOption) *Linker {
	l := &Linker{
		graph:     graph,
		threshold: DefaultLinkConfidence,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Graph returns the adjacency structure the linker records into.
func (l *Linker) Graph() *Graph { return l.graph }

// Link records an undirected edge between the two sessions. The sessions
// must share at least one entity with confidence at or above the
// linker's threshold on both sides. Linking a session to itself is an
// error; linking an already linked pair returns the existing edge.
func (l *Linker) Link(a, b *session.Record) (*Edge, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("link: both session records are required")
	}
	if a.SessionID == b.SessionID {
		return nil, fmt.Errorf("cannot link session %s to itself", a.SessionID)
	}
	if e, ok := l.graph.Edge(a.SessionID, b.SessionID); ok {
		return e, nil
	}

	shared := SharedEntities(a, b, l.threshold)
	if len(shared) == 0 {
		return nil, fmt.Errorf("sessions %s and %s share no entity with confidence >= %.2f",
			session.ShortID(a.SessionID), session.ShortID(b.SessionID), l.threshold)
	}

	edge := &Edge{
		A:              a.SessionID,
		B:              b.SessionID,
		SharedEntities: shared,
		CreatedAt:      l.now().UTC(),
	}

	l.graph.mu.Lock()
	defer l.graph.mu.Unlock()
	if existing, ok := l.graph.edges[keyFor(a.SessionID, b.SessionID)]; ok {
		return existing, nil
	}
	l.graph.add(edge)
	return edge, nil
}

// SharedEntities returns the canonical names of entities tracked by both
// records with confidence at or above minConfidence on each side. Names
// and aliases are compared in normalized form, so casing and punctuation
// differences still match. Results follow a's entity order.
func SharedEntities(a, b *session.Record, minConfidence float64) []string {
	if a == nil || b == nil {
		return nil
	}

	other := make(map[string]float64)
	for i := range b.Entities {
		if b.Entities[i].Confidence < minConfidence {
			continue
		}
		for _, name := range referenceNames(&b.Entities[i]) {
			key := entity.Normalize(name)
			if key == "" {
				continue
			}
			if c, ok := other[key]; !ok || b.Entities[i].Confidence > c {
				other[key] = b.Entities[i].Confidence
			}
		}
	}

	var shared []string
	for i := range a.Entities {
		ref := &a.Entities[i]
		if ref.Confidence < minConfidence {
			continue
		}
		for _, name := range referenceNames(ref) {
			if _, ok := other[entity.Normalize(name)]; ok {
				shared = append(shared, ref.CanonicalName)
				break
			}
		}
	}
	return shared
}

func referenceNames(ref *session.EntityReference) []string {
	names := make([]string, 0, len(ref.Aliases)+1)
	names = append(names, ref.CanonicalName)
	return append(names, ref.Aliases...)
}
