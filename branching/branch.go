// Package branching forks sessions into independent named branches so
// alternative conversation paths can be explored without touching the
// parent record.
package branching

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/invincible-jha/agent-session-linker/session"
)

// Branch is an independent fork of a parent session. Its record is a
// deep copy of the parent at fork time; segments added afterwards never
// reach the parent.
type Branch struct {
	ID              string            `json:"branch_id"`
	Name            string            `json:"branch_name"`
	Label           string            `json:"branch_label"`
	ParentSessionID string            `json:"parent_session_id"`
	Record          *session.Record   `json:"record"`
	CreatedAt       time.Time         `json:"created_at"`
	Metadata        map[string]string `json:"metadata"`
}

// SegmentCount returns the number of segments in the branch.
func (b *Branch) SegmentCount() int { return len(b.Record.Segments) }

// TaskCount returns the number of tasks in the branch.
func (b *Branch) TaskCount() int { return len(b.Record.Tasks) }

// PendingTaskCount returns the number of tasks still pending.
func (b *Branch) PendingTaskCount() int {
	n := 0
	for _, task := range b.Record.Tasks {
		if task.Status == session.TaskPending {
			n++
		}
	}
	return n
}

// String returns a one-line description of the branch.
func (b *Branch) String() string {
	return fmt.Sprintf("Branch[%s] id=%s parent=%s segments=%d tasks=%d",
		b.Name, session.ShortID(b.ID), session.ShortID(b.ParentSessionID),
		b.SegmentCount(), b.TaskCount())
}

// BranchOption controls what a fork copies from its parent. By default
// everything is copied: segments, tasks, entities, and preferences.
type BranchOption func(*branchConfig)

type branchConfig struct {
	skipSegments    bool
	skipTasks       bool
	skipEntities    bool
	skipPreferences bool
	maxSegments     int
	label           string
	metadata        map[string]string
}

// WithoutSegments forks without the parent's segment history.
func WithoutSegments() BranchOption {
	return func(c *branchConfig) { c.skipSegments = true }
}

// WithoutTasks forks without the parent's tasks.
func WithoutTasks() BranchOption {
	return func(c *branchConfig) { c.skipTasks = true }
}

// WithoutEntities forks without the parent's entity references.
func WithoutEntities() BranchOption {
	return func(c *branchConfig) { c.skipEntities = true }
}

// WithoutPreferences forks without the parent's preference map.
func WithoutPreferences() BranchOption {
	return func(c *branchConfig) { c.skipPreferences = true }
}

// WithMaxSegments keeps only the most recent n segments of the parent.
func WithMaxSegments(n int) BranchOption {
	return func(c *branchConfig) { c.maxSegments = n }
}

// WithLabel attaches a descriptive label to the branch.
func WithLabel(label string) BranchOption {
	return func(c *branchConfig) { c.label = label }
}

// WithBranchMetadata attaches key-value annotations to the branch.
func WithBranchMetadata(md map[string]string) BranchOption {
	return func(c *branchConfig) {
		if c.metadata == nil {
			c.metadata = map[string]string{}
		}
		for k, v := range md {
			c.metadata[k] = v
		}
	}
}

// Manager creates and tracks branches of one parent session. Branch
// names are unique per manager. Safe for concurrent use.
type Manager struct {
	parentID string

	mu       sync.Mutex
	branches map[string]*Branch
}

// NewManager returns a branch manager for the given parent session.
func NewManager(parentSessionID string) (*Manager, error) {
	if parentSessionID == "" {
		return nil, fmt.Errorf("parent session id must not be empty")
	}
	return &Manager{
		parentID: parentSessionID,
		branches: map[string]*Branch{},
	}, nil
}

// ParentSessionID returns the session all branches fork from.
func (m *Manager) ParentSessionID() string { return m.parentID }

// Create forks source into a new named branch. The branch record is a
// deep copy with parent_session_id pointing at this manager's parent,
// so the fork can be persisted as an ordinary continuation.
func (m *Manager) Create(source *session.Record, name string, opts ...BranchOption) (*Branch, error) {
	if name == "" {
		return nil, fmt.Errorf("branch name must not be empty")
	}
	if source == nil {
		return nil, fmt.Errorf("branch %q: nil source record", name)
	}
	var cfg branchConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	forked := source.Clone()
	forked.SessionID = session.NewSessionID()
	forked.ParentSessionID = m.parentID
	forked.Checksum = ""
	if cfg.skipSegments {
		forked.Segments = []session.Segment{}
	} else if cfg.maxSegments > 0 && len(forked.Segments) > cfg.maxSegments {
		forked.Segments = forked.Segments[len(forked.Segments)-cfg.maxSegments:]
	}
	if cfg.skipTasks {
		forked.Tasks = []session.TaskState{}
	}
	if cfg.skipEntities {
		forked.Entities = []session.EntityReference{}
	}
	if cfg.skipPreferences {
		forked.Preferences = map[string]string{}
	}

	branch := &Branch{
		ID:              uuid.NewString(),
		Name:            name,
		Label:           cfg.label,
		ParentSessionID: m.parentID,
		Record:          forked,
		CreatedAt:       time.Now().UTC(),
		Metadata:        cfg.metadata,
	}
	if branch.Metadata == nil {
		branch.Metadata = map[string]string{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.branches[name]; exists {
		return nil, fmt.Errorf("branch %q already exists for session %s", name, m.parentID)
	}
	m.branches[name] = branch
	return branch, nil
}

// Get returns the branch with the given name.
func (m *Manager) Get(name string) (*Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	branch, ok := m.branches[name]
	if !ok {
		return nil, fmt.Errorf("branch %q not found for session %s", name, m.parentID)
	}
	return branch, nil
}

// Names returns the branch names in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.branches))
	for name := range m.branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all branches sorted by name.
func (m *Manager) List() []*Branch {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.branches))
	for name := range m.branches {
		names = append(names, name)
	}
	sort.Strings(names)
	branches := make([]*Branch, len(names))
	for i, name := range names {
		branches[i] = m.branches[name]
	}
	return branches
}

// Delete removes a branch by name. It reports whether the branch existed.
func (m *Manager) Delete(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.branches[name]; !ok {
		return false
	}
	delete(m.branches, name)
	return true
}

// Clear removes every branch.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branches = map[string]*Branch{}
}

// Len returns the number of branches.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.branches)
}

// SegmentCounts maps each branch name to its segment count.
func (m *Manager) SegmentCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int, len(m.branches))
	for name, branch := range m.branches {
		counts[name] = branch.SegmentCount()
	}
	return counts
}

// TaskCounts maps each branch name to its task count.
func (m *Manager) TaskCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int, len(m.branches))
	for name, branch := range m.branches {
		counts[name] = branch.TaskCount()
	}
	return counts
}
