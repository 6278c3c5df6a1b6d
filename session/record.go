// Package session defines the session record model, its canonical
// serializer, and the lifecycle manager that persists records through a
// storage backend.
package session

import (
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is the record schema emitted by this package.
const SchemaVersion = "1.0"

// Role identifies the author of a context segment.
type Role string

// Segment roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// SegmentType categorizes what a context segment contains.
type SegmentType string

// Segment categories.
const (
	SegmentConversation SegmentType = "conversation"
	SegmentReasoning    SegmentType = "reasoning"
	SegmentCode         SegmentType = "code"
	SegmentPlan         SegmentType = "plan"
	SegmentOutput       SegmentType = "output"
	SegmentMetadata     SegmentType = "metadata"
)

// EntityType categorizes a tracked entity.
type EntityType string

// Entity categories.
const (
	EntityPerson       EntityType = "person"
	EntityProject      EntityType = "project"
	EntityFile         EntityType = "file"
	EntityConcept      EntityType = "concept"
	EntityTool         EntityType = "tool"
	EntityOrganisation EntityType = "organisation"
)

// TaskStatus is the lifecycle state of a tracked task.
type TaskStatus string

// Task lifecycle states.
const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether s is a final state that a task cannot leave.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// Segment is one captured unit of conversation context.
type Segment struct {
	ID         string            `json:"segment_id"`
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	TokenCount int               `json:"token_count"`
	Type       SegmentType       `json:"segment_type"`
	Timestamp  time.Time         `json:"timestamp"`
	TurnIndex  int               `json:"turn_index"`
	Metadata   map[string]string `json:"metadata"`
}

// EntityReference is a cross-session pointer to a tracked entity.
type EntityReference struct {
	ID               string            `json:"entity_id"`
	CanonicalName    string            `json:"canonical_name"`
	Type             EntityType        `json:"entity_type"`
	Aliases          []string          `json:"aliases"`
	Attributes       map[string]string `json:"attributes"`
	FirstSeenSession string            `json:"first_seen_session"`
	LastSeenSession  string            `json:"last_seen_session"`
	Confidence       float64           `json:"confidence"`
}

// HasAlias reports whether name matches the canonical name or any alias,
// ignoring case.
func (e *EntityReference) HasAlias(name string) bool {
	if strings.EqualFold(e.CanonicalName, name) {
		return true
	}
	for _, alias := range e.Aliases {
		if strings.EqualFold(alias, name) {
			return true
		}
	}
	return false
}

// TaskState is a tracked unit of work with its lifecycle status.
type TaskState struct {
	ID           string     `json:"task_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Status       TaskStatus `json:"status"`
	Priority     int        `json:"priority"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ParentTaskID string     `json:"parent_task_id,omitempty"`
	Tags         []string   `json:"tags"`
	Notes        string     `json:"notes"`
}

// MarkInProgress transitions the task to in_progress.
func (t *TaskState) MarkInProgress() {
	t.Status = TaskInProgress
	t.UpdatedAt = time.Now().UTC()
}

// MarkCompleted transitions the task to completed.
func (t *TaskState) MarkCompleted() {
	t.Status = TaskCompleted
	t.UpdatedAt = time.Now().UTC()
}

// MarkFailed transitions the task to failed.
func (t *TaskState) MarkFailed() {
	t.Status = TaskFailed
	t.UpdatedAt = time.Now().UTC()
}

// ToolContext records a single tool invocation.
type ToolContext struct {
	ID            string    `json:"invocation_id"`
	ToolName      string    `json:"tool_name"`
	InputSummary  string    `json:"input_summary"`
	OutputSummary string    `json:"output_summary"`
	DurationMS    float64   `json:"duration_ms"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"error_message"`
	Timestamp     time.Time `json:"timestamp"`
	TokenCost     int       `json:"token_cost"`
}

// Record is the complete snapshot of an agent session. It aggregates all
// captured context, entity references, task states, and tool invocations
// for one session.
type Record struct {
	SessionID       string            `json:"session_id"`
	AgentID         string            `json:"agent_id"`
	SchemaVersion   string            `json:"schema_version"`
	Segments        []Segment         `json:"segments"`
	Entities        []EntityReference `json:"entities"`
	Tasks           []TaskState       `json:"tasks"`
	ToolsUsed       []ToolContext     `json:"tools_used"`
	Preferences     map[string]string `json:"preferences"`
	Summary         string            `json:"summary"`
	ParentSessionID string            `json:"parent_session_id,omitempty"`
	TotalCostUSD    float64           `json:"total_cost_usd"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Checksum        string            `json:"checksum"`
}

// NewRecord returns a fresh empty session for the given agent.
func NewRecord(agentID string) *Record {
	now := time.Now().UTC()
	return &Record{
		SessionID:     NewSessionID(),
		AgentID:       agentID,
		SchemaVersion: SchemaVersion,
		Segments:      []Segment{},
		Entities:      []EntityReference{},
		Tasks:         []TaskState{},
		ToolsUsed:     []ToolContext{},
		Preferences:   map[string]string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SegmentOption customizes a segment created by AddSegment.
type SegmentOption func(*Segment)

// WithTokenCount overrides the estimated token count.
func WithTokenCount(n int) SegmentOption {
	return func(s *Segment) { s.TokenCount = n }
}

// WithSegmentType sets the segment category. Defaults to conversation.
func WithSegmentType(t SegmentType) SegmentOption {
	return func(s *Segment) { s.Type = t }
}

// WithSegmentMetadata attaches key-value metadata to the segment.
func WithSegmentMetadata(md map[string]string) SegmentOption {
	return func(s *Segment) {
		for k, v := range md {
			s.Metadata[k] = v
		}
	}
}

// AddSegment appends a new context segment and returns a pointer to it.
// The turn index is assigned from the current segment count. The token
// count defaults to a length-based estimate; override with WithTokenCount.
func (r *Record) AddSegment(role Role, content string, opts ...SegmentOption) *Segment {
	seg := Segment{
		ID:         NewSegmentID(),
		Role:       role,
		Content:    content,
		TokenCount: EstimateTokens(content),
		Type:       SegmentConversation,
		Timestamp:  time.Now().UTC(),
		TurnIndex:  len(r.Segments),
		Metadata:   map[string]string{},
	}
	for _, opt := range opts {
		opt(&seg)
	}
	r.Segments = append(r.Segments, seg)
	r.UpdatedAt = time.Now().UTC()
	return &r.Segments[len(r.Segments)-1]
}

// EntityOption customizes an entity created by TrackEntity.
type EntityOption func(*EntityReference)

// WithAliases adds alternative names for the entity.
func WithAliases(aliases ...string) EntityOption {
	return func(e *EntityReference) { e.Aliases = append(e.Aliases, aliases...) }
}

// WithAttributes attaches descriptive key-value attributes.
func WithAttributes(attrs map[string]string) EntityOption {
	return func(e *EntityReference) {
		for k, v := range attrs {
			e.Attributes[k] = v
		}
	}
}

// WithConfidence sets the extraction confidence. Values are clamped to
// [0, 1]. Defaults to 1.
func WithConfidence(c float64) EntityOption {
	return func(e *EntityReference) { e.Confidence = clamp01(c) }
}

// TrackEntity adds or refreshes an entity reference on this session. When
// an entity with the same canonical name already exists (case-insensitive)
// its last-seen session is refreshed and it is returned unchanged.
func (r *Record) TrackEntity(canonicalName string, entityType EntityType, opts ...EntityOption) *EntityReference {
	if existing := r.FindEntity(canonicalName); existing != nil {
		existing.LastSeenSession = r.SessionID
		return existing
	}
	ent := EntityReference{
		ID:               NewEntityID(),
		CanonicalName:    canonicalName,
		Type:             entityType,
		Aliases:          []string{},
		Attributes:       map[string]string{},
		FirstSeenSession: r.SessionID,
		LastSeenSession:  r.SessionID,
		Confidence:       1.0,
	}
	for _, opt := range opts {
		opt(&ent)
	}
	r.Entities = append(r.Entities, ent)
	r.UpdatedAt = time.Now().UTC()
	return &r.Entities[len(r.Entities)-1]
}

// FindEntity returns the entity whose canonical name or alias matches name
// (case-insensitive), or nil when the session tracks no such entity.
func (r *Record) FindEntity(name string) *EntityReference {
	for i := range r.Entities {
		if r.Entities[i].HasAlias(name) {
			return &r.Entities[i]
		}
	}
	return nil
}

// TaskOption customizes a task created by AddTask.
type TaskOption func(*TaskState)

// WithDescription sets the task description.
func WithDescription(desc string) TaskOption {
	return func(t *TaskState) { t.Description = desc }
}

// WithPriority sets the task priority, clamped to [1, 10]. 1 is highest.
func WithPriority(p int) TaskOption {
	return func(t *TaskState) { t.Priority = clampPriority(p) }
}

// WithTags attaches free-form labels to the task.
func WithTags(tags ...string) TaskOption {
	return func(t *TaskState) { t.Tags = append(t.Tags, tags...) }
}

// WithParentTask links the task under a parent for sub-task hierarchies.
func WithParentTask(parentID string) TaskOption {
	return func(t *TaskState) { t.ParentTaskID = parentID }
}

// AddTask creates and appends a new pending task.
func (r *Record) AddTask(title string, opts ...TaskOption) *TaskState {
	now := time.Now().UTC()
	task := TaskState{
		ID:        NewTaskID(),
		Title:     title,
		Status:    TaskPending,
		Priority:  5,
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      []string{},
	}
	for _, opt := range opts {
		opt(&task)
	}
	r.Tasks = append(r.Tasks, task)
	r.UpdatedAt = now
	return &r.Tasks[len(r.Tasks)-1]
}

// TaskUpdate mutates a task during UpdateTask.
type TaskUpdate func(*TaskState)

// SetStatus changes the task status.
func SetStatus(s TaskStatus) TaskUpdate {
	return func(t *TaskState) { t.Status = s }
}

// SetPriority changes the task priority, clamped to [1, 10].
func SetPriority(p int) TaskUpdate {
	return func(t *TaskState) { t.Priority = clampPriority(p) }
}

// AppendNote appends a line to the task notes.
func AppendNote(note string) TaskUpdate {
	return func(t *TaskState) {
		t.Notes = strings.TrimSpace(t.Notes + "\n" + note)
	}
}

// UpdateTask applies updates to the task with the given ID.
func (r *Record) UpdateTask(taskID string, updates ...TaskUpdate) (*TaskState, error) {
	for i := range r.Tasks {
		if r.Tasks[i].ID != taskID {
			continue
		}
		task := &r.Tasks[i]
		for _, update := range updates {
			update(task)
		}
		now := time.Now().UTC()
		task.UpdatedAt = now
		r.UpdatedAt = now
		return task, nil
	}
	return nil, fmt.Errorf("task %q not found in session %q", taskID, r.SessionID)
}

// RecordToolUse appends a tool invocation to the session log. Missing
// invocation IDs and timestamps are filled in.
func (r *Record) RecordToolUse(tc ToolContext) *ToolContext {
	if tc.ID == "" {
		tc.ID = NewToolID()
	}
	if tc.Timestamp.IsZero() {
		tc.Timestamp = time.Now().UTC()
	}
	r.ToolsUsed = append(r.ToolsUsed, tc)
	r.UpdatedAt = time.Now().UTC()
	return &r.ToolsUsed[len(r.ToolsUsed)-1]
}

// TotalTokens returns the sum of token counts across all segments.
func (r *Record) TotalTokens() int {
	total := 0
	for _, seg := range r.Segments {
		total += seg.TokenCount
	}
	return total
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := *r
	out.Segments = make([]Segment, len(r.Segments))
	for i, seg := range r.Segments {
		seg.Metadata = copyMap(seg.Metadata)
		out.Segments[i] = seg
	}
	out.Entities = make([]EntityReference, len(r.Entities))
	for i, ent := range r.Entities {
		ent.Aliases = append([]string(nil), ent.Aliases...)
		ent.Attributes = copyMap(ent.Attributes)
		out.Entities[i] = ent
	}
	out.Tasks = make([]TaskState, len(r.Tasks))
	for i, task := range r.Tasks {
		task.Tags = append([]string(nil), task.Tags...)
		out.Tasks[i] = task
	}
	out.ToolsUsed = append([]ToolContext(nil), r.ToolsUsed...)
	// Hand-built records may lack the preference map NewRecord provides;
	// clones always carry a writable one.
	out.Preferences = copyMap(r.Preferences)
	if out.Preferences == nil {
		out.Preferences = map[string]string{}
	}
	return &out
}

// EstimateTokens returns a cheap length-based token estimate for text.
// The estimate is one token per four bytes, never less than 1.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}
