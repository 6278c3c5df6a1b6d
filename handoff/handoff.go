// Package handoff packages a session's working context for transfer to
// another agent: active tasks, high-confidence entities, the most recent
// segments that fit a token budget, and preferences.
package handoff

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/invincible-jha/agent-session-linker/session"
)

// Builder defaults.
const (
	DefaultTokenBudget   = 2000
	DefaultMinConfidence = 0.75
)

// Payload is the immutable snapshot handed from one agent to another.
type Payload struct {
	HandoffID       string                    `json:"handoff_id"`
	SourceSessionID string                    `json:"source_session_id"`
	SourceAgentID   string                    `json:"source_agent_id"`
	TargetAgentID   string                    `json:"target_agent_id"`
	Reason          string                    `json:"reason"`
	Segments        []session.Segment         `json:"segments"`
	Entities        []session.EntityReference `json:"entities"`
	Tasks           []session.TaskState       `json:"tasks"`
	Preferences     map[string]string         `json:"preferences"`
	Summary         string                    `json:"summary"`
	TokenCount      int                       `json:"token_count"`
	CreatedAt       time.Time                 `json:"created_at"`
	Metadata        map[string]string         `json:"metadata"`
}

// String returns a one-line description of the payload.
func (p *Payload) String() string {
	return fmt.Sprintf("Handoff %s | %s -> %s | %d segments, %d tasks, %d entities | reason=%q",
		session.ShortID(p.HandoffID), p.SourceAgentID, p.TargetAgentID,
		len(p.Segments), len(p.Tasks), len(p.Entities), p.Reason)
}

// Marshal serializes the payload for transport.
func (p *Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Parse deserializes a payload produced by Marshal.
func Parse(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse handoff payload: %w", err)
	}
	if p.SourceSessionID == "" || p.TargetAgentID == "" {
		return nil, fmt.Errorf("parse handoff payload: missing source session or target agent")
	}
	return &p, nil
}

// Builder selects what a handoff carries. Zero values select everything
// recent and relevant under the default budget.
type Builder struct {
	budget        int
	maxSegments   int
	minConfidence float64
	segmentTypes  map[session.SegmentType]bool
	omitEntities  bool
	omitTasks     bool
	omitPrefs     bool
	omitSummary   bool
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithTokenBudget caps the summed token count of transferred segments.
// Default 2000.
func WithTokenBudget(tokens int) BuilderOption {
	return func(b *Builder) { b.budget = tokens }
}

// WithMaxSegments caps how many segments are transferred regardless of
// budget. Zero means no cap.
func WithMaxSegments(n int) BuilderOption {
	return func(b *Builder) { b.maxSegments = n }
}

// WithMinConfidence sets the confidence floor for transferred entities.
// Default 0.75.
func WithMinConfidence(c float64) BuilderOption {
	return func(b *Builder) { b.minConfidence = c }
}

// WithSegmentTypes restricts transferred segments to the given types.
func WithSegmentTypes(types ...session.SegmentType) BuilderOption {
	return func(b *Builder) {
		b.segmentTypes = make(map[session.SegmentType]bool, len(types))
		for _, t := range types {
			b.segmentTypes[t] = true
		}
	}
}

// WithoutEntities omits entity references from the payload.
func WithoutEntities() BuilderOption {
	return func(b *Builder) { b.omitEntities = true }
}

// WithoutTasks omits task states from the payload.
func WithoutTasks() BuilderOption {
	return func(b *Builder) { b.omitTasks = true }
}

// WithoutPreferences omits the preference map from the payload.
func WithoutPreferences() BuilderOption {
	return func(b *Builder) { b.omitPrefs = true }
}

// WithoutSummary omits the session summary from the payload.
func WithoutSummary() BuilderOption {
	return func(b *Builder) { b.omitSummary = true }
}

// NewBuilder returns a builder with the default selection policy.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		budget:        DefaultTokenBudget,
		minConfidence: DefaultMinConfidence,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles a handoff payload from rec. Segments are taken newest
// first until the token budget or segment cap is reached, then restored
// to chronological order. Only non-terminal tasks and entities at or
// above the confidence floor are carried.
func (b *Builder) Build(rec *session.Record, targetAgentID, reason string) (*Payload, error) {
	if rec == nil {
		return nil, fmt.Errorf("build handoff: nil record")
	}
	if targetAgentID == "" {
		return nil, fmt.Errorf("build handoff: target agent id must not be empty")
	}

	payload := &Payload{
		HandoffID:       uuid.NewString(),
		SourceSessionID: rec.SessionID,
		SourceAgentID:   rec.AgentID,
		TargetAgentID:   targetAgentID,
		Reason:          reason,
		Preferences:     map[string]string{},
		CreatedAt:       time.Now().UTC(),
		Metadata:        map[string]string{},
	}

	payload.Segments, payload.TokenCount = b.selectSegments(rec)

	if !b.omitEntities {
		for _, ent := range rec.Entities {
			if ent.Confidence >= b.minConfidence {
				payload.Entities = append(payload.Entities, ent)
			}
		}
	}
	if !b.omitTasks {
		for _, task := range rec.Tasks {
			if !task.Status.Terminal() {
				payload.Tasks = append(payload.Tasks, task)
			}
		}
	}
	if !b.omitPrefs {
		for k, v := range rec.Preferences {
			payload.Preferences[k] = v
		}
	}
	if !b.omitSummary {
		payload.Summary = rec.Summary
	}
	return payload, nil
}

func (b *Builder) selectSegments(rec *session.Record) ([]session.Segment, int) {
	eligible := make([]session.Segment, 0, len(rec.Segments))
	for _, seg := range rec.Segments {
		if b.segmentTypes != nil && !b.segmentTypes[seg.Type] {
			continue
		}
		eligible = append(eligible, seg)
	}

	used := 0
	picked := 0
	for i := len(eligible) - 1; i >= 0; i-- {
		if b.maxSegments > 0 && picked >= b.maxSegments {
			break
		}
		if used+eligible[i].TokenCount > b.budget {
			break
		}
		used += eligible[i].TokenCount
		picked++
	}
	return eligible[len(eligible)-picked:], used
}
