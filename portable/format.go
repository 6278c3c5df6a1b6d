// Package portable moves sessions between deployments and between agent
// frameworks. PortableSession is the neutral interchange schema;
// exporters and importers convert it to and from framework-native
// shapes, and the archive path round-trips a full session record with
// its checksum intact.
package portable

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/invincible-jha/agent-session-linker/session"
)

// FormatVersion is the portable schema emitted by this package.
const FormatVersion = "1.0"

// Message is one conversation turn in the portable schema.
type Message struct {
	Role      session.Role      `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata"`
}

// Entity is a named entity in the portable schema.
type Entity struct {
	Name       string             `json:"name"`
	Type       session.EntityType `json:"entity_type"`
	Value      string             `json:"value"`
	Confidence float64            `json:"confidence"`
}

// Task is a tracked task in the portable schema. Progress is a
// completion fraction in [0, 1].
type Task struct {
	TaskID   string             `json:"task_id"`
	Status   session.TaskStatus `json:"status"`
	Progress float64            `json:"progress"`
	Result   string             `json:"result"`
}

// PortableSession is the framework-agnostic snapshot of a session.
// Import from a source framework, operate on this, export to the target.
type PortableSession struct {
	Version         string            `json:"version"`
	SessionID       string            `json:"session_id"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	FrameworkSource string            `json:"framework_source"`
	Messages        []Message         `json:"messages"`
	WorkingMemory   map[string]string `json:"working_memory"`
	Entities        []Entity          `json:"entities"`
	Tasks           []Task            `json:"task_state"`
	Metadata        map[string]string `json:"metadata"`
}

var validRoles = map[session.Role]bool{
	session.RoleUser:      true,
	session.RoleAssistant: true,
	session.RoleSystem:    true,
	session.RoleTool:      true,
}

var validStatuses = map[session.TaskStatus]bool{
	session.TaskPending:    true,
	session.TaskInProgress: true,
	session.TaskCompleted:  true,
	session.TaskFailed:     true,
	session.TaskCancelled:  true,
}

// Validate checks the schema constraints: a supported version, valid
// message roles, valid task statuses, and fractions within [0, 1].
func (p *PortableSession) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("portable session: version must not be empty")
	}
	for i, msg := range p.Messages {
		if !validRoles[msg.Role] {
			return fmt.Errorf("portable session: message %d has invalid role %q", i, msg.Role)
		}
	}
	for i, ent := range p.Entities {
		if ent.Confidence < 0 || ent.Confidence > 1 {
			return fmt.Errorf("portable session: entity %d confidence %v outside [0, 1]", i, ent.Confidence)
		}
	}
	for i, task := range p.Tasks {
		if !validStatuses[task.Status] {
			return fmt.Errorf("portable session: task %d has invalid status %q", i, task.Status)
		}
		if task.Progress < 0 || task.Progress > 1 {
			return fmt.Errorf("portable session: task %d progress %v outside [0, 1]", i, task.Progress)
		}
	}
	return nil
}

// Marshal serializes the portable session to JSON after validation.
func (p *PortableSession) Marshal() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// Parse deserializes and validates a portable session.
func Parse(data []byte) (*PortableSession, error) {
	var p PortableSession
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse portable session: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// FromRecord projects a session record into the portable schema. Task
// progress is derived from status; tool invocations and cost are carried
// in the metadata map since no framework format has a slot for them.
func FromRecord(rec *session.Record) *PortableSession {
	p := &PortableSession{
		Version:         FormatVersion,
		SessionID:       rec.SessionID,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
		FrameworkSource: "agent-session-linker",
		Messages:        make([]Message, 0, len(rec.Segments)),
		WorkingMemory:   map[string]string{},
		Entities:        make([]Entity, 0, len(rec.Entities)),
		Tasks:           make([]Task, 0, len(rec.Tasks)),
		Metadata: map[string]string{
			"agent_id": rec.AgentID,
		},
	}
	for k, v := range rec.Preferences {
		p.WorkingMemory[k] = v
	}
	if rec.Summary != "" {
		p.Metadata["summary"] = rec.Summary
	}
	for _, seg := range rec.Segments {
		md := map[string]string{"segment_type": string(seg.Type)}
		for k, v := range seg.Metadata {
			md[k] = v
		}
		p.Messages = append(p.Messages, Message{
			Role:      seg.Role,
			Content:   seg.Content,
			Timestamp: seg.Timestamp,
			Metadata:  md,
		})
	}
	for _, ent := range rec.Entities {
		p.Entities = append(p.Entities, Entity{
			Name:       ent.CanonicalName,
			Type:       ent.Type,
			Value:      ent.CanonicalName,
			Confidence: ent.Confidence,
		})
	}
	for _, task := range rec.Tasks {
		p.Tasks = append(p.Tasks, Task{
			TaskID:   task.ID,
			Status:   task.Status,
			Progress: taskProgress(task.Status),
			Result:   task.Notes,
		})
	}
	return p
}

func taskProgress(status session.TaskStatus) float64 {
	switch status {
	case session.TaskCompleted:
		return 1.0
	case session.TaskInProgress:
		return 0.5
	default:
		return 0.0
	}
}

// Archive is the envelope for moving a session out of the store
// entirely. It carries both the portable projection (for foreign
// consumers) and the canonical record encoding with its checksum (for
// lossless reimport).
type Archive struct {
	FormatVersion string           `json:"format_version"`
	ExportedAt    time.Time        `json:"exported_at"`
	Portable      *PortableSession `json:"portable"`
	Record        json.RawMessage  `json:"record"`
}

// Export serializes rec into an archive blob that round-trips the full
// record including its checksum.
func Export(rec *session.Record) ([]byte, error) {
	codec := session.NewSerializer()
	canon, err := codec.Encode(rec)
	if err != nil {
		return nil, fmt.Errorf("export session %s: %w", rec.SessionID, err)
	}
	archive := Archive{
		FormatVersion: FormatVersion,
		ExportedAt:    time.Now().UTC(),
		Portable:      FromRecord(rec),
		Record:        json.RawMessage(canon),
	}
	return json.Marshal(archive)
}

// Import deserializes an archive and re-verifies the embedded record's
// checksum exactly as a load does. A corrupted or tampered archive is
// rejected, never silently accepted.
func Import(data []byte) (*session.Record, error) {
	var archive Archive
	if err := json.Unmarshal(data, &archive); err != nil {
		return nil, fmt.Errorf("import session: %w", err)
	}
	if len(archive.Record) == 0 {
		return nil, fmt.Errorf("import session: archive has no record payload")
	}
	rec, err := session.NewSerializer().Decode(archive.Record)
	if err != nil {
		return nil, fmt.Errorf("import session: %w", err)
	}
	return rec, nil
}
