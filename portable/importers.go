package portable

import (
	"fmt"
	"time"

	"github.com/invincible-jha/agent-session-linker/session"
)

// Importer converts a framework-native document to a portable session.
type Importer interface {
	Import(data map[string]any) (*PortableSession, error)
}

// langchainTypes maps LangChain message types back to portable roles.
var langchainTypes = map[string]session.Role{
	"human":    session.RoleUser,
	"ai":       session.RoleAssistant,
	"system":   session.RoleSystem,
	"function": session.RoleTool,
	"tool":     session.RoleTool,
}

func newImported(source string) *PortableSession {
	now := time.Now().UTC()
	return &PortableSession{
		Version:         FormatVersion,
		SessionID:       session.NewSessionID(),
		CreatedAt:       now,
		UpdatedAt:       now,
		FrameworkSource: source,
		Messages:        []Message{},
		WorkingMemory:   map[string]string{},
		Entities:        []Entity{},
		Tasks:           []Task{},
		Metadata:        map[string]string{},
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

func asStringMap(v any) map[string]string {
	out := map[string]string{}
	if m, ok := v.(map[string]any); ok {
		for k, val := range m {
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

func asList(v any) []map[string]any {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func parseTimestamp(v any) time.Time {
	if s := asString(v); s != "" {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC()
			}
		}
	}
	return time.Now().UTC()
}

// LangChainImporter reads the LangChain memory document produced by
// LangChainExporter or by LangChain itself.
type LangChainImporter struct{}

// Import converts a LangChain memory document to a portable session.
func (LangChainImporter) Import(data map[string]any) (*PortableSession, error) {
	p := newImported("langchain")
	for i, raw := range asList(data["messages"]) {
		msgType := asString(raw["type"])
		role, ok := langchainTypes[msgType]
		if !ok {
			return nil, fmt.Errorf("import langchain session: message %d has unknown type %q", i, msgType)
		}
		p.Messages = append(p.Messages, Message{
			Role:      role,
			Content:   asString(raw["content"]),
			Timestamp: parseTimestamp(raw["timestamp"]),
			Metadata:  asStringMap(raw["additional_kwargs"]),
		})
	}
	p.WorkingMemory = asStringMap(data["memory_variables"])
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("import langchain session: %w", err)
	}
	return p, nil
}

// CrewAIImporter reads the CrewAI context document produced by
// CrewAIExporter or by CrewAI itself.
type CrewAIImporter struct{}

// Import converts a CrewAI context document to a portable session.
func (CrewAIImporter) Import(data map[string]any) (*PortableSession, error) {
	context, ok := data["context"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("import crewai session: missing context block")
	}
	p := newImported("crewai")
	if id := asString(context["session_id"]); id != "" {
		p.SessionID = id
	}
	for _, raw := range asList(context["messages"]) {
		p.Messages = append(p.Messages, Message{
			Role:      session.Role(asString(raw["role"])),
			Content:   asString(raw["content"]),
			Timestamp: parseTimestamp(raw["timestamp"]),
			Metadata:  asStringMap(raw["metadata"]),
		})
	}
	p.WorkingMemory = asStringMap(context["working_memory"])
	for _, raw := range asList(context["entities"]) {
		p.Entities = append(p.Entities, Entity{
			Name:       asString(raw["name"]),
			Type:       session.EntityType(asString(raw["entity_type"])),
			Value:      asString(raw["value"]),
			Confidence: asFloat(raw["confidence"]),
		})
	}
	for _, raw := range asList(data["task_results"]) {
		p.Tasks = append(p.Tasks, Task{
			TaskID:   asString(raw["task_id"]),
			Status:   session.TaskStatus(asString(raw["status"])),
			Progress: asFloat(raw["progress"]),
			Result:   asString(raw["result"]),
		})
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("import crewai session: %w", err)
	}
	return p, nil
}

// OpenAIImporter reads the OpenAI thread document produced by
// OpenAIExporter or by the Assistants API.
type OpenAIImporter struct{}

// Import converts an OpenAI thread document to a portable session.
func (OpenAIImporter) Import(data map[string]any) (*PortableSession, error) {
	p := newImported("openai")
	if id := asString(data["thread_id"]); id != "" {
		p.SessionID = id
	}
	for _, raw := range asList(data["messages"]) {
		p.Messages = append(p.Messages, Message{
			Role:      session.Role(asString(raw["role"])),
			Content:   asString(raw["content"]),
			Timestamp: time.Now().UTC(),
			Metadata:  map[string]string{},
		})
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("import openai session: %w", err)
	}
	return p, nil
}
