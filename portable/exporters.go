package portable

import (
	"time"

	"github.com/invincible-jha/agent-session-linker/session"
)

// Exporter converts a portable session to a framework-native document.
type Exporter interface {
	Export(p *PortableSession) map[string]any
}

// langchainRoles maps portable roles to LangChain message types.
var langchainRoles = map[session.Role]string{
	session.RoleUser:      "human",
	session.RoleAssistant: "ai",
	session.RoleSystem:    "system",
	session.RoleTool:      "function",
}

// LangChainExporter produces the LangChain memory document:
// messages typed human/ai/system/function plus memory_variables from
// the working memory.
type LangChainExporter struct{}

// Export converts p to LangChain memory format.
func (LangChainExporter) Export(p *PortableSession) map[string]any {
	messages := make([]map[string]any, 0, len(p.Messages))
	for _, msg := range p.Messages {
		msgType, ok := langchainRoles[msg.Role]
		if !ok {
			msgType = string(msg.Role)
		}
		messages = append(messages, map[string]any{
			"type":              msgType,
			"content":           msg.Content,
			"additional_kwargs": msg.Metadata,
		})
	}
	return map[string]any{
		"messages":         messages,
		"memory_variables": p.WorkingMemory,
	}
}

// CrewAIExporter produces the CrewAI context document: a context block
// with messages, working memory, and entities, plus task_results.
type CrewAIExporter struct{}

// Export converts p to CrewAI context format.
func (CrewAIExporter) Export(p *PortableSession) map[string]any {
	messages := make([]map[string]any, 0, len(p.Messages))
	for _, msg := range p.Messages {
		messages = append(messages, map[string]any{
			"role":      string(msg.Role),
			"content":   msg.Content,
			"timestamp": msg.Timestamp.Format(time.RFC3339Nano),
			"metadata":  msg.Metadata,
		})
	}
	entities := make([]map[string]any, 0, len(p.Entities))
	for _, ent := range p.Entities {
		entities = append(entities, map[string]any{
			"name":        ent.Name,
			"entity_type": string(ent.Type),
			"value":       ent.Value,
			"confidence":  ent.Confidence,
		})
	}
	tasks := make([]map[string]any, 0, len(p.Tasks))
	for _, task := range p.Tasks {
		tasks = append(tasks, map[string]any{
			"task_id":  task.TaskID,
			"status":   string(task.Status),
			"progress": task.Progress,
			"result":   task.Result,
		})
	}
	return map[string]any{
		"context": map[string]any{
			"session_id":       p.SessionID,
			"framework_source": p.FrameworkSource,
			"messages":         messages,
			"working_memory":   p.WorkingMemory,
			"entities":         entities,
		},
		"task_results": tasks,
	}
}

// OpenAIExporter produces the OpenAI thread document: a thread id and
// role/content message pairs. Roles pass through unchanged since the
// thread API accepts the full vocabulary.
type OpenAIExporter struct{}

// Export converts p to OpenAI thread format.
func (OpenAIExporter) Export(p *PortableSession) map[string]any {
	messages := make([]map[string]any, 0, len(p.Messages))
	for _, msg := range p.Messages {
		messages = append(messages, map[string]any{
			"role":    string(msg.Role),
			"content": msg.Content,
		})
	}
	return map[string]any{
		"thread_id": p.SessionID,
		"messages":  messages,
	}
}
