package portable

import (
	"encoding/json"
	"testing"

	"github.com/invincible-jha/agent-session-linker/session"
)

func interchangeSession(t *testing.T) *PortableSession {
	t.Helper()
	rec := session.NewRecord("agent-1")
	rec.AddSegment(session.RoleUser, "hello")
	rec.AddSegment(session.RoleAssistant, "hi, how can I help?")
	rec.AddSegment(session.RoleTool, "lookup result: 42")
	rec.AddTask("Answer the question").MarkCompleted()
	rec.TrackEntity("Alice", session.EntityPerson, session.WithConfidence(0.9))
	rec.Preferences["lang"] = "en"
	return FromRecord(rec)
}

func TestLangChainRoundTrip(t *testing.T) {
	p := interchangeSession(t)

	doc := LangChainExporter{}.Export(p)
	messages := doc["messages"].([]map[string]any)
	if len(messages) != 3 {
		t.Fatalf("exported %d messages, want 3", len(messages))
	}
	if messages[0]["type"] != "human" || messages[1]["type"] != "ai" || messages[2]["type"] != "function" {
		t.Errorf("role mapping wrong: %v %v %v",
			messages[0]["type"], messages[1]["type"], messages[2]["type"])
	}

	got, err := LangChainImporter{}.Import(jsonShape(t, doc))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if got.FrameworkSource != "langchain" {
		t.Errorf("framework source = %q", got.FrameworkSource)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("imported %d messages", len(got.Messages))
	}
	if got.Messages[0].Role != session.RoleUser || got.Messages[2].Role != session.RoleTool {
		t.Errorf("roles did not round-trip: %q %q", got.Messages[0].Role, got.Messages[2].Role)
	}
	if got.WorkingMemory["lang"] != "en" {
		t.Errorf("memory variables did not round-trip")
	}
}

func TestLangChainImportRejectsUnknownType(t *testing.T) {
	doc := map[string]any{
		"messages": []any{map[string]any{"type": "alien", "content": "??"}},
	}
	if _, err := (LangChainImporter{}).Import(doc); err == nil {
		t.Fatal("unknown message type accepted")
	}
}

func TestCrewAIRoundTrip(t *testing.T) {
	p := interchangeSession(t)

	doc := CrewAIExporter{}.Export(p)
	got, err := CrewAIImporter{}.Import(jsonShape(t, doc))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if got.SessionID != p.SessionID {
		t.Errorf("session id did not round-trip: %q", got.SessionID)
	}
	if len(got.Messages) != 3 || len(got.Entities) != 1 || len(got.Tasks) != 1 {
		t.Errorf("content sizes: %d/%d/%d", len(got.Messages), len(got.Entities), len(got.Tasks))
	}
	if got.Entities[0].Name != "Alice" || got.Entities[0].Confidence != 0.9 {
		t.Errorf("entity did not round-trip: %+v", got.Entities[0])
	}
	if got.Tasks[0].Status != session.TaskCompleted || got.Tasks[0].Progress != 1.0 {
		t.Errorf("task did not round-trip: %+v", got.Tasks[0])
	}
}

func TestCrewAIImportRequiresContext(t *testing.T) {
	if _, err := (CrewAIImporter{}).Import(map[string]any{"task_results": []any{}}); err == nil {
		t.Fatal("document without context block accepted")
	}
}

func TestOpenAIRoundTrip(t *testing.T) {
	p := interchangeSession(t)

	doc := OpenAIExporter{}.Export(p)
	if doc["thread_id"] != p.SessionID {
		t.Errorf("thread id = %v", doc["thread_id"])
	}

	got, err := OpenAIImporter{}.Import(jsonShape(t, doc))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if got.SessionID != p.SessionID || len(got.Messages) != 3 {
		t.Errorf("round trip lost data: %q, %d messages", got.SessionID, len(got.Messages))
	}
}

func TestMigratorPaths(t *testing.T) {
	m := NewMigrator()
	m.Register("1.0", "2.0", func(payload map[string]any) (map[string]any, error) {
		out := make(map[string]any, len(payload)+1)
		for k, v := range payload {
			out[k] = v
		}
		out["compression"] = "none"
		return out, nil
	})

	payload := map[string]any{"version": "1.0", "session_id": "sess_1"}

	migrated, err := m.Migrate(payload, "2.0")
	if err != nil {
		t.Fatal(err)
	}
	if migrated["version"] != "2.0" || migrated["compression"] != "none" {
		t.Errorf("migrated payload: %v", migrated)
	}
	if payload["version"] != "1.0" {
		t.Errorf("input payload mutated")
	}

	// Already at target: unchanged.
	same, err := m.Migrate(payload, "1.0")
	if err != nil {
		t.Fatal(err)
	}
	if same["version"] != "1.0" {
		t.Errorf("no-op migration changed the payload")
	}

	// Unregistered path: error.
	if _, err := m.Migrate(payload, "3.0"); err == nil {
		t.Fatal("unregistered migration path accepted")
	}
}

func TestMigratorDetectVersion(t *testing.T) {
	m := NewMigrator()
	if v := m.DetectVersion(map[string]any{"version": "2.0"}); v != "2.0" {
		t.Errorf("DetectVersion = %q", v)
	}
	if v := m.DetectVersion(map[string]any{}); v != FormatVersion {
		t.Errorf("DetectVersion fallback = %q", v)
	}
}

// jsonShape normalizes an exported document through encoding/json so
// importers see the same generic shapes a wire transfer would produce.
func jsonShape(t *testing.T, doc map[string]any) map[string]any {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	return out
}
