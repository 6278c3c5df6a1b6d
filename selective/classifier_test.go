package selective

import (
	"testing"

	"github.com/invincible-jha/agent-session-linker/session"
)

func segmentWith(role session.Role, content string, metadata map[string]string) session.Segment {
	rec := session.NewRecord("agent-1")
	seg := rec.AddSegment(role, content)
	for k, v := range metadata {
		seg.Metadata[k] = v
	}
	return *seg
}

func TestClassifyByContent(t *testing.T) {
	tests := []struct {
		name    string
		role    session.Role
		content string
		want    Class
	}{
		{"preference keyword", session.RoleUser, "I prefer JSON output for all responses", ClassPreference},
		{"task keyword", session.RoleAssistant, "Current task: migrate the billing tables", ClassTaskState},
		{"reasoning keyword", session.RoleAssistant, "I chose Postgres because the data is relational", ClassReasoning},
		{"metadata keyword", session.RoleTool, "trace_id=abc123 span_id=def456", ClassMetadata},
		{"plain chat", session.RoleUser, "Hello there, how is the weather?", ClassChat},
	}

	c := NewClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(ptrTo(segmentWith(tt.role, tt.content, nil)))
			if got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestClassifySystemRoleIsMetadata(t *testing.T) {
	c := NewClassifier()
	seg := segmentWith(session.RoleSystem, "You are a helpful assistant", nil)
	if got := c.Classify(&seg); got != ClassMetadata {
		t.Errorf("system segment classified as %q, want %q", got, ClassMetadata)
	}
}

func TestClassifyTrustsExplicitClass(t *testing.T) {
	c := NewClassifier()
	seg := segmentWith(session.RoleUser, "Hello there", map[string]string{"segment_type": "preference"})
	if got := c.Classify(&seg); got != ClassPreference {
		t.Errorf("explicit class ignored: got %q, want %q", got, ClassPreference)
	}

	// An invalid explicit class falls through to the rules.
	seg = segmentWith(session.RoleUser, "Hello there", map[string]string{"segment_type": "nonsense"})
	if got := c.Classify(&seg); got != ClassChat {
		t.Errorf("invalid explicit class: got %q, want %q", got, ClassChat)
	}
}

func TestClassifyWithoutExplicitTrust(t *testing.T) {
	c := NewClassifier(WithoutExplicitTrust())
	seg := segmentWith(session.RoleUser, "I prefer concise answers", map[string]string{"segment_type": "chat"})
	if got := c.Classify(&seg); got != ClassPreference {
		t.Errorf("distrusted classifier got %q, want %q", got, ClassPreference)
	}
}

func TestClassifyCustomRulesAndFallback(t *testing.T) {
	rules := []Rule{
		{Class: ClassTaskState, Field: "role", Value: "tool", Priority: 5},
	}
	c := NewClassifier(WithRules(rules), WithFallback(ClassUnknown))

	toolSeg := segmentWith(session.RoleTool, "ran deploy", nil)
	if got := c.Classify(&toolSeg); got != ClassTaskState {
		t.Errorf("custom rule got %q, want %q", got, ClassTaskState)
	}
	chatSeg := segmentWith(session.RoleUser, "hi", nil)
	if got := c.Classify(&chatSeg); got != ClassUnknown {
		t.Errorf("fallback got %q, want %q", got, ClassUnknown)
	}
}

func TestClassifyAllKeepsOrder(t *testing.T) {
	c := NewClassifier()
	rec := session.NewRecord("agent-1")
	rec.AddSegment(session.RoleUser, "I prefer tabs over spaces")
	rec.AddSegment(session.RoleUser, "what time is it?")

	classes := c.ClassifyAll(rec.Segments)
	if len(classes) != 2 {
		t.Fatalf("ClassifyAll returned %d classes, want 2", len(classes))
	}
	if classes[0] != ClassPreference || classes[1] != ClassChat {
		t.Errorf("classes = %v, want [preference chat]", classes)
	}
}

func TestParseClass(t *testing.T) {
	if got, ok := ParseClass(" Task_State "); !ok || got != ClassTaskState {
		t.Errorf("ParseClass(task_state) = %q, %v", got, ok)
	}
	if _, ok := ParseClass("bogus"); ok {
		t.Error("ParseClass accepted an unknown class")
	}
}

func ptrTo(seg session.Segment) *session.Segment { return &seg }
