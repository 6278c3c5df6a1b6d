package filter

import (
	"testing"
	"time"

	"github.com/invincible-jha/agent-session-linker/session"
)

func summaries() []session.Summary {
	now := time.Now().UTC()
	return []session.Summary{
		{SessionID: "sess_a", AgentID: "research", SegmentCount: 12, TokenCount: 5200, UpdatedAt: now.Add(-2 * time.Hour)},
		{SessionID: "sess_b", AgentID: "research", SegmentCount: 3, TokenCount: 800, Continuation: true, UpdatedAt: now.Add(-72 * time.Hour)},
		{SessionID: "sess_c", AgentID: "support", SegmentCount: 40, TokenCount: 9100, UpdatedAt: now.Add(-30 * time.Minute)},
	}
}

func TestCompileRejectsBadExpressions(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"syntax error", "agent_id =="},
		{"unknown variable", "framework == \"x\""},
		{"not boolean", "token_count + 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile(tt.source); err == nil {
				t.Errorf("Compile(%q) accepted", tt.source)
			}
		})
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []string
	}{
		{"by agent", `agent_id == "research"`, []string{"sess_a", "sess_b"}},
		{"by tokens", "token_count > 4000", []string{"sess_a", "sess_c"}},
		{"continuations", "continuation", []string{"sess_b"}},
		{"combined", `agent_id == "research" && token_count > 4000`, []string{"sess_a"}},
		{"recent", "age_hours < 24", []string{"sess_a", "sess_c"}},
		{"none", "segment_count > 100", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Compile(tt.source)
			if err != nil {
				t.Fatalf("Compile(%q): %v", tt.source, err)
			}
			got, err := f.Apply(summaries())
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("matched %d sessions, want %d", len(got), len(tt.want))
			}
			for i, s := range got {
				if s.SessionID != tt.want[i] {
					t.Errorf("match[%d] = %s, want %s", i, s.SessionID, tt.want[i])
				}
			}
		})
	}
}

func TestNilFilterMatchesAll(t *testing.T) {
	var f *Filter
	got, err := f.Apply(summaries())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("nil filter matched %d, want all 3", len(got))
	}
}
