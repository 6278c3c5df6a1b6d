package selective

import (
	"strings"
	"testing"

	"github.com/invincible-jha/agent-session-linker/session"
)

func TestScorePriors(t *testing.T) {
	tests := []struct {
		class Class
		want  float64
	}{
		{ClassPreference, 0.90},
		{ClassTaskState, 0.85},
		{ClassReasoning, 0.60},
		{ClassMetadata, 0.50},
		{ClassChat, 0.30},
		{ClassUnknown, 0.40},
	}
	for _, tt := range tests {
		if got := Prior(tt.class); got != tt.want {
			t.Errorf("Prior(%q) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestScoreKeywordBoost(t *testing.T) {
	s := NewScorer()
	rec := session.NewRecord("agent-1")
	plain := rec.AddSegment(session.RoleUser, "just catching up on things")
	urgent := rec.AddSegment(session.RoleUser, "this is urgent, deploy is blocked")

	plainScore := s.Score(plain, ClassChat, 0).Score
	urgentScore := s.Score(urgent, ClassChat, 0).Score
	if urgentScore-plainScore < 0.09 {
		t.Errorf("keyword boost missing: plain=%v urgent=%v", plainScore, urgentScore)
	}
}

func TestScoreRecencyBoost(t *testing.T) {
	s := NewScorer()
	rec := session.NewRecord("agent-1")
	rec.AddSegment(session.RoleUser, "oldest message here")
	rec.AddSegment(session.RoleUser, "middle message here")
	rec.AddSegment(session.RoleUser, "newest message here")

	scored := s.ScoreAll(NewClassifier(), rec.Segments)
	if scored[2].Score <= scored[0].Score {
		t.Errorf("newest (%v) should outscore oldest (%v)", scored[2].Score, scored[0].Score)
	}
}

func TestScoreClampedToOne(t *testing.T) {
	s := NewScorer(WithClassModifiers(map[Class]float64{ClassPreference: 0.5}))
	rec := session.NewRecord("agent-1")
	seg := rec.AddSegment(session.RoleUser, "always remember this critical preference")
	if got := s.Score(seg, ClassPreference, 1).Score; got != 1 {
		t.Errorf("score = %v, want clamped 1", got)
	}
}

func TestLoadRespectsBudget(t *testing.T) {
	rec := session.NewRecord("agent-1")
	for i := 0; i < 20; i++ {
		rec.AddSegment(session.RoleUser,
			"I prefer detailed answers with sources "+strings.Repeat("x ", 40),
			session.WithTokenCount(100))
	}

	l := NewLoader(WithLoadBudget(350))
	result := l.Load(rec)

	if result.TokensLoaded > 350 {
		t.Errorf("TokensLoaded = %d exceeds budget 350", result.TokensLoaded)
	}
	if len(result.Segments) != 3 {
		t.Errorf("selected %d segments, want 3", len(result.Segments))
	}
	if result.Skipped == 0 {
		t.Error("expected over-budget candidates to be counted as skipped")
	}
}

func TestLoadFiltersBelowThreshold(t *testing.T) {
	rec := session.NewRecord("agent-1")
	rec.AddSegment(session.RoleUser, "I prefer metric units") // preference, 0.90+
	rec.AddSegment(session.RoleUser, "nice weather today")    // chat, ~0.35

	l := NewLoader()
	result := l.Load(rec)

	if len(result.Segments) != 1 {
		t.Fatalf("selected %d segments, want 1", len(result.Segments))
	}
	if result.Scores[0].Class != ClassPreference {
		t.Errorf("selected class %q, want preference", result.Scores[0].Class)
	}
}

func TestLoadAlwaysIncludeBypassesThreshold(t *testing.T) {
	rec := session.NewRecord("agent-1")
	rec.AddSegment(session.RoleUser, "nice weather today")

	l := NewLoader(AlwaysInclude(ClassChat))
	result := l.Load(rec)

	if len(result.Segments) != 1 {
		t.Errorf("always-include chat segment was not loaded")
	}
}

func TestLoadPreservesChronologicalOrder(t *testing.T) {
	rec := session.NewRecord("agent-1")
	rec.AddSegment(session.RoleUser, "nice weather today, critical note")     // chat + boost
	rec.AddSegment(session.RoleUser, "I prefer short answers")                // preference
	rec.AddSegment(session.RoleAssistant, "Current task: ship the new index") // task_state

	l := NewLoader(WithThreshold(0.30))
	result := l.Load(rec)

	if len(result.Segments) != 3 {
		t.Fatalf("selected %d segments, want 3", len(result.Segments))
	}
	for i := 1; i < len(result.Segments); i++ {
		if result.Segments[i].TurnIndex < result.Segments[i-1].TurnIndex {
			t.Fatalf("segments out of chronological order: %d before %d",
				result.Segments[i].TurnIndex, result.Segments[i-1].TurnIndex)
		}
	}
}

func TestLoadMaxSegmentsCap(t *testing.T) {
	rec := session.NewRecord("agent-1")
	for i := 0; i < 10; i++ {
		rec.AddSegment(session.RoleUser, "I prefer tea over coffee", session.WithTokenCount(5))
	}

	l := NewLoader(WithMaxLoaded(4))
	result := l.Load(rec)
	if len(result.Segments) != 4 {
		t.Errorf("selected %d segments, want 4", len(result.Segments))
	}
}

func TestLoadEmptyRecord(t *testing.T) {
	l := NewLoader()
	result := l.Load(session.NewRecord("agent-1"))
	if len(result.Segments) != 0 || result.TokensLoaded != 0 || result.BudgetUsed != 0 {
		t.Errorf("empty load produced %+v", result)
	}
}
