package context

import (
	"strings"
	"testing"
	"time"

	"github.com/invincible-jha/agent-session-linker/session"
)

var injectNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return injectNow }

func TestInjectorDefaults(t *testing.T) {
	in := NewInjector(InjectionConfig{})

	if in.cfg.TokenBudget != 2000 {
		t.Errorf("TokenBudget = %d, want 2000", in.cfg.TokenBudget)
	}
	if in.cfg.MaxSegments != 20 {
		t.Errorf("MaxSegments = %d, want 20", in.cfg.MaxSegments)
	}
	if in.cfg.MaxAgeHours != 168 {
		t.Errorf("MaxAgeHours = %v, want 168", in.cfg.MaxAgeHours)
	}
	if in.cfg.RelevanceWeight != 0.5 || in.cfg.FreshnessWeight != 0.3 || in.cfg.TypeWeight != 0.2 {
		t.Errorf("weights = %v/%v/%v, want 0.5/0.3/0.2",
			in.cfg.RelevanceWeight, in.cfg.FreshnessWeight, in.cfg.TypeWeight)
	}
	if in.cfg.EntityBoost != 0.1 {
		t.Errorf("EntityBoost = %v, want 0.1", in.cfg.EntityBoost)
	}
}

func TestInjectorPartialWeightsKept(t *testing.T) {
	// Setting any single weight disables the combined default.
	in := NewInjector(InjectionConfig{RelevanceWeight: 1.0})
	if in.cfg.FreshnessWeight != 0 || in.cfg.TypeWeight != 0 {
		t.Errorf("explicit weights overridden: freshness=%v type=%v",
			in.cfg.FreshnessWeight, in.cfg.TypeWeight)
	}
}

func TestInjectEmptyRecords(t *testing.T) {
	in := NewInjector(InjectionConfig{Now: fixedClock})

	out := in.Inject(nil, "redis")
	if out.Prompt != "" {
		t.Errorf("Prompt = %q, want empty", out.Prompt)
	}
	if out.Considered != 0 || len(out.SelectedIDs) != 0 {
		t.Errorf("Considered = %d, SelectedIDs = %v, want zero values", out.Considered, out.SelectedIDs)
	}
}

func TestInjectSelectsRelevantWithinBudget(t *testing.T) {
	rec := &session.Record{
		SessionID: "sess_0123456789abcdef",
		Segments: []session.Segment{
			{ID: "seg-a", Role: session.RoleUser, Content: "redis cache eviction policy tuning",
				TokenCount: 50, Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour), TurnIndex: 1},
			{ID: "seg-b", Role: session.RoleUser, Content: "weather is sunny in madrid today",
				TokenCount: 50, Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour), TurnIndex: 2},
		},
	}

	in := NewInjector(InjectionConfig{TokenBudget: 60, Now: fixedClock})
	out := in.Inject([]*session.Record{rec}, "redis eviction")

	if len(out.SelectedIDs) != 1 || out.SelectedIDs[0] != "seg-a" {
		t.Fatalf("SelectedIDs = %v, want [seg-a]", out.SelectedIDs)
	}
	if out.TokensUsed != 50 {
		t.Errorf("TokensUsed = %d, want 50", out.TokensUsed)
	}
	if out.Considered != 2 || out.SkippedByAge != 0 {
		t.Errorf("Considered = %d, SkippedByAge = %d, want 2 and 0", out.Considered, out.SkippedByAge)
	}
	if out.SkippedOverBudget != 1 {
		t.Errorf("SkippedOverBudget = %d, want 1", out.SkippedOverBudget)
	}
	if !strings.Contains(out.Prompt, "redis cache eviction policy tuning") {
		t.Error("prompt missing selected segment content")
	}
	if strings.Contains(out.Prompt, "madrid") {
		t.Error("prompt contains unselected segment content")
	}
	if strings.Contains(out.Prompt, "[Summary") {
		t.Error("prompt has summary section for record without summary")
	}
}

func TestInjectNeverExceedsBudget(t *testing.T) {
	rec := &session.Record{SessionID: "sess_a"}
	for _, id := range []string{"seg-1", "seg-2", "seg-3"} {
		rec.Segments = append(rec.Segments, session.Segment{
			ID: id, Role: session.RoleUser, Content: "redis eviction policy",
			TokenCount: 60, Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour),
		})
	}

	in := NewInjector(InjectionConfig{TokenBudget: 100, Now: fixedClock})
	out := in.Inject([]*session.Record{rec}, "redis eviction")

	if out.TokensUsed > 100 {
		t.Errorf("TokensUsed = %d exceeds budget 100", out.TokensUsed)
	}
	if len(out.SelectedIDs) != 1 {
		t.Errorf("SelectedIDs = %v, want exactly one", out.SelectedIDs)
	}
	if out.SkippedOverBudget != 2 {
		t.Errorf("SkippedOverBudget = %d, want 2", out.SkippedOverBudget)
	}
}

func TestInjectMaxSegmentsCap(t *testing.T) {
	rec := &session.Record{SessionID: "sess_a"}
	for i := 0; i < 4; i++ {
		rec.Segments = append(rec.Segments, session.Segment{
			ID: session.NewSegmentID(), Role: session.RoleUser, Content: "redis eviction policy",
			TokenCount: 10, Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour),
		})
	}

	in := NewInjector(InjectionConfig{TokenBudget: 100000, MaxSegments: 2, Now: fixedClock})
	out := in.Inject([]*session.Record{rec}, "redis")

	if len(out.SelectedIDs) != 2 {
		t.Errorf("SelectedIDs has %d entries, want 2", len(out.SelectedIDs))
	}
	if out.SkippedOverBudget != 0 {
		t.Errorf("SkippedOverBudget = %d, want 0", out.SkippedOverBudget)
	}
}

func TestInjectAgeExclusionFallback(t *testing.T) {
	rec := &session.Record{
		SessionID: "sess_a",
		Segments: []session.Segment{
			{ID: "seg-old-1", Role: session.RoleUser, Content: "redis eviction policy discussion",
				TokenCount: 40, Type: session.SegmentConversation, Timestamp: injectNow.Add(-200 * time.Hour)},
			{ID: "seg-old-2", Role: session.RoleUser, Content: "random chatter about lunch",
				TokenCount: 40, Type: session.SegmentConversation, Timestamp: injectNow.Add(-200 * time.Hour)},
		},
	}

	in := NewInjector(InjectionConfig{Now: fixedClock})
	out := in.Inject([]*session.Record{rec}, "redis eviction")

	if out.SkippedByAge != 2 {
		t.Errorf("SkippedByAge = %d, want 2", out.SkippedByAge)
	}
	if !out.UsedFallback {
		t.Fatal("expected fallback when every segment is past max age")
	}
	if len(out.SelectedIDs) != 1 || out.SelectedIDs[0] != "seg-old-1" {
		t.Errorf("SelectedIDs = %v, want [seg-old-1]", out.SelectedIDs)
	}
	if out.TokensUsed != 40 {
		t.Errorf("TokensUsed = %d, want 40", out.TokensUsed)
	}
}

func TestInjectFallbackRespectsBudget(t *testing.T) {
	rec := &session.Record{
		SessionID: "sess_a",
		Segments: []session.Segment{
			{ID: "seg-huge", Role: session.RoleUser, Content: "redis eviction",
				TokenCount: 5000, Type: session.SegmentConversation, Timestamp: injectNow.Add(-200 * time.Hour)},
		},
	}

	in := NewInjector(InjectionConfig{TokenBudget: 2000, Now: fixedClock})
	out := in.Inject([]*session.Record{rec}, "redis eviction")

	if out.UsedFallback {
		t.Error("fallback should not fire when nothing fits the budget")
	}
	if len(out.SelectedIDs) != 0 || out.TokensUsed != 0 {
		t.Errorf("SelectedIDs = %v, TokensUsed = %d, want none", out.SelectedIDs, out.TokensUsed)
	}
	if !strings.Contains(out.Prompt, "--- PRIOR SESSION CONTEXT ---") {
		t.Error("prompt missing header even with no segments selected")
	}
}

func TestInjectStaleSegmentLosesToFresh(t *testing.T) {
	rec := &session.Record{
		SessionID: "sess_a",
		Segments: []session.Segment{
			{ID: "seg-fresh", Role: session.RoleUser, Content: "unrelated deployment notes",
				TokenCount: 30, Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour)},
			{ID: "seg-stale", Role: session.RoleUser, Content: "redis eviction policy everything relevant",
				TokenCount: 30, Type: session.SegmentConversation, Timestamp: injectNow.Add(-200 * time.Hour)},
		},
	}

	in := NewInjector(InjectionConfig{Now: fixedClock})
	out := in.Inject([]*session.Record{rec}, "redis eviction")

	if out.SkippedByAge != 1 {
		t.Errorf("SkippedByAge = %d, want 1", out.SkippedByAge)
	}
	if len(out.SelectedIDs) != 1 || out.SelectedIDs[0] != "seg-fresh" {
		t.Errorf("SelectedIDs = %v, want [seg-fresh]", out.SelectedIDs)
	}
	if out.UsedFallback {
		t.Error("fallback should not fire while eligible segments exist")
	}
}

func TestInjectTypePriorityBreaksTies(t *testing.T) {
	rec := &session.Record{
		SessionID: "sess_a",
		Segments: []session.Segment{
			{ID: "seg-conv", Role: session.RoleUser, Content: "redis eviction policy",
				TokenCount: 50, Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour)},
			{ID: "seg-plan", Role: session.RoleAssistant, Content: "redis eviction policy",
				TokenCount: 50, Type: session.SegmentPlan, Timestamp: injectNow.Add(-time.Hour)},
		},
	}

	in := NewInjector(InjectionConfig{TokenBudget: 60, Now: fixedClock})
	out := in.Inject([]*session.Record{rec}, "redis eviction")

	if len(out.SelectedIDs) != 1 || out.SelectedIDs[0] != "seg-plan" {
		t.Errorf("SelectedIDs = %v, want [seg-plan]", out.SelectedIDs)
	}
}

func TestInjectEntityBoost(t *testing.T) {
	segments := []session.Segment{
		{ID: "seg-x", Role: session.RoleUser, Content: "tuning tuning tuning guide",
			TokenCount: 50, Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour)},
		{ID: "seg-y", Role: session.RoleUser, Content: "redis tuning notes overview",
			TokenCount: 50, Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour)},
	}
	cfg := InjectionConfig{TokenBudget: 60, EntityBoost: 0.2, Now: fixedClock}

	// Without a tracked entity the repeated-term segment wins on TF-IDF.
	plain := &session.Record{SessionID: "sess_a", Segments: segments}
	out := NewInjector(cfg).Inject([]*session.Record{plain}, "redis tuning")
	if len(out.SelectedIDs) != 1 || out.SelectedIDs[0] != "seg-x" {
		t.Fatalf("without entity: SelectedIDs = %v, want [seg-x]", out.SelectedIDs)
	}

	// A tracked entity named in the query boosts the mentioning segment.
	tracked := &session.Record{
		SessionID: "sess_a",
		Segments:  segments,
		Entities:  []session.EntityReference{{CanonicalName: "Redis", Type: session.EntityTool, Confidence: 0.9}},
	}
	out = NewInjector(cfg).Inject([]*session.Record{tracked}, "redis tuning")
	if len(out.SelectedIDs) != 1 || out.SelectedIDs[0] != "seg-y" {
		t.Errorf("with entity: SelectedIDs = %v, want [seg-y]", out.SelectedIDs)
	}
}

func TestInjectRenderSections(t *testing.T) {
	rec := &session.Record{
		SessionID: "sess_0123456789abcdef",
		Summary:   "Prior work on cache tuning.",
		Tasks: []session.TaskState{
			{Title: "Tune eviction", Description: "Lower memory pressure", Status: session.TaskInProgress},
			{Title: "Done task", Status: session.TaskCompleted},
		},
		Entities: []session.EntityReference{
			{CanonicalName: "Redis", Type: session.EntityTool, Aliases: []string{"redis-server"}, Confidence: 0.95},
		},
		Segments: []session.Segment{
			{ID: "seg-1", Role: session.RoleUser, Content: "redis eviction policy needs tuning",
				TokenCount: 30, Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour), TurnIndex: 3},
		},
	}

	in := NewInjector(InjectionConfig{Now: fixedClock})
	out := in.Inject([]*session.Record{rec}, "redis eviction")

	wantLines := []string{
		"--- PRIOR SESSION CONTEXT ---",
		"[Summary from session 01234567]",
		"Prior work on cache tuning.",
		"[Active Tasks]",
		"  - [In Progress] Tune eviction",
		"    Lower memory pressure",
		"[Relevant Entities]",
		"  - Redis (aka redis-server) [tool]",
		"[Relevant Context Segments]",
		"[USER | conversation | turn=3 | session=01234567]",
		"redis eviction policy needs tuning",
	}
	pos := -1
	for _, line := range wantLines {
		idx := strings.Index(out.Prompt, line)
		if idx < 0 {
			t.Fatalf("prompt missing %q\nprompt:\n%s", line, out.Prompt)
		}
		if idx < pos {
			t.Fatalf("section %q out of order\nprompt:\n%s", line, out.Prompt)
		}
		pos = idx
	}
	if !strings.HasSuffix(out.Prompt, "--- END PRIOR CONTEXT ---") {
		t.Error("prompt does not end with the footer")
	}
	if strings.Contains(out.Prompt, "Done task") {
		t.Error("completed task rendered in active tasks")
	}
}

func TestInjectOmitFlags(t *testing.T) {
	rec := &session.Record{
		SessionID: "sess_a",
		Summary:   "Old summary.",
		Tasks:     []session.TaskState{{Title: "Open task", Status: session.TaskPending}},
		Entities:  []session.EntityReference{{CanonicalName: "Alpha", Type: session.EntityProject}},
		Segments: []session.Segment{
			{ID: "seg-1", Role: session.RoleUser, Content: "alpha beta gamma",
				TokenCount: 10, Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour)},
		},
	}

	in := NewInjector(InjectionConfig{
		OmitSummary:     true,
		OmitActiveTasks: true,
		OmitEntities:    true,
		Now:             fixedClock,
	})
	out := in.Inject([]*session.Record{rec}, "alpha")

	for _, banned := range []string{"[Summary", "[Active Tasks]", "[Relevant Entities]"} {
		if strings.Contains(out.Prompt, banned) {
			t.Errorf("prompt contains omitted section %q", banned)
		}
	}
	if !strings.Contains(out.Prompt, "alpha beta gamma") {
		t.Error("prompt missing segment content")
	}
}

func TestInjectEmptyQueryRanksByTypeAndFreshness(t *testing.T) {
	rec := &session.Record{
		SessionID: "sess_a",
		Segments: []session.Segment{
			{ID: "seg-conv", Role: session.RoleUser, Content: "general conversation notes",
				TokenCount: 10, Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour)},
			{ID: "seg-plan", Role: session.RoleAssistant, Content: "planned approach for migration",
				TokenCount: 10, Type: session.SegmentPlan, Timestamp: injectNow.Add(-time.Hour)},
		},
	}

	in := NewInjector(InjectionConfig{Now: fixedClock})
	out := in.Inject([]*session.Record{rec}, "")

	if len(out.SelectedIDs) != 2 {
		t.Fatalf("SelectedIDs = %v, want both segments", out.SelectedIDs)
	}
	if out.SelectedIDs[0] != "seg-plan" {
		t.Errorf("SelectedIDs[0] = %q, want seg-plan first", out.SelectedIDs[0])
	}
	if strings.Contains(out.Prompt, "[Relevant Entities]") {
		t.Error("entity section rendered without a query")
	}
}

func TestInjectCompetingSessions(t *testing.T) {
	recA := &session.Record{
		SessionID: "sess_aaaaaaaaaaaaaaaa",
		Segments: []session.Segment{
			{ID: "seg-a", Role: session.RoleUser, Content: "redis eviction policy",
				TokenCount: 50, Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour)},
		},
	}
	recB := &session.Record{
		SessionID: "sess_bbbbbbbbbbbbbbbb",
		Segments: []session.Segment{
			{ID: "seg-b", Role: session.RoleUser, Content: "holiday schedule reminder",
				TokenCount: 50, Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour)},
		},
	}

	in := NewInjector(InjectionConfig{TokenBudget: 60, Now: fixedClock})
	out := in.Inject([]*session.Record{recB, recA}, "redis eviction")

	if len(out.SelectedIDs) != 1 || out.SelectedIDs[0] != "seg-a" {
		t.Errorf("SelectedIDs = %v, want [seg-a] across sessions", out.SelectedIDs)
	}
	if !strings.Contains(out.Prompt, "session=aaaaaaaa") {
		t.Error("segment header missing owning session id")
	}
}

func TestScoreSegmentRelativeOrder(t *testing.T) {
	in := NewInjector(InjectionConfig{Now: fixedClock})

	corpus := []session.Segment{
		{Content: "redis eviction policy", Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour)},
		{Content: "vacation photos album", Type: session.SegmentConversation, Timestamp: injectNow.Add(-time.Hour)},
	}

	relevant := in.ScoreSegment(corpus[0], "redis eviction", corpus)
	irrelevant := in.ScoreSegment(corpus[1], "redis eviction", corpus)
	if relevant <= irrelevant {
		t.Errorf("relevant score %v should exceed irrelevant score %v", relevant, irrelevant)
	}
}
