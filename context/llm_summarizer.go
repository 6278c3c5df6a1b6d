package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/invincible-jha/agent-session-linker/llm"
	"github.com/invincible-jha/agent-session-linker/session"
)

const summaryInstruction = "Summarize this agent session concisely, preserving key facts, " +
	"decisions, and open work. Write plain prose, no preamble."

// LLMSummarizer produces an abstractive summary through a model call.
// The same survival guarantee as the extractive path applies: when the
// decision segments and high-confidence entities alone exceed the token
// ceiling, no model call is made and a BudgetUnsatisfiableError is
// returned. When the model fails, overruns the ceiling, or drops an
// entity that must survive, the extractive summarizer takes over.
type LLMSummarizer struct {
	client     llm.Client
	model      string
	fallback   *ExtractiveSummarizer
	tracker    *llm.TokenTracker
	importance float64
}

// LLMSummarizerOption tunes an LLMSummarizer.
type LLMSummarizerOption func(*LLMSummarizer)

// WithTracker accumulates model token usage into t.
func WithTracker(t *llm.TokenTracker) LLMSummarizerOption {
	return func(s *LLMSummarizer) { s.tracker = t }
}

// WithFallback replaces the extractive summarizer used when the model
// output is unusable.
func WithFallback(f *ExtractiveSummarizer) LLMSummarizerOption {
	return func(s *LLMSummarizer) { s.fallback = f }
}

// NewLLMSummarizer builds a model-backed summarizer.
func NewLLMSummarizer(client llm.Client, model string, opts ...LLMSummarizerOption) *LLMSummarizer {
	s := &LLMSummarizer{
		client:     client,
		model:      model,
		importance: defaultImportanceThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fallback == nil {
		s.fallback = NewExtractiveSummarizer(WithImportanceThreshold(s.importance))
	}
	return s
}

// Summarize asks the model for a summary of rec no longer than maxTokens.
func (s *LLMSummarizer) Summarize(ctx context.Context, rec *session.Record, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		return "", fmt.Errorf("token ceiling must be positive, got %d", maxTokens)
	}
	if rec == nil || len(rec.Segments) == 0 {
		return "", nil
	}

	header, _ := partitionSegments(rec, s.importance)
	headerText := strings.Join(header, "\n")
	if headerText != "" {
		if required := session.EstimateTokens(headerText); required > maxTokens {
			return "", &BudgetUnsatisfiableError{Required: required, Budget: maxTokens}
		}
	}

	names := importantNames(rec, s.importance)
	text, err := s.callModel(ctx, rec, names, maxTokens)
	if err != nil || !usableSummary(text, names, maxTokens) {
		return s.fallback.Summarize(ctx, rec, maxTokens)
	}
	return text, nil
}

func (s *LLMSummarizer) callModel(ctx context.Context, rec *session.Record, names []string, maxTokens int) (string, error) {
	if s.tracker != nil {
		if err := s.tracker.CheckBudget(maxTokens); err != nil {
			return "", err
		}
	}

	var transcript strings.Builder
	for _, seg := range rec.Segments {
		fmt.Fprintf(&transcript, "%s: %s\n", seg.Role, seg.Content)
	}

	instruction := summaryInstruction
	if len(names) > 0 {
		instruction += " The summary must mention: " + strings.Join(names, ", ") + "."
	}

	resp, err := s.client.Chat(ctx, llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: instruction + "\n\n" + transcript.String()},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarize session %s: %w", rec.SessionID, err)
	}
	if s.tracker != nil {
		s.tracker.Add(resp.Usage)
	}
	return strings.TrimSpace(resp.Content), nil
}

// usableSummary reports whether a model summary fits the ceiling and
// names every entity that must survive.
func usableSummary(text string, names []string, maxTokens int) bool {
	if text == "" || session.EstimateTokens(text) > maxTokens {
		return false
	}
	lower := strings.ToLower(text)
	for _, name := range names {
		if !strings.Contains(lower, strings.ToLower(name)) {
			return false
		}
	}
	return true
}
