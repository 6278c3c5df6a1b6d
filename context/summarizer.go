package context

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/invincible-jha/agent-session-linker/session"
)

// Default summarization tuning.
const (
	defaultSentenceCap         = 5
	defaultImportanceThreshold = 0.9
)

// BudgetUnsatisfiableError reports that the segments which must survive
// compression already exceed the token ceiling, so no summary can be
// produced without losing them.
type BudgetUnsatisfiableError struct {
	Required int
	Budget   int
}

func (e *BudgetUnsatisfiableError) Error() string {
	return fmt.Sprintf("summary requires at least %d tokens, budget is %d", e.Required, e.Budget)
}

// IsBudgetUnsatisfiable reports whether err indicates the token ceiling
// is too small for the content that must be preserved.
func IsBudgetUnsatisfiable(err error) bool {
	var target *BudgetUnsatisfiableError
	return errors.As(err, &target)
}

// Summarizer condenses a session's segments into a single text that fits
// a token ceiling.
type Summarizer interface {
	Summarize(ctx context.Context, rec *session.Record, maxTokens int) (string, error)
}

// ExtractiveSummarizer summarizes without a model call. Decisions and
// segments mentioning high-confidence entities are carried verbatim, and
// the remaining budget is spent on the highest-scoring sentences from
// everything else.
type ExtractiveSummarizer struct {
	maxSentences int
	positionBias bool
	importance   float64
}

// ExtractiveOption tunes an ExtractiveSummarizer.
type ExtractiveOption func(*ExtractiveSummarizer)

// WithSentenceCap limits how many sentences one segment can contribute.
func WithSentenceCap(n int) ExtractiveOption {
	return func(s *ExtractiveSummarizer) { s.maxSentences = n }
}

// WithoutPositionBias scores sentences purely on TF-IDF, ignoring where
// they sit within their segment.
func WithoutPositionBias() ExtractiveOption {
	return func(s *ExtractiveSummarizer) { s.positionBias = false }
}

// WithImportanceThreshold sets the entity confidence above which a
// mentioning segment must survive compression.
func WithImportanceThreshold(t float64) ExtractiveOption {
	return func(s *ExtractiveSummarizer) { s.importance = t }
}

// NewExtractiveSummarizer builds a summarizer with a five-sentence
// per-segment cap, position bias on, and a 0.9 importance threshold.
func NewExtractiveSummarizer(opts ...ExtractiveOption) *ExtractiveSummarizer {
	s := &ExtractiveSummarizer{
		maxSentences: defaultSentenceCap,
		positionBias: true,
		importance:   defaultImportanceThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize produces a summary of rec no longer than maxTokens. Segments
// typed plan or reasoning, and segments that mention an entity at or
// above the importance threshold, are preserved in full; if they alone
// exceed the ceiling a BudgetUnsatisfiableError is returned.
func (s *ExtractiveSummarizer) Summarize(ctx context.Context, rec *session.Record, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if maxTokens <= 0 {
		return "", fmt.Errorf("token ceiling must be positive, got %d", maxTokens)
	}
	if rec == nil || len(rec.Segments) == 0 {
		return "", nil
	}

	header, compressible := partitionSegments(rec, s.importance)

	headerText := strings.Join(header, "\n")
	required := 0
	if headerText != "" {
		required = session.EstimateTokens(headerText)
	}
	if required > maxTokens {
		return "", &BudgetUnsatisfiableError{Required: required, Budget: maxTokens}
	}

	sentences := s.selectSentences(compressible, maxTokens-required)
	text := joinSummary(headerText, sentences)

	// Per-sentence token estimates can undercount the joined text, so
	// trim trailing sentences until the whole summary fits.
	for session.EstimateTokens(text) > maxTokens && len(sentences) > 0 {
		sentences = sentences[:len(sentences)-1]
		text = joinSummary(headerText, sentences)
	}
	return text, nil
}

func joinSummary(headerText string, sentences []string) string {
	narrative := strings.Join(sentences, " ")
	switch {
	case headerText == "":
		return narrative
	case narrative == "":
		return headerText
	default:
		return headerText + "\n" + narrative
	}
}

// partitionSegments splits a record into lines that must survive
// compression and segment contents that may be compressed. Decisions
// and segments mentioning a high-confidence entity survive verbatim.
func partitionSegments(rec *session.Record, threshold float64) (header, compressible []string) {
	names := importantNames(rec, threshold)
	if len(names) > 0 {
		header = append(header, "[Entities] "+strings.Join(names, ", "))
	}
	for _, seg := range rec.Segments {
		switch {
		case seg.Type == session.SegmentPlan || seg.Type == session.SegmentReasoning:
			header = append(header, "[Decision] "+seg.Content)
		case mentionsName(seg.Content, names):
			header = append(header, "[Context] "+seg.Content)
		default:
			compressible = append(compressible, seg.Content)
		}
	}
	return header, compressible
}

// importantNames returns canonical names of entities whose confidence
// meets the threshold, in record order.
func importantNames(rec *session.Record, threshold float64) []string {
	var names []string
	for _, ent := range rec.Entities {
		if ent.Confidence >= threshold {
			names = append(names, ent.CanonicalName)
		}
	}
	return names
}

func mentionsName(content string, names []string) bool {
	if len(names) == 0 {
		return false
	}
	lower := strings.ToLower(content)
	for _, name := range names {
		if name != "" && strings.Contains(lower, strings.ToLower(name)) {
			return true
		}
	}
	return false
}

type scoredSentence struct {
	segIdx  int
	sentIdx int
	text    string
	tokens  []string
	score   float64
}

// selectSentences picks the highest-scoring sentences across the given
// texts, capped per segment, that fit within budget. The result is
// ordered by original position so the narrative reads forward.
func (s *ExtractiveSummarizer) selectSentences(texts []string, budget int) []string {
	if budget <= 0 || len(texts) == 0 {
		return nil
	}

	var all []scoredSentence
	counts := make([]int, len(texts))
	for segIdx, text := range texts {
		sents := splitSentences(text)
		counts[segIdx] = len(sents)
		for sentIdx, sent := range sents {
			all = append(all, scoredSentence{
				segIdx:  segIdx,
				sentIdx: sentIdx,
				text:    sent,
				tokens:  Tokenize(sent),
			})
		}
	}
	if len(all) == 0 {
		return nil
	}

	docs := make([][]string, len(all))
	for i := range all {
		docs[i] = all[i].tokens
	}
	idf := computeIDF(docs)

	for i := range all {
		tf := termFrequency(all[i].tokens)
		score := 0.0
		for term, f := range tf {
			score += f * idf[term]
		}
		if s.positionBias {
			if n := counts[all[i].segIdx]; n > 1 {
				score *= 1.0 - 0.5*(float64(all[i].sentIdx)/float64(n-1))
			}
		}
		all[i].score = score
	}

	order := make([]int, len(all))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return all[order[a]].score > all[order[b]].score })

	used := 0
	perSegment := make(map[int]int)
	var picked []int
	for _, idx := range order {
		sent := all[idx]
		if perSegment[sent.segIdx] >= s.maxSentences {
			continue
		}
		cost := session.EstimateTokens(sent.text)
		if used+cost > budget {
			continue
		}
		picked = append(picked, idx)
		perSegment[sent.segIdx]++
		used += cost
	}

	sort.Slice(picked, func(a, b int) bool {
		if all[picked[a]].segIdx != all[picked[b]].segIdx {
			return all[picked[a]].segIdx < all[picked[b]].segIdx
		}
		return all[picked[a]].sentIdx < all[picked[b]].sentIdx
	})

	out := make([]string, len(picked))
	for i, idx := range picked {
		out[i] = all[idx].text
	}
	return out
}

// splitSentences breaks text at terminal punctuation followed by
// whitespace or end of input. Abbreviation dots inside a word, as in
// "e.g.test", do not split because no whitespace follows.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if sent := strings.TrimSpace(string(runes[start : i+1])); sent != "" {
			sentences = append(sentences, sent)
		}
		start = i + 1
	}
	if sent := strings.TrimSpace(string(runes[start:])); sent != "" {
		sentences = append(sentences, sent)
	}
	return sentences
}

// Compact replaces a session's segments with a single summary segment.
// The record is mutated in place; callers own persistence. The summary
// segment starts a fresh turn numbering and notes how many segments it
// replaced.
func Compact(ctx context.Context, s Summarizer, rec *session.Record, maxTokens int) error {
	if rec == nil || len(rec.Segments) == 0 {
		return nil
	}
	text, err := s.Summarize(ctx, rec, maxTokens)
	if err != nil {
		return err
	}
	if text == "" {
		return fmt.Errorf("summary for session %s is empty, keeping %d segments", rec.SessionID, len(rec.Segments))
	}
	replaced := len(rec.Segments)
	rec.Segments = []session.Segment{{
		ID:         session.NewSegmentID(),
		Role:       session.RoleSystem,
		Content:    text,
		TokenCount: session.EstimateTokens(text),
		Type:       session.SegmentMetadata,
		Timestamp:  time.Now().UTC(),
		TurnIndex:  0,
		Metadata:   map[string]string{"replaced_segments": strconv.Itoa(replaced)},
	}}
	rec.Summary = text
	return nil
}
