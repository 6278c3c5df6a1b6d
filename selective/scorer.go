package selective

import (
	"strings"

	"github.com/invincible-jha/agent-session-linker/session"
)

// Restoration importance priors per class. Preferences and live task
// state are near-mandatory on resume; raw chat is the first to go.
var classPriors = map[Class]float64{
	ClassPreference: 0.90,
	ClassTaskState:  0.85,
	ClassReasoning:  0.60,
	ClassMetadata:   0.50,
	ClassChat:       0.30,
	ClassUnknown:    0.40,
}

// boostKeywords raise a segment's importance regardless of class.
var boostKeywords = []string{
	"critical", "important", "required", "must", "always", "never",
	"prefer", "preference", "remember", "note:", "todo:", "action:",
	"deadline", "urgent", "blocked",
}

const (
	defaultKeywordBoost = 0.10
	defaultRecencyBoost = 0.05
	previewLen          = 120
)

// Scored pairs a segment with its restoration class and importance.
type Scored struct {
	SegmentID  string
	Class      Class
	Score      float64
	TokenCount int
	Preview    string
}

// HighImportance reports whether the score meets threshold.
func (s Scored) HighImportance(threshold float64) bool {
	return s.Score >= threshold
}

// Scorer computes restoration importance for classified segments. The
// score is the class prior plus an optional modifier, a keyword boost,
// and a linear recency boost, clamped to [0, 1].
type Scorer struct {
	modifiers    map[Class]float64
	keywordBoost float64
	recencyBoost float64
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithClassModifiers adds per-class adjustments on top of the priors.
func WithClassModifiers(mods map[Class]float64) ScorerOption {
	return func(s *Scorer) { s.modifiers = mods }
}

// WithKeywordBoost sets the boost applied when a segment's content
// contains a boost keyword. Zero disables it. Default 0.10.
func WithKeywordBoost(boost float64) ScorerOption {
	return func(s *Scorer) { s.keywordBoost = boost }
}

// WithRecencyBoost sets the maximum boost granted to the newest segment,
// decreasing linearly to zero for the oldest. Zero disables it.
// Default 0.05.
func WithRecencyBoost(boost float64) ScorerOption {
	return func(s *Scorer) { s.recencyBoost = boost }
}

// NewScorer returns a scorer with the default boosts.
func NewScorer(opts ...ScorerOption) *Scorer {
	s := &Scorer{
		keywordBoost: defaultKeywordBoost,
		recencyBoost: defaultRecencyBoost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prior returns the base importance for a class.
func Prior(class Class) float64 {
	if p, ok := classPriors[class]; ok {
		return p
	}
	return classPriors[ClassUnknown]
}

// Score computes the importance of one segment. recencyRank is 0 for the
// oldest segment in its batch and 1 for the newest.
func (s *Scorer) Score(seg *session.Segment, class Class, recencyRank float64) Scored {
	score := Prior(class) + s.modifiers[class]

	if s.keywordBoost > 0 {
		lower := strings.ToLower(seg.Content)
		for _, kw := range boostKeywords {
			if strings.Contains(lower, kw) {
				score += s.keywordBoost
				break
			}
		}
	}
	if s.recencyBoost > 0 {
		score += recencyRank * s.recencyBoost
	}

	preview := seg.Content
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}
	return Scored{
		SegmentID:  seg.ID,
		Class:      class,
		Score:      clamp01(score),
		TokenCount: seg.TokenCount,
		Preview:    preview,
	}
}

// ScoreAll classifies and scores segments in chronological order. The
// newest segment receives the full recency boost.
func (s *Scorer) ScoreAll(c *Classifier, segments []session.Segment) []Scored {
	if len(segments) == 0 {
		return nil
	}
	denom := float64(len(segments) - 1)
	if denom < 1 {
		denom = 1
	}
	scored := make([]Scored, len(segments))
	for i := range segments {
		class := c.Classify(&segments[i])
		scored[i] = s.Score(&segments[i], class, float64(i)/denom)
	}
	return scored
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
