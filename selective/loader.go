package selective

import (
	"math"
	"sort"

	"github.com/invincible-jha/agent-session-linker/session"
)

// Loader defaults.
const (
	DefaultLoadBudget    = 4000
	DefaultThreshold     = 0.50
	DefaultMaxLoaded     = 100
	budgetFractionDigits = 4
)

// Result describes one selective load.
type Result struct {
	// Segments selected for restoration, in chronological order.
	Segments []session.Segment
	// Scores for the selected segments, index-aligned with Segments.
	Scores []Scored
	// TokensLoaded is the summed token count of selected segments.
	TokensLoaded int
	// TokensAvailable sums tokens across every qualifying candidate,
	// before the budget was applied.
	TokensAvailable int
	// Considered counts candidates that passed the class and threshold
	// filters.
	Considered int
	// Skipped counts qualifying candidates dropped for budget or the
	// segment cap.
	Skipped int
	// BudgetUsed is the fraction of the token budget consumed.
	BudgetUsed float64
}

// Loader selects which segments of a stored session are worth restoring:
// it scores every segment, keeps those above an importance threshold or
// of an always-include class, and greedily fills a token budget in
// importance order. Selected segments come back in their original
// chronological order so the restored conversation still reads coherently.
type Loader struct {
	classifier *Classifier
	scorer     *Scorer
	budget     int
	threshold  float64
	maxLoaded  int
	always     map[Class]bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoadBudget caps the total token count restored. Default 4000.
func WithLoadBudget(tokens int) LoaderOption {
	return func(l *Loader) { l.budget = tokens }
}

// WithThreshold sets the minimum importance score for a segment to be
// considered. Default 0.50.
func WithThreshold(t float64) LoaderOption {
	return func(l *Loader) { l.threshold = t }
}

// WithMaxLoaded caps how many segments are restored regardless of
// budget. Default 100.
func WithMaxLoaded(n int) LoaderOption {
	return func(l *Loader) { l.maxLoaded = n }
}

// AlwaysInclude marks classes restored regardless of threshold, still
// subject to the token budget.
func AlwaysInclude(classes ...Class) LoaderOption {
	return func(l *Loader) {
		for _, class := range classes {
			l.always[class] = true
		}
	}
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *Classifier) LoaderOption {
	return func(l *Loader) { l.classifier = c }
}

// WithScorer replaces the default scorer.
func WithScorer(s *Scorer) LoaderOption {
	return func(l *Loader) { l.scorer = s }
}

// NewLoader returns a loader with default classification and scoring.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		classifier: NewClassifier(),
		scorer:     NewScorer(),
		budget:     DefaultLoadBudget,
		threshold:  DefaultThreshold,
		maxLoaded:  DefaultMaxLoaded,
		always:     map[Class]bool{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type indexedScore struct {
	index  int
	scored Scored
}

// Load selects segments from rec's history within the configured budget.
func (l *Loader) Load(rec *session.Record) Result {
	if rec == nil {
		return Result{}
	}
	return l.LoadSegments(rec.Segments)
}

// LoadSegments runs the selection over an explicit chronological slice.
func (l *Loader) LoadSegments(segments []session.Segment) Result {
	if len(segments) == 0 {
		return Result{}
	}

	scored := l.scorer.ScoreAll(l.classifier, segments)

	var mandatory, candidates []indexedScore
	for i, sc := range scored {
		switch {
		case l.always[sc.Class]:
			mandatory = append(mandatory, indexedScore{index: i, scored: sc})
		case sc.Score >= l.threshold:
			candidates = append(candidates, indexedScore{index: i, scored: sc})
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].scored.Score > candidates[b].scored.Score
	})

	var selected []indexedScore
	used := 0
	skipped := 0

	for _, is := range mandatory {
		if used+is.scored.TokenCount > l.budget || len(selected) >= l.maxLoaded {
			skipped++
			continue
		}
		selected = append(selected, is)
		used += is.scored.TokenCount
	}
	for _, is := range candidates {
		if len(selected) >= l.maxLoaded || used+is.scored.TokenCount > l.budget {
			skipped++
			continue
		}
		selected = append(selected, is)
		used += is.scored.TokenCount
	}

	sort.Slice(selected, func(a, b int) bool {
		return selected[a].index < selected[b].index
	})

	available := 0
	for _, is := range mandatory {
		available += is.scored.TokenCount
	}
	for _, is := range candidates {
		available += is.scored.TokenCount
	}

	result := Result{
		Segments:        make([]session.Segment, len(selected)),
		Scores:          make([]Scored, len(selected)),
		TokensLoaded:    used,
		TokensAvailable: available,
		Considered:      len(mandatory) + len(candidates),
		Skipped:         skipped,
		BudgetUsed:      roundFraction(float64(used) / float64(max(l.budget, 1))),
	}
	for i, is := range selected {
		result.Segments[i] = segments[is.index]
		result.Scores[i] = is.scored
	}
	return result
}

func roundFraction(v float64) float64 {
	shift := math.Pow10(budgetFractionDigits)
	return math.Round(v*shift) / shift
}
