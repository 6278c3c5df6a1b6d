package context

import (
	"math"
	"sort"
	"strings"

	"github.com/invincible-jha/agent-session-linker/session"
)

// Common English words carrying no retrieval signal.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "it": true,
	"in": true, "on": true, "at": true, "to": true, "for": true,
	"of": true, "and": true, "or": true, "but": true, "not": true,
	"with": true, "as": true, "by": true, "from": true, "this": true,
	"that": true, "was": true, "are": true, "be": true, "been": true,
	"have": true, "has": true, "do": true, "did": true, "will": true,
	"would": true, "could": true, "should": true, "may": true, "can": true,
	"i": true, "you": true, "we": true, "they": true, "he": true,
	"she": true, "its": true, "their": true, "our": true, "so": true,
	"if": true, "then": true, "just": true, "also": true, "about": true,
	"there": true, "here": true, "up": true, "out": true, "when": true,
	"what": true, "which": true, "who": true, "how": true, "all": true,
}

// Tokenize lowercases text, splits it into alphanumeric runs, and drops
// stop words and single-character tokens.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	tokens := fields[:0]
	for _, tok := range fields {
		if len(tok) > 1 && !stopWords[tok] {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// termFrequency returns length-normalized term frequency for one document.
func termFrequency(tokens []string) map[string]float64 {
	if len(tokens) == 0 {
		return nil
	}
	tf := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	total := float64(len(tokens))
	for tok, count := range tf {
		tf[tok] = count / total
	}
	return tf
}

// computeIDF returns smoothed inverse document frequency over a tokenized
// corpus: log((1+N)/(1+df)) + 1, so terms in every document still carry a
// small positive weight.
func computeIDF(docs [][]string) map[string]float64 {
	if len(docs) == 0 {
		return nil
	}
	df := map[string]int{}
	for _, doc := range docs {
		seen := map[string]bool{}
		for _, tok := range doc {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}
	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for term, count := range df {
		idf[term] = math.Log((1+n)/(1+float64(count))) + 1
	}
	return idf
}

// tfidfScore sums tf·idf over the distinct query terms found in the
// document.
func tfidfScore(queryTokens, docTokens []string, idf map[string]float64) float64 {
	if len(queryTokens) == 0 || len(docTokens) == 0 {
		return 0
	}
	tf := termFrequency(docTokens)
	seen := map[string]bool{}
	score := 0.0
	for _, tok := range queryTokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		score += tf[tok] * idf[tok]
	}
	return score
}

// RelevanceScorer scores and ranks segments by TF-IDF similarity to a
// query. Scores are non-negative and comparable within one call; they are
// not normalized to [0, 1].
type RelevanceScorer struct {
	smoothIDF   bool
	sublinearTF bool
}

// RelevanceOption configures a RelevanceScorer.
type RelevanceOption func(*RelevanceScorer)

// WithoutSmoothing switches IDF from the smoothed form to plain
// log(N/df).
func WithoutSmoothing() RelevanceOption {
	return func(s *RelevanceScorer) { s.smoothIDF = false }
}

// WithSublinearTF applies 1+log(count) term frequency, damping very
// frequent terms.
func WithSublinearTF() RelevanceOption {
	return func(s *RelevanceScorer) { s.sublinearTF = true }
}

// NewRelevanceScorer returns a scorer with smoothed IDF and raw TF.
func NewRelevanceScorer(opts ...RelevanceOption) *RelevanceScorer {
	s := &RelevanceScorer{smoothIDF: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes similarity between one text and the query using a
// lightweight two-document IDF. For corpus-aware scoring across many
// segments prefer Rank or ScoreMany.
func (s *RelevanceScorer) Score(text, query string) float64 {
	queryTokens := Tokenize(query)
	docTokens := Tokenize(text)
	if len(queryTokens) == 0 || len(docTokens) == 0 {
		return 0
	}
	idf := s.buildIDF([][]string{docTokens, queryTokens})
	return s.similarity(queryTokens, docTokens, idf)
}

// ScoreMany scores each text against the query with IDF shared across the
// full corpus plus the query. Scores come back in input order.
func (s *RelevanceScorer) ScoreMany(texts []string, query string) []float64 {
	if len(texts) == 0 {
		return nil
	}
	queryTokens := Tokenize(query)
	docs := make([][]string, 0, len(texts)+1)
	for _, text := range texts {
		docs = append(docs, Tokenize(text))
	}
	idf := s.buildIDF(append(docs, queryTokens))
	out := make([]float64, len(texts))
	for i := range texts {
		out[i] = s.similarity(queryTokens, docs[i], idf)
	}
	return out
}

// RankedSegment pairs a segment with its relevance score.
type RankedSegment struct {
	Score   float64
	Segment session.Segment
}

// Rank scores segments against the query and returns them in descending
// score order.
func (s *RelevanceScorer) Rank(segments []session.Segment, query string) []RankedSegment {
	if len(segments) == 0 {
		return nil
	}
	queryTokens := Tokenize(query)
	docs := make([][]string, 0, len(segments)+1)
	for i := range segments {
		docs = append(docs, Tokenize(segments[i].Content))
	}
	idf := s.buildIDF(append(docs, queryTokens))
	ranked := make([]RankedSegment, len(segments))
	for i := range segments {
		ranked[i] = RankedSegment{
			Score:   s.similarity(queryTokens, docs[i], idf),
			Segment: segments[i],
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

func (s *RelevanceScorer) buildIDF(docs [][]string) map[string]float64 {
	if s.smoothIDF {
		return computeIDF(docs)
	}
	if len(docs) == 0 {
		return nil
	}
	df := map[string]int{}
	for _, doc := range docs {
		seen := map[string]bool{}
		for _, tok := range doc {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}
	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for term, count := range df {
		idf[term] = math.Log(n / math.Max(1, float64(count)))
	}
	return idf
}

func (s *RelevanceScorer) applyTF(tokens []string) map[string]float64 {
	if !s.sublinearTF {
		return termFrequency(tokens)
	}
	if len(tokens) == 0 {
		return nil
	}
	counts := map[string]float64{}
	for _, tok := range tokens {
		counts[tok]++
	}
	for tok, count := range counts {
		counts[tok] = 1 + math.Log(count)
	}
	return counts
}

func (s *RelevanceScorer) similarity(queryTokens, docTokens []string, idf map[string]float64) float64 {
	if len(queryTokens) == 0 || len(docTokens) == 0 {
		return 0
	}
	tf := s.applyTF(docTokens)
	seen := map[string]bool{}
	score := 0.0
	for _, tok := range queryTokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		score += tf[tok] * idf[tok]
	}
	return score
}
