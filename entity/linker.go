package entity

import (
	"strings"
	"unicode"

	"github.com/invincible-jha/agent-session-linker/session"
)

const (
	defaultMatchThreshold = 0.75
	defaultHighConfidence = 0.9

	// Weighted-average confidence update favoring the newer observation.
	newObservationWeight = 0.7
)

// MergeResult describes what happened to one mention during linking.
type MergeResult struct {
	Entity      *session.EntityReference
	Mention     Mention
	Created     bool
	AliasAdded  string
	Similarity  float64
	NeedsReview bool
}

// Linker matches extracted mentions against the entities a session already
// tracks and merges or creates references accordingly. Matching tries a
// normalized exact comparison against canonical names and aliases first,
// then falls back to normalized Levenshtein similarity; fuzzy matches
// below the high-confidence threshold are flagged for review instead of
// being trusted silently.
type Linker struct {
	extract        ExtractFunc
	threshold      float64
	highConfidence float64
}

// LinkerOption configures a Linker.
type LinkerOption func(*Linker)

// WithExtractor replaces the default rule-based extraction function.
func WithExtractor(fn ExtractFunc) LinkerOption {
	return func(l *Linker) { l.extract = fn }
}

// WithMatchThreshold sets the minimum similarity for a fuzzy match.
// Default 0.75.
func WithMatchThreshold(t float64) LinkerOption {
	return func(l *Linker) { l.threshold = t }
}

// WithHighConfidence sets the similarity above which a fuzzy match is
// merged without review. Default 0.9.
func WithHighConfidence(h float64) LinkerOption {
	return func(l *Linker) { l.highConfidence = h }
}

// NewLinker returns a linker using the rule-based extractor with default
// thresholds.
func NewLinker(opts ...LinkerOption) *Linker {
	l := &Linker{
		extract:        NewExtractor().Extract,
		threshold:      defaultMatchThreshold,
		highConfidence: defaultHighConfidence,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Process extracts mentions from the given segments and merges them into
// rec's entities. When linked records are supplied, their entities also
// participate in matching: a match found only in a linked session is
// copied into rec first, preserving its identity and first-seen session.
// Identical mentions within one batch are collapsed before merging.
func (l *Linker) Process(rec *session.Record, segments []session.Segment, linked ...*session.Record) []MergeResult {
	var mentions []Mention
	for _, seg := range segments {
		mentions = append(mentions, l.extract(seg.Content)...)
	}
	return l.Merge(rec, dedupeMentions(mentions), linked...)
}

// Merge links each mention into rec, returning one result per mention.
func (l *Linker) Merge(rec *session.Record, mentions []Mention, linked ...*session.Record) []MergeResult {
	results := make([]MergeResult, 0, len(mentions))
	for _, m := range mentions {
		results = append(results, l.mergeOne(rec, m, linked))
	}
	return results
}

func (l *Linker) mergeOne(rec *session.Record, m Mention, linked []*session.Record) MergeResult {
	target, similarity := l.match(rec, m)
	if target == nil {
		// Cross-session fallback: adopt a matching entity from a
		// chained session before minting a new one.
		for _, other := range linked {
			if other == nil || other == rec {
				continue
			}
			if hit, sim := l.match(other, m); hit != nil {
				adopted := *hit
				adopted.Aliases = append([]string(nil), hit.Aliases...)
				adopted.Attributes = copyAttrs(hit.Attributes)
				rec.Entities = append(rec.Entities, adopted)
				target = &rec.Entities[len(rec.Entities)-1]
				similarity = sim
				break
			}
		}
	}

	if target == nil {
		created := rec.TrackEntity(m.Surface, m.Type,
			session.WithConfidence(m.Confidence),
			session.WithAttributes(m.Attributes),
		)
		return MergeResult{Entity: created, Mention: m, Created: true, Similarity: 1.0}
	}

	aliasAdded := ""
	if !target.HasAlias(m.Surface) {
		target.Aliases = append(target.Aliases, m.Surface)
		aliasAdded = m.Surface
	}
	mergeAttributes(target, m)
	target.LastSeenSession = rec.SessionID
	if m.Confidence != target.Confidence {
		target.Confidence = newObservationWeight*m.Confidence + (1-newObservationWeight)*target.Confidence
	}

	return MergeResult{
		Entity:      target,
		Mention:     m,
		AliasAdded:  aliasAdded,
		Similarity:  similarity,
		NeedsReview: similarity < l.highConfidence,
	}
}

// match finds the best entity for a mention within one record. Exact
// normalized comparison wins immediately with similarity 1; otherwise the
// best fuzzy similarity at or above the threshold is returned.
func (l *Linker) match(rec *session.Record, m Mention) (*session.EntityReference, float64) {
	norm := Normalize(m.Surface)
	if norm == "" {
		return nil, 0
	}

	var best *session.EntityReference
	bestSim := 0.0
	for i := range rec.Entities {
		ent := &rec.Entities[i]
		for _, name := range candidateNames(ent) {
			candidate := Normalize(name)
			if candidate == "" {
				continue
			}
			if candidate == norm {
				return ent, 1.0
			}
			if sim := Similarity(candidate, norm); sim > bestSim {
				best = ent
				bestSim = sim
			}
		}
	}
	if bestSim >= l.threshold {
		return best, bestSim
	}
	return nil, 0
}

// mergeAttributes unions mention attributes into the entity. New keys are
// added; on conflict the higher-confidence observation keeps its value.
func mergeAttributes(target *session.EntityReference, m Mention) {
	if len(m.Attributes) == 0 {
		return
	}
	if target.Attributes == nil {
		target.Attributes = map[string]string{}
	}
	for k, v := range m.Attributes {
		if _, exists := target.Attributes[k]; !exists || m.Confidence > target.Confidence {
			target.Attributes[k] = v
		}
	}
}

func candidateNames(ent *session.EntityReference) []string {
	names := make([]string, 0, 1+len(ent.Aliases))
	names = append(names, ent.CanonicalName)
	names = append(names, ent.Aliases...)
	return names
}

// dedupeMentions collapses mentions that carry identical information so a
// term repeated within one batch updates its entity at most once.
func dedupeMentions(mentions []Mention) []Mention {
	seen := map[string]bool{}
	var out []Mention
	for _, m := range mentions {
		key := Normalize(m.Surface) + "\x00" + m.Kind + "\x00" + string(m.Type)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

// Normalize rewrites surface text into its matching form: lowercased,
// punctuation stripped, whitespace collapsed, and a leading determiner
// (the/a/an) removed.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	if len(fields) > 1 {
		switch fields[0] {
		case "the", "a", "an":
			fields = fields[1:]
		}
	}
	return strings.Join(fields, " ")
}

// Similarity returns 1 minus the normalized Levenshtein distance between
// two strings, in [0, 1].
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}
	longer := len(ra)
	if len(rb) > longer {
		longer = len(rb)
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(longer)
}

// levenshtein computes edit distance with two rolling rows.
func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			insert := curr[j-1] + 1
			remove := prev[j] + 1
			replace := prev[j-1] + cost
			min := insert
			if remove < min {
				min = remove
			}
			if replace < min {
				min = replace
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func copyAttrs(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
