// Package entity extracts entity mentions from conversation text and links
// them to the entity references tracked on session records.
package entity

import (
	"regexp"
	"sort"
	"strings"

	"github.com/invincible-jha/agent-session-linker/session"
)

// Mention kinds recognised by the rule-based extractor. Kind is finer
// grained than session.EntityType: several kinds map onto the concept type
// and keep their kind as an attribute.
const (
	KindURL    = "url"
	KindEmail  = "email"
	KindFile   = "file"
	KindMoney  = "money"
	KindDate   = "date"
	KindOrg    = "org"
	KindPerson = "person"
	KindNumber = "number"
)

// Mention is one candidate entity occurrence found in text.
type Mention struct {
	Surface    string
	Type       session.EntityType
	Kind       string
	Start      int
	End        int
	Confidence float64
	Attributes map[string]string
}

// ExtractFunc produces candidate mentions from free text. Implementations
// must be safe for concurrent use.
type ExtractFunc func(text string) []Mention

var (
	emailRE = regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`)

	urlRE = regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+|ftp://[^\\s<>\"{}|\\\\^`\\[\\]]+")

	fileRE = regexp.MustCompile(`(?:\.{0,2}/)?(?:[\w.\-]+/)+[\w.\-]+\.\w{1,8}\b|\b[\w\-]+\.(?:go|py|js|ts|rs|java|rb|c|cpp|h|md|txt|json|yaml|yml|toml|sql|sh|proto)\b`)

	moneyRE = regexp.MustCompile(`(?:[$€£¥₹₽]\s*\d[\d,]*(?:\.\d+)?[KMBTkmbt]?|\d[\d,]*(?:\.\d+)?\s*(?:USD|EUR|GBP|JPY|INR|CAD|AUD|CHF|CNY|BTC|ETH)|\d[\d,]*(?:\.\d+)?\s*(?:dollars?|euros?|pounds?|yen|rupees?|cents?))`)

	dateRE = regexp.MustCompile(`(?i)\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}|\d{1,2}\.\d{1,2}\.\d{2,4}|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}|\d{1,2}(?:st|nd|rd|th)?\s+(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{4}|(?:yesterday|today|tomorrow|last\s+(?:week|month|year)|next\s+(?:week|month|year)))\b`)

	numberRE = regexp.MustCompile(`\b\d[\d,]*(?:\.\d+)?[KMBTkmbt]?\b`)

	orgRE = regexp.MustCompile(`\b[A-Z][A-Za-z0-9&\-]*(?:\s+[A-Z][A-Za-z0-9&\-]*)*\s+(?:Inc\.?|Ltd\.?|LLC\.?|Corp\.?|Co\.?|Group|Holdings|Partners|Technologies|Solutions|Systems|Services|Foundation|Institute|Association|Enterprises|Ventures|Capital|Consulting)\b`)

	personRE = regexp.MustCompile(`\b(?:(?:Mr\.|Mrs\.|Ms\.|Dr\.|Prof\.)\s+)?[A-Z][a-z]{1,20}(?:\s+[A-Z][a-z]{1,20}){1,3}\b`)
)

// Place names and regions that match the person pattern but are not people.
var personExclusions = map[string]bool{
	"United States": true, "New York": true, "Los Angeles": true,
	"San Francisco": true, "North America": true, "South America": true,
	"Latin America": true, "Middle East": true, "East Asia": true,
	"South Asia": true, "New Zealand": true, "Great Britain": true,
}

// Overlapping matches resolve by kind priority, highest first.
var kindPriority = map[string]int{
	KindURL:    8,
	KindEmail:  7,
	KindFile:   6,
	KindMoney:  5,
	KindDate:   4,
	KindOrg:    3,
	KindPerson: 2,
	KindNumber: 1,
}

var kindConfidence = map[string]float64{
	KindURL:    1.0,
	KindEmail:  1.0,
	KindFile:   0.9,
	KindMoney:  1.0,
	KindDate:   0.95,
	KindOrg:    0.85,
	KindPerson: 0.75,
	KindNumber: 0.9,
}

var kindPattern = map[string]*regexp.Regexp{
	KindURL:    urlRE,
	KindEmail:  emailRE,
	KindFile:   fileRE,
	KindMoney:  moneyRE,
	KindDate:   dateRE,
	KindOrg:    orgRE,
	KindPerson: personRE,
	KindNumber: numberRE,
}

// kindEntityType maps a mention kind to the entity type recorded on the
// session. Kinds without a dedicated type become concepts and keep the
// kind as an attribute.
func kindEntityType(kind string) session.EntityType {
	switch kind {
	case KindPerson:
		return session.EntityPerson
	case KindOrg:
		return session.EntityOrganisation
	case KindFile:
		return session.EntityFile
	default:
		return session.EntityConcept
	}
}

// AllKinds lists every kind the rule-based extractor supports, in priority
// order.
func AllKinds() []string {
	return []string{KindURL, KindEmail, KindFile, KindMoney, KindDate, KindOrg, KindPerson, KindNumber}
}

// Extractor finds typed entity mentions using handcrafted patterns. No
// external NLP model is involved; overlapping matches are resolved by kind
// priority and a minimum-confidence floor filters the output.
type Extractor struct {
	kinds         map[string]bool
	minConfidence float64
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithKinds restricts extraction to the named kinds.
func WithKinds(kinds ...string) ExtractorOption {
	return func(e *Extractor) {
		e.kinds = map[string]bool{}
		for _, k := range kinds {
			e.kinds[k] = true
		}
	}
}

// WithMinConfidence sets the confidence floor below which mentions are
// dropped. Default 0.5.
func WithMinConfidence(c float64) ExtractorOption {
	return func(e *Extractor) { e.minConfidence = c }
}

// NewExtractor returns an extractor covering all supported kinds.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{kinds: map[string]bool{}, minConfidence: 0.5}
	for _, k := range AllKinds() {
		e.kinds[k] = true
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns non-overlapping mentions in document order. When two
// patterns match overlapping spans, the higher-priority kind wins.
func (e *Extractor) Extract(text string) []Mention {
	if text == "" {
		return nil
	}
	var raw []Mention
	for _, kind := range AllKinds() {
		if !e.kinds[kind] {
			continue
		}
		raw = append(raw, matchKind(text, kind)...)
	}
	resolved := removeOverlaps(raw)

	out := resolved[:0]
	for _, m := range resolved {
		if m.Confidence >= e.minConfidence {
			out = append(out, m)
		}
	}
	return out
}

// ExtractKind returns only mentions of a single kind, still subject to
// overlap resolution against the other enabled kinds.
func (e *Extractor) ExtractKind(text, kind string) []Mention {
	var out []Mention
	for _, m := range e.Extract(text) {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func matchKind(text, kind string) []Mention {
	pattern := kindPattern[kind]
	confidence := kindConfidence[kind]
	var out []Mention
	for _, loc := range pattern.FindAllStringIndex(text, -1) {
		surface := strings.TrimSpace(text[loc[0]:loc[1]])
		if surface == "" {
			continue
		}
		if kind == KindPerson && personExclusions[surface] {
			continue
		}
		out = append(out, Mention{
			Surface:    surface,
			Type:       kindEntityType(kind),
			Kind:       kind,
			Start:      loc[0],
			End:        loc[1],
			Confidence: confidence,
			Attributes: map[string]string{"kind": kind},
		})
	}
	return out
}

// removeOverlaps drops lower-priority mentions whose spans intersect a
// higher-priority mention. Survivors come back in document order.
func removeOverlaps(mentions []Mention) []Mention {
	sorted := make([]Mention, len(mentions))
	copy(sorted, mentions)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := kindPriority[sorted[i].Kind], kindPriority[sorted[j].Kind]
		if pi != pj {
			return pi > pj
		}
		return sorted[i].Start < sorted[j].Start
	})

	type span struct{ start, end int }
	var kept []Mention
	var occupied []span
	for _, m := range sorted {
		overlaps := false
		for _, s := range occupied {
			if m.Start < s.end && m.End > s.start {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, m)
			occupied = append(occupied, span{m.Start, m.End})
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}
