// Package context scores, selects, and compresses prior-session history
// so the most useful parts can be carried into a new conversation under a
// token budget.
package context

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/invincible-jha/agent-session-linker/session"
)

// Default injection tuning.
const (
	DefaultTokenBudget = 2000
	DefaultMaxSegments = 20

	defaultEntityBoost = 0.1
	maxHeaderEntities  = 10
	maxHeaderAliases   = 3
)

// defaultTypePriorities rank segment types by how valuable they usually
// are when resuming work. Unknown types score 0.5.
var defaultTypePriorities = map[session.SegmentType]float64{
	session.SegmentPlan:         1.0,
	session.SegmentReasoning:    0.9,
	session.SegmentCode:         0.85,
	session.SegmentOutput:       0.7,
	session.SegmentConversation: 0.5,
	session.SegmentMetadata:     0.3,
}

// InjectionConfig tunes scoring and selection. Zero values fall back to
// the documented defaults, so InjectionConfig{} is a usable configuration.
type InjectionConfig struct {
	// TokenBudget caps the total token count of injected segments.
	// Default 2000.
	TokenBudget int
	// MaxSegments caps how many segments are injected regardless of
	// budget. Default 20.
	MaxSegments int

	// Freshness decay tuning. Defaults: exponential curve, rate 0.01,
	// step thresholds 24h/168h.
	Curve          DecayCurve
	DecayRate      float64
	StepThresholds [2]float64
	// MaxAgeHours hard-excludes older segments regardless of score.
	// Default 168 (one week).
	MaxAgeHours float64

	// Score weights. When all three are zero the defaults 0.5 relevance,
	// 0.3 freshness, 0.2 type apply.
	RelevanceWeight float64
	FreshnessWeight float64
	TypeWeight      float64

	// EntityBoost is added to the relevance term when a candidate
	// mentions an entity that also appears in the query. Default 0.1.
	EntityBoost float64

	// TypePriorities overrides the per-type priority table.
	TypePriorities map[session.SegmentType]float64

	// Omit flags drop sections from the rendered block.
	OmitSummary     bool
	OmitActiveTasks bool
	OmitEntities    bool

	// Now supplies the current time for age computation. Defaults to
	// time.Now.
	Now func() time.Time
}

// Injection is the structured outcome of one Inject call.
type Injection struct {
	// Prompt is the rendered block, empty when no sessions were given.
	Prompt string
	// SelectedIDs lists injected segment ids in selection (rank) order.
	SelectedIDs []string
	// TokensUsed is the summed token count of the injected segments.
	TokensUsed int
	// Considered counts all candidate segments across the given sessions.
	Considered int
	// SkippedByAge counts candidates excluded by the max-age threshold.
	SkippedByAge int
	// SkippedOverBudget counts ranked candidates that did not fit the
	// remaining budget.
	SkippedOverBudget int
	// UsedFallback is set when the age filter excluded everything and the
	// single most relevant segment was injected instead.
	UsedFallback bool
}

// Injector selects which prior segments, tasks, and entities are worth
// carrying into a new conversation and renders them as a prompt block.
// Segments are ranked by a weighted combination of TF-IDF relevance to
// the query, freshness decay, and segment type priority.
type Injector struct {
	cfg       InjectionConfig
	freshness *FreshnessDecay
	now       func() time.Time
}

// NewInjector builds an injector, filling zero-value config fields with
// defaults.
func NewInjector(cfg InjectionConfig) *Injector {
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = DefaultMaxSegments
	}
	if cfg.Curve == "" {
		cfg.Curve = DecayExponential
	}
	if cfg.MaxAgeHours <= 0 {
		cfg.MaxAgeHours = defaultMaxAgeHours
	}
	if cfg.DecayRate <= 0 {
		cfg.DecayRate = defaultDecayRate
	}
	if cfg.StepThresholds == [2]float64{} {
		cfg.StepThresholds = defaultStepThresholds
	}
	if cfg.RelevanceWeight == 0 && cfg.FreshnessWeight == 0 && cfg.TypeWeight == 0 {
		cfg.RelevanceWeight, cfg.FreshnessWeight, cfg.TypeWeight = 0.5, 0.3, 0.2
	}
	if cfg.EntityBoost == 0 {
		cfg.EntityBoost = defaultEntityBoost
	}
	if cfg.TypePriorities == nil {
		cfg.TypePriorities = defaultTypePriorities
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Injector{
		cfg: cfg,
		freshness: NewFreshnessDecay(
			WithCurve(cfg.Curve),
			WithMaxAge(cfg.MaxAgeHours),
			WithDecayRate(cfg.DecayRate),
			WithStepThresholds(cfg.StepThresholds[0], cfg.StepThresholds[1]),
		),
		now: cfg.Now,
	}
}

type candidate struct {
	seg *session.Segment
	rec *session.Record
}

// Inject selects relevant context from the given sessions and renders it
// for inclusion in a system prompt. Segments from all sessions compete
// for the same budget. The prompt is empty only when records is empty;
// otherwise the block always carries the session header sections even if
// no segment qualified.
func (in *Injector) Inject(records []*session.Record, query string) Injection {
	var out Injection
	if len(records) == 0 {
		return out
	}

	queryTokens := Tokenize(query)
	now := in.now().UTC()
	entities := in.queryEntities(records, queryTokens)

	var eligible []candidate
	for _, rec := range records {
		if rec == nil {
			continue
		}
		for i := range rec.Segments {
			out.Considered++
			age := now.Sub(rec.Segments[i].Timestamp).Hours()
			if age <= in.cfg.MaxAgeHours {
				eligible = append(eligible, candidate{seg: &rec.Segments[i], rec: rec})
			}
		}
	}
	out.SkippedByAge = out.Considered - len(eligible)

	var selected []candidate
	if len(eligible) == 0 && out.Considered > 0 {
		// Everything is past the age threshold. Rather than resume with
		// nothing, inject the single most relevant segment that fits.
		if best, ok := in.mostRelevant(records, queryTokens, entities, now); ok {
			selected = []candidate{best}
			out.TokensUsed = segmentTokens(best.seg)
			out.SelectedIDs = []string{best.seg.ID}
			out.UsedFallback = true
		}
	} else {
		selected = in.selectWithinBudget(eligible, queryTokens, entities, now, &out)
	}

	out.Prompt = in.render(records, selected, entities)
	return out
}

// ScoreSegment returns the combined relevance, freshness, and type score
// of one segment against a query, with IDF built over the given corpus.
func (in *Injector) ScoreSegment(seg session.Segment, query string, corpus []session.Segment) float64 {
	queryTokens := Tokenize(query)
	docs := make([][]string, len(corpus))
	for i := range corpus {
		docs[i] = Tokenize(corpus[i].Content)
	}
	idf := computeIDF(docs)
	return in.score(&seg, Tokenize(seg.Content), queryTokens, idf, nil, in.now().UTC())
}

func (in *Injector) selectWithinBudget(eligible []candidate, queryTokens []string, entities []*session.EntityReference, now time.Time, out *Injection) []candidate {
	if len(eligible) == 0 {
		return nil
	}
	docs := make([][]string, len(eligible))
	for i, c := range eligible {
		docs[i] = Tokenize(c.seg.Content)
	}
	idf := computeIDF(docs)

	type ranked struct {
		candidate
		score float64
	}
	scored := make([]ranked, len(eligible))
	for i, c := range eligible {
		scored[i] = ranked{candidate: c, score: in.score(c.seg, docs[i], queryTokens, idf, entities, now)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var selected []candidate
	for _, sc := range scored {
		if len(selected) >= in.cfg.MaxSegments {
			break
		}
		tokens := segmentTokens(sc.seg)
		if out.TokensUsed+tokens > in.cfg.TokenBudget {
			out.SkippedOverBudget++
			continue
		}
		selected = append(selected, sc.candidate)
		out.TokensUsed += tokens
		out.SelectedIDs = append(out.SelectedIDs, sc.seg.ID)
	}
	return selected
}

// mostRelevant scores every segment ignoring the age filter and returns
// the best one that fits the budget on its own.
func (in *Injector) mostRelevant(records []*session.Record, queryTokens []string, entities []*session.EntityReference, now time.Time) (candidate, bool) {
	var all []candidate
	for _, rec := range records {
		if rec == nil {
			continue
		}
		for i := range rec.Segments {
			all = append(all, candidate{seg: &rec.Segments[i], rec: rec})
		}
	}
	docs := make([][]string, len(all))
	for i, c := range all {
		docs[i] = Tokenize(c.seg.Content)
	}
	idf := computeIDF(docs)

	best := candidate{}
	bestScore := -1.0
	for i, c := range all {
		if segmentTokens(c.seg) > in.cfg.TokenBudget {
			continue
		}
		if s := in.score(c.seg, docs[i], queryTokens, idf, entities, now); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, bestScore >= 0
}

func (in *Injector) score(seg *session.Segment, docTokens, queryTokens []string, idf map[string]float64, entities []*session.EntityReference, now time.Time) float64 {
	relevance := tfidfScore(queryTokens, docTokens, idf)
	if len(entities) > 0 && mentionsEntity(docTokens, entities) {
		relevance += in.cfg.EntityBoost
	}
	freshness := in.freshness.Score(now.Sub(seg.Timestamp).Hours())
	typeScore, ok := in.cfg.TypePriorities[seg.Type]
	if !ok {
		typeScore = 0.5
	}
	return in.cfg.RelevanceWeight*relevance +
		in.cfg.FreshnessWeight*freshness +
		in.cfg.TypeWeight*typeScore
}

// queryEntities returns entities whose canonical name or alias tokens
// overlap the query tokens.
func (in *Injector) queryEntities(records []*session.Record, queryTokens []string) []*session.EntityReference {
	if in.cfg.OmitEntities && in.cfg.EntityBoost <= 0 {
		return nil
	}
	qset := toSet(queryTokens)
	if len(qset) == 0 {
		return nil
	}
	var relevant []*session.EntityReference
	for _, rec := range records {
		if rec == nil {
			continue
		}
		for i := range rec.Entities {
			ent := &rec.Entities[i]
			if entityInQuery(ent, qset) {
				relevant = append(relevant, ent)
			}
		}
	}
	return relevant
}

func entityInQuery(ent *session.EntityReference, qset map[string]bool) bool {
	for _, name := range entityNames(ent) {
		for _, tok := range Tokenize(name) {
			if qset[tok] {
				return true
			}
		}
	}
	return false
}

// mentionsEntity reports whether the document contains every token of at
// least one entity name or alias.
func mentionsEntity(docTokens []string, entities []*session.EntityReference) bool {
	docSet := toSet(docTokens)
	for _, ent := range entities {
		for _, name := range entityNames(ent) {
			toks := Tokenize(name)
			if len(toks) == 0 {
				continue
			}
			all := true
			for _, tok := range toks {
				if !docSet[tok] {
					all = false
					break
				}
			}
			if all {
				return true
			}
		}
	}
	return false
}

func entityNames(ent *session.EntityReference) []string {
	names := make([]string, 0, 1+len(ent.Aliases))
	names = append(names, ent.CanonicalName)
	return append(names, ent.Aliases...)
}

func (in *Injector) render(records []*session.Record, selected []candidate, entities []*session.EntityReference) string {
	parts := []string{"--- PRIOR SESSION CONTEXT ---"}

	if !in.cfg.OmitSummary {
		for _, rec := range records {
			if rec == nil || rec.Summary == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("\n[Summary from session %s]", session.ShortID(rec.SessionID)))
			parts = append(parts, rec.Summary)
		}
	}

	if !in.cfg.OmitActiveTasks {
		var lines []string
		for _, rec := range records {
			if rec == nil {
				continue
			}
			for _, task := range rec.Tasks {
				if task.Status.Terminal() {
					continue
				}
				lines = append(lines, fmt.Sprintf("  - [%s] %s", statusLabel(task.Status), task.Title))
				if task.Description != "" {
					lines = append(lines, "    "+task.Description)
				}
			}
		}
		if len(lines) > 0 {
			parts = append(parts, "\n[Active Tasks]")
			parts = append(parts, lines...)
		}
	}

	if !in.cfg.OmitEntities && len(entities) > 0 {
		parts = append(parts, "\n[Relevant Entities]")
		for i, ent := range entities {
			if i >= maxHeaderEntities {
				break
			}
			alias := ""
			if len(ent.Aliases) > 0 {
				shown := ent.Aliases
				if len(shown) > maxHeaderAliases {
					shown = shown[:maxHeaderAliases]
				}
				alias = fmt.Sprintf(" (aka %s)", strings.Join(shown, ", "))
			}
			parts = append(parts, fmt.Sprintf("  - %s%s [%s]", ent.CanonicalName, alias, ent.Type))
		}
	}

	if len(selected) > 0 {
		parts = append(parts, "\n[Relevant Context Segments]")
		for _, c := range selected {
			parts = append(parts, fmt.Sprintf("\n[%s | %s | turn=%d | session=%s]",
				strings.ToUpper(string(c.seg.Role)), c.seg.Type, c.seg.TurnIndex, session.ShortID(c.rec.SessionID)))
			parts = append(parts, c.seg.Content)
		}
	}

	parts = append(parts, "\n--- END PRIOR CONTEXT ---")
	return strings.Join(parts, "\n")
}

// statusLabel renders a task status for display: "in_progress" becomes
// "In Progress".
func statusLabel(s session.TaskStatus) string {
	words := strings.Fields(strings.ReplaceAll(string(s), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func segmentTokens(seg *session.Segment) int {
	if seg.TokenCount > 0 {
		return seg.TokenCount
	}
	return session.EstimateTokens(seg.Content)
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		set[tok] = true
	}
	return set
}
