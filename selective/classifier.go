// Package selective restores session history selectively: segments are
// classified, scored by restoration importance, and loaded greedily
// within a token budget so the context that matters most survives a
// resume even when the full history does not fit.
package selective

import (
	"regexp"
	"strings"

	"github.com/invincible-jha/agent-session-linker/session"
)

// Class is the restoration category assigned to a segment. Classes are
// coarser than session.SegmentType: they group what a segment means for
// a resumed conversation, not what it contains.
type Class string

// Restoration classes.
const (
	ClassPreference Class = "preference"
	ClassTaskState  Class = "task_state"
	ClassReasoning  Class = "reasoning"
	ClassMetadata   Class = "metadata"
	ClassChat       Class = "chat"
	ClassUnknown    Class = "unknown"
)

// ParseClass returns the Class named by s, or ClassUnknown with ok=false
// when s is not a valid class name.
func ParseClass(s string) (Class, bool) {
	switch Class(strings.TrimSpace(strings.ToLower(s))) {
	case ClassPreference:
		return ClassPreference, true
	case ClassTaskState:
		return ClassTaskState, true
	case ClassReasoning:
		return ClassReasoning, true
	case ClassMetadata:
		return ClassMetadata, true
	case ClassChat:
		return ClassChat, true
	}
	return ClassUnknown, false
}

// Rule is one classification rule. A rule matches when its metadata
// condition or its content pattern matches; rules with both match on
// either. Lower priority values are evaluated first.
type Rule struct {
	Class    Class
	Field    string
	Value    string
	Pattern  *regexp.Regexp
	Priority int
}

func (r Rule) matches(seg *session.Segment) bool {
	if r.Field != "" && r.Value != "" {
		val := fieldValue(seg, r.Field)
		if strings.Contains(strings.ToLower(val), strings.ToLower(r.Value)) {
			return true
		}
	}
	if r.Pattern != nil && r.Pattern.MatchString(seg.Content) {
		return true
	}
	return false
}

func fieldValue(seg *session.Segment, field string) string {
	switch field {
	case "role":
		return string(seg.Role)
	case "segment_type":
		if v, ok := seg.Metadata["segment_type"]; ok {
			return v
		}
		return string(seg.Type)
	default:
		return seg.Metadata[field]
	}
}

var (
	preferenceRE = regexp.MustCompile(`(?i)\b(prefer|preference|always use|always respond|never use|style guide|my preference|user prefers?|format preference|output format|language preference)\b`)
	taskStateRE  = regexp.MustCompile(`(?i)\b(task:|todo:|action item:|in progress:|completed:|pending:|current task|working on|next step|status:)`)
	reasoningRE  = regexp.MustCompile(`(?i)\b(because|therefore|reasoning:|rationale:|i chose|i decided|my reasoning|analysis:|considering|given that|since|thus)\b`)
	metadataRE   = regexp.MustCompile(`(?i)\b(session_id|agent_id|timestamp|version:|schema_version|created_at|updated_at|trace_id|span_id|correlation_id)\b`)
)

// defaultRules classify by explicit metadata first, then role, then
// content keywords. First match wins.
var defaultRules = []Rule{
	{Class: ClassPreference, Field: "segment_type", Value: "preference", Priority: 10},
	{Class: ClassTaskState, Field: "segment_type", Value: "task_state", Priority: 10},
	{Class: ClassReasoning, Field: "segment_type", Value: "reasoning", Priority: 10},
	{Class: ClassMetadata, Field: "segment_type", Value: "metadata", Priority: 10},
	{Class: ClassChat, Field: "segment_type", Value: "chat", Priority: 10},
	{Class: ClassChat, Field: "segment_type", Value: "conversation", Priority: 12},
	{Class: ClassMetadata, Field: "role", Value: "system", Priority: 20},
	{Class: ClassPreference, Pattern: preferenceRE, Priority: 30},
	{Class: ClassTaskState, Pattern: taskStateRE, Priority: 30},
	{Class: ClassReasoning, Pattern: reasoningRE, Priority: 40},
	{Class: ClassMetadata, Pattern: metadataRE, Priority: 40},
}

// Classifier assigns restoration classes to segments by evaluating an
// ordered rule list. An explicit, valid class in the segment's metadata
// wins outright unless that trust is disabled.
type Classifier struct {
	rules         []Rule
	fallback      Class
	trustExplicit bool
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithRules replaces the built-in rule set. Rules are evaluated in
// ascending priority order.
func WithRules(rules []Rule) ClassifierOption {
	return func(c *Classifier) { c.rules = rules }
}

// WithFallback sets the class assigned when no rule matches. Default chat.
func WithFallback(class Class) ClassifierOption {
	return func(c *Classifier) { c.fallback = class }
}

// WithoutExplicitTrust makes the classifier re-derive the class from
// rules even when the segment metadata already names a valid one.
func WithoutExplicitTrust() ClassifierOption {
	return func(c *Classifier) { c.trustExplicit = false }
}

// NewClassifier returns a classifier with the built-in rule set.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		rules:         defaultRules,
		fallback:      ClassChat,
		trustExplicit: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	sorted := append([]Rule(nil), c.rules...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Priority < sorted[j-1].Priority; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	c.rules = sorted
	return c
}

// Classify returns the restoration class for one segment.
func (c *Classifier) Classify(seg *session.Segment) Class {
	if c.trustExplicit {
		if explicit, ok := ParseClass(seg.Metadata["segment_type"]); ok {
			return explicit
		}
	}
	for _, rule := range c.rules {
		if !c.trustExplicit && rule.Field == "segment_type" {
			// These rules honour an already-assigned class, which is
			// exactly what distrust turns off.
			continue
		}
		if rule.matches(seg) {
			return rule.Class
		}
	}
	return c.fallback
}

// ClassifyAll classifies segments in input order.
func (c *Classifier) ClassifyAll(segments []session.Segment) []Class {
	classes := make([]Class, len(segments))
	for i := range segments {
		classes[i] = c.Classify(&segments[i])
	}
	return classes
}
