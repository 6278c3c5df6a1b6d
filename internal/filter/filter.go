// Package filter compiles boolean expressions for narrowing session
// listings. Expressions see one session summary at a time through a flat
// variable namespace.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/invincible-jha/agent-session-linker/session"
)

// Filter is a compiled session-listing predicate. A nil Filter matches
// every session.
type Filter struct {
	Source  string
	program *vm.Program
}

// Compile validates and compiles a filter expression. Expressions can
// reference session_id, agent_id, segment_count, task_count,
// entity_count, token_count, continuation, created_at, updated_at, and
// age_hours, for example:
//
//	agent_id == "research" && token_count > 4000
//	continuation || age_hours < 24
func Compile(source string) (*Filter, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("empty filter expression")
	}
	program, err := expr.Compile(source,
		expr.Env(env(session.Summary{}, time.Time{})),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("filter compile error: %w", err)
	}
	return &Filter{Source: source, program: program}, nil
}

// Match evaluates the filter against one session summary.
func (f *Filter) Match(s session.Summary) (bool, error) {
	if f == nil {
		return true, nil
	}
	result, err := expr.Run(f.program, env(s, time.Now().UTC()))
	if err != nil {
		return false, fmt.Errorf("filter eval error for %q: %w", f.Source, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T, expected bool", f.Source, result)
	}
	return b, nil
}

// Apply returns the summaries matching the filter, preserving order.
func (f *Filter) Apply(summaries []session.Summary) ([]session.Summary, error) {
	if f == nil {
		return summaries, nil
	}
	out := make([]session.Summary, 0, len(summaries))
	for _, s := range summaries {
		ok, err := f.Match(s)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func env(s session.Summary, now time.Time) map[string]interface{} {
	var age float64
	if !now.IsZero() {
		age = now.Sub(s.UpdatedAt).Hours()
	}
	return map[string]interface{}{
		"session_id":    s.SessionID,
		"agent_id":      s.AgentID,
		"segment_count": s.SegmentCount,
		"task_count":    s.TaskCount,
		"entity_count":  s.EntityCount,
		"token_count":   s.TokenCount,
		"continuation":  s.Continuation,
		"created_at":    s.CreatedAt,
		"updated_at":    s.UpdatedAt,
		"age_hours":     age,
	}
}
