package session

import (
	"math"
	"time"
)

// Summary is a cheap projection of a stored session used by listings and
// filter expressions.
type Summary struct {
	SessionID    string    `json:"session_id"`
	AgentID      string    `json:"agent_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	SegmentCount int       `json:"segment_count"`
	TaskCount    int       `json:"task_count"`
	EntityCount  int       `json:"entity_count"`
	TokenCount   int       `json:"token_count"`
	Continuation bool      `json:"continuation"`
}

// Summarize projects a record into its listing summary.
func Summarize(rec *Record) Summary {
	return Summary{
		SessionID:    rec.SessionID,
		AgentID:      rec.AgentID,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		SegmentCount: len(rec.Segments),
		TaskCount:    len(rec.Tasks),
		EntityCount:  len(rec.Entities),
		TokenCount:   rec.TotalTokens(),
		Continuation: rec.ParentSessionID != "",
	}
}

// Stats aggregates totals across stored sessions. StoredBytes is the
// backend footprint of live sessions; it is reported only when the
// backend can enumerate record metadata and the stats are not scoped to
// one agent.
type Stats struct {
	TotalSessions   int       `json:"total_sessions"`
	TotalSegments   int       `json:"total_segments"`
	TotalTokens     int       `json:"total_tokens"`
	TotalTasks      int       `json:"total_tasks"`
	TotalEntities   int       `json:"total_entities"`
	TotalCostUSD    float64   `json:"total_cost_usd"`
	StoredBytes     int64     `json:"stored_bytes"`
	Agents          []string  `json:"agents"`
	OldestCreatedAt time.Time `json:"oldest_created_at"`
	NewestUpdatedAt time.Time `json:"newest_updated_at"`
}

// roundCost rounds accumulated USD cost to 6 decimal places so float noise
// from repeated addition never leaks into reported totals.
func roundCost(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
