package domain

import (
	"encoding/json"
	"time"
)

// Result is one scored item produced by a task.
// Rank is dense 1..N over a ranked task's results; zero marks a result that
// was persisted without ranking, as happens when a run is cancelled.
type Result struct {
	TaskID               string          `json:"task_id"`
	Symbol               string          `json:"symbol"`
	Name                 string          `json:"name,omitempty"`
	TechnicalScore       *float64        `json:"technical_score,omitempty"`
	Confidence           *float64        `json:"confidence,omitempty"`
	FusedScore           float64         `json:"fused_score"`
	Action               string          `json:"action"`
	Summary              string          `json:"summary,omitempty"`
	Rationale            string          `json:"rationale,omitempty"`
	Indicators           json.RawMessage `json:"indicators,omitempty"`
	Rank                 int             `json:"rank"`
	Selected             bool            `json:"selected"`
	RecommendationReason string          `json:"recommendation_reason,omitempty"`
	AnalyzedAt           time.Time       `json:"analyzed_at"`
}

// Ranked reports whether the result has been assigned a rank.
func (r *Result) Ranked() bool {
	return r.Rank > 0
}
