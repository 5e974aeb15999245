package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// StatsRequest asks for dashboard counters of one tenant. TenantID is required
// and the range is half-open [From, To).
type StatsRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
}

type Stats struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`

	TotalCalls  int `json:"total_calls"`
	HandledByAI int `json:"handled_by_ai"`
	Escalated   int `json:"escalated"`
	Missed      int `json:"missed"`
	Failed      int `json:"failed"`
	ActiveNow   int `json:"active_now"`

	LeadsCaptured int `json:"leads_captured"`

	TotalDurationSeconds   int     `json:"total_duration_seconds"`
	AverageDurationSeconds int     `json:"average_duration_seconds"`
	AverageConfidence      float64 `json:"average_confidence"`

	// HandledRate is HandledByAI over finished calls, 0 when none finished.
	HandledRate float64        `json:"handled_rate"`
	ByIntent    map[string]int `json:"by_intent"`
}
