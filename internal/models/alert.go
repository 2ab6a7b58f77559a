package models

import "time"

// MetricSample is one monitoring tick's snapshot.
type MetricSample struct {
	Timestamp time.Time    `json:"timestamp"`
	Metrics   RedisMetrics `json:"metrics"`
}

// Alert records a threshold rule violation window. ClearedAt is nil while
// the alert is active.
type Alert struct {
	RuleID      string     `json:"rule_id"`
	Severity    Severity   `json:"severity"`
	Category    Category   `json:"category"`
	Metric      string     `json:"metric"`
	Observed    float64    `json:"observed"`
	Threshold   float64    `json:"threshold"`
	Message     string     `json:"message"`
	TriggeredAt time.Time  `json:"triggered_at"`
	ClearedAt   *time.Time `json:"cleared_at,omitempty"`
}

// Active reports whether the alert has not yet cleared.
func (a *Alert) Active() bool { return a.ClearedAt == nil }
