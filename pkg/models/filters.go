package models

import "time"

// EventFilter selects events inside a tenant. Zero values mean "no
// constraint". Order defaults to descending timestamp.
type EventFilter struct {
	SessionID  string      `json:"sessionId,omitempty"`
	AgentID    string      `json:"agentId,omitempty"`
	EventTypes []EventType `json:"eventTypes,omitempty"`
	Severities []Severity  `json:"severities,omitempty"`
	From       *time.Time  `json:"from,omitempty"`
	To         *time.Time  `json:"to,omitempty"`
	Search     string      `json:"search,omitempty"` // substring match over payload
	Order      string      `json:"order,omitempty"`  // "asc" | "desc" (default)
	Limit      int         `json:"limit,omitempty"`
	Offset     int         `json:"offset,omitempty"`
}

// SessionFilter selects sessions inside a tenant.
type SessionFilter struct {
	AgentID string        `json:"agentId,omitempty"`
	Status  SessionStatus `json:"status,omitempty"`
	From    *time.Time    `json:"from,omitempty"`
	To      *time.Time    `json:"to,omitempty"`
	Tags    []string      `json:"tags,omitempty"`
	Limit   int           `json:"limit,omitempty"`
	Offset  int           `json:"offset,omitempty"`
}

// EventCounts is the single-pass result of countEventsBatch.
type EventCounts struct {
	Total     int64 `json:"total"`
	Errors    int64 `json:"errors"`
	Critical  int64 `json:"critical"`
	ToolError int64 `json:"toolErrors"`
}

// AnalyticsQuery asks for bucketed activity between From and To.
type AnalyticsQuery struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Granularity string    `json:"granularity"` // "hour" | "day"
	AgentID     string    `json:"agentId,omitempty"`
}

// AnalyticsBucket is one time bucket of aggregated activity.
type AnalyticsBucket struct {
	Start         time.Time `json:"start"`
	EventCount    int64     `json:"eventCount"`
	ToolCallCount int64     `json:"toolCallCount"`
	ErrorCount    int64     `json:"errorCount"`
	AvgLatencyMs  float64   `json:"avgLatencyMs"`
	TotalCostUsd  float64   `json:"totalCostUsd"`
}

// Analytics is the full analytics response: buckets plus range totals.
type Analytics struct {
	Buckets        []AnalyticsBucket `json:"buckets"`
	EventCount     int64             `json:"eventCount"`
	ToolCallCount  int64             `json:"toolCallCount"`
	ErrorCount     int64             `json:"errorCount"`
	AvgLatencyMs   float64           `json:"avgLatencyMs"`
	TotalCostUsd   float64           `json:"totalCostUsd"`
	UniqueSessions int64             `json:"uniqueSessions"`
	UniqueAgents   int64             `json:"uniqueAgents"`
}

// TenantStats is the per-tenant entity totals for GET /api/stats.
type TenantStats struct {
	Events   int64 `json:"events"`
	Sessions int64 `json:"sessions"`
	Agents   int64 `json:"agents"`
}
