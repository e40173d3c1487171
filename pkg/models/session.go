package models

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// Terminal reports whether the status is sticky: once a session reaches
// completed or error it never returns to active, though counters keep
// updating for late events.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionError
}

// Session is the materialized per-session aggregate, maintained inside the
// same atomic unit as each event batch insert.
type Session struct {
	ID                string        `json:"id"`
	AgentID           string        `json:"agentId"`
	AgentName         string        `json:"agentName,omitempty"`
	TenantID          string        `json:"tenantId"`
	StartedAt         time.Time     `json:"startedAt"`
	EndedAt           *time.Time    `json:"endedAt,omitempty"`
	Status            SessionStatus `json:"status"`
	EventCount        int64         `json:"eventCount"`
	ToolCallCount     int64         `json:"toolCallCount"`
	ErrorCount        int64         `json:"errorCount"`
	LLMCallCount      int64         `json:"llmCallCount"`
	TotalInputTokens  int64         `json:"totalInputTokens"`
	TotalOutputTokens int64         `json:"totalOutputTokens"`
	TotalCostUsd      float64       `json:"totalCostUsd"`
	Tags              []string      `json:"tags,omitempty"`
}

// Clone returns a deep copy safe to hand to bus subscribers.
func (s *Session) Clone() *Session {
	cp := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	cp.Tags = append([]string(nil), s.Tags...)
	return &cp
}

// Agent is the materialized per-agent aggregate. Identity is the composite
// (tenantId, id); two tenants may share an agent id string with fully
// independent records.
type Agent struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantId"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	FirstSeenAt  time.Time `json:"firstSeenAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
	SessionCount int64     `json:"sessionCount"`
}

// HealthScore is a periodic per-agent health snapshot recorded by the
// retention sweep and carried through export/import.
type HealthScore struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantId"`
	AgentID      string    `json:"agentId"`
	RecordedAt   time.Time `json:"recordedAt"`
	ErrorRate    float64   `json:"errorRate"`
	AvgCostUsd   float64   `json:"avgCostUsd"`
	SessionCount int64     `json:"sessionCount"`
}

// Capability is a discovered agent capability, keyed (tenantId, id).
type Capability struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	AgentID     string    `json:"agentId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
}

// TrustScore tracks a rolling trust value per agent, keyed (tenantId, agentId).
type TrustScore struct {
	TenantID  string    `json:"tenantId"`
	AgentID   string    `json:"agentId"`
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updatedAt"`
}
