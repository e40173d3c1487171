// Package models defines the canonical records shared across the AgentLens
// backend: events, sessions, agents, alert rules, and the query/response
// shapes built from them.
package models

import (
	"encoding/json"
	"time"
)

// EventType is the closed set of event discriminants. Every stored event
// carries exactly one of these; the payload shape is determined by the type.
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventSessionEnded   EventType = "session_ended"

	EventToolCall     EventType = "tool_call"
	EventToolResponse EventType = "tool_response"
	EventToolError    EventType = "tool_error"

	EventApprovalRequested EventType = "approval_requested"
	EventApprovalGranted   EventType = "approval_granted"
	EventApprovalDenied    EventType = "approval_denied"
	EventApprovalExpired   EventType = "approval_expired"

	EventFormSubmitted EventType = "form_submitted"
	EventFormCompleted EventType = "form_completed"
	EventFormExpired   EventType = "form_expired"

	EventCostTracked EventType = "cost_tracked"

	EventLLMCall     EventType = "llm_call"
	EventLLMResponse EventType = "llm_response"

	EventAlertTriggered EventType = "alert_triggered"
	EventAlertResolved  EventType = "alert_resolved"

	EventCustom EventType = "custom"
)

// AllEventTypes lists every valid event type, in taxonomy order.
var AllEventTypes = []EventType{
	EventSessionStarted, EventSessionEnded,
	EventToolCall, EventToolResponse, EventToolError,
	EventApprovalRequested, EventApprovalGranted, EventApprovalDenied, EventApprovalExpired,
	EventFormSubmitted, EventFormCompleted, EventFormExpired,
	EventCostTracked,
	EventLLMCall, EventLLMResponse,
	EventAlertTriggered, EventAlertResolved,
	EventCustom,
}

// Valid reports whether t is a member of the closed event type set.
func (t EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity classifies an event's impact.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Event is the canonical stored record. Payload and Metadata hold the
// canonical JSON bytes produced at ingest; the hash is computed over exactly
// those bytes, so they are never re-encoded on the read path.
type Event struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"sessionId"`
	AgentID   string          `json:"agentId"`
	TenantID  string          `json:"tenantId"`
	EventType EventType       `json:"eventType"`
	Severity  Severity        `json:"severity"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  json.RawMessage `json:"metadata"`
	PrevHash  *string         `json:"prevHash"`
	Hash      string          `json:"hash"`
}

// Clone returns a deep copy. Emitted events are cloned so bus subscribers and
// cached replay states cannot mutate stored state.
func (e *Event) Clone() *Event {
	cp := *e
	if e.PrevHash != nil {
		ph := *e.PrevHash
		cp.PrevHash = &ph
	}
	cp.Payload = append(json.RawMessage(nil), e.Payload...)
	cp.Metadata = append(json.RawMessage(nil), e.Metadata...)
	return &cp
}

// IngestEventInput is a producer-supplied event before the server assigns
// identity and chain position. Timestamp is optional (server stamps UTC now),
// severity defaults to info, metadata defaults to an empty map.
type IngestEventInput struct {
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	SessionID string         `json:"sessionId"`
	AgentID   string         `json:"agentId"`
	EventType EventType      `json:"eventType"`
	Severity  Severity       `json:"severity,omitempty"`
	Payload   map[string]any `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
