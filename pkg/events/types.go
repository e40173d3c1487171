// Package events provides the process-local publish/subscribe bus that links
// ingestion to the live stream and the alert evaluator.
//
// Direction is strict: ingestion publishes, consumers subscribe. No consumer
// may publish in a way that feeds back into ingestion.
package events

import (
	"time"

	"github.com/agentlens/agentlens/pkg/models"
)

// Bus message types.
const (
	// TypeEventIngested is published once per stored event, in batch order,
	// after the atomic store commit.
	TypeEventIngested = "event_ingested"

	// TypeSessionUpdated is published at most once per session touched by a
	// batch, carrying the new aggregate.
	TypeSessionUpdated = "session_updated"

	// TypeAlertTriggered is published when a rule crosses its threshold.
	TypeAlertTriggered = "alert_triggered"

	// TypeWildcard subscribes to every message type.
	TypeWildcard = "*"
)

// Message is one bus delivery. Exactly one of Event, Session, or the alert
// pair is set, matching Type.
type Message struct {
	Type      string               `json:"type"`
	Timestamp time.Time            `json:"timestamp"`
	Event     *models.Event        `json:"event,omitempty"`
	Session   *models.Session      `json:"session,omitempty"`
	Rule      *models.AlertRule    `json:"rule,omitempty"`
	History   *models.AlertHistory `json:"history,omitempty"`
}

// TenantID returns the tenant the message belongs to. Fan-out uses this to
// forbid cross-tenant delivery regardless of other filters.
func (m *Message) TenantID() string {
	switch {
	case m.Event != nil:
		return m.Event.TenantID
	case m.Session != nil:
		return m.Session.TenantID
	case m.Rule != nil:
		return m.Rule.TenantID
	}
	return ""
}
