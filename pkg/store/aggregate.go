package store

import (
	"github.com/agentlens/agentlens/pkg/models"
)

// Aggregate maintenance shared by every backend. Both the in-memory store and
// the Postgres store apply these inside their atomic insert unit so that
// session counters can never drift from a linear scan of the session's events.

// NewSessionFromEvent materializes a session row from the first event seen
// for a (tenantId, sessionId).
func NewSessionFromEvent(e *models.Event) *models.Session {
	s := &models.Session{
		ID:        e.SessionID,
		AgentID:   e.AgentID,
		TenantID:  e.TenantID,
		StartedAt: e.Timestamp,
		Status:    models.SessionActive,
	}
	return s
}

// ApplyEventToSession folds one event into the session aggregate.
// Status is sticky-terminal: once completed/error, late events keep updating
// counters but never revert the status.
func ApplyEventToSession(s *models.Session, e *models.Event) {
	s.EventCount++

	switch e.EventType {
	case models.EventSessionStarted:
		var p models.SessionStartedPayload
		if err := e.DecodePayload(&p); err == nil {
			if p.AgentName != "" {
				s.AgentName = p.AgentName
			}
			if len(p.Tags) > 0 {
				s.Tags = mergeTags(s.Tags, p.Tags)
			}
		}

	case models.EventSessionEnded:
		if !s.Status.Terminal() {
			var p models.SessionEndedPayload
			status := models.SessionCompleted
			if err := e.DecodePayload(&p); err == nil && p.Reason == "error" {
				status = models.SessionError
			}
			s.Status = status
			ts := e.Timestamp
			s.EndedAt = &ts
		}

	case models.EventToolCall:
		s.ToolCallCount++

	case models.EventLLMCall:
		s.LLMCallCount++

	case models.EventLLMResponse:
		var p models.LLMResponsePayload
		if err := e.DecodePayload(&p); err == nil {
			s.TotalInputTokens += p.InputTokens
			s.TotalOutputTokens += p.OutputTokens
			s.TotalCostUsd += p.CostUsd
		}

	case models.EventCostTracked:
		var p models.CostTrackedPayload
		if err := e.DecodePayload(&p); err == nil {
			s.TotalInputTokens += p.InputTokens
			s.TotalOutputTokens += p.OutputTokens
			s.TotalCostUsd += p.CostUsd
		}
	}

	if e.EventType == models.EventToolError || models.SeverityRank(e.Severity) >= models.SeverityRank(models.SeverityError) {
		s.ErrorCount++
	}
}

func mergeTags(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range incoming {
		if !seen[t] {
			existing = append(existing, t)
			seen[t] = true
		}
	}
	return existing
}
