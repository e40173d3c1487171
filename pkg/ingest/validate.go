package ingest

import (
	"fmt"
	"unicode/utf8"

	"github.com/agentlens/agentlens/pkg/models"
)

// Issue is one structured validation failure, addressed by event index.
type Issue struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError rejects a whole batch with the structured issue list.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		i := e.Issues[0]
		return fmt.Sprintf("event %d: %s: %s", i.Index, i.Field, i.Message)
	}
	return fmt.Sprintf("batch validation failed with %d issues", len(e.Issues))
}

// requiredPayloadFields names the fields each payload variant must carry.
var requiredPayloadFields = map[models.EventType][]string{
	models.EventToolCall:          {"toolName", "callId", "arguments"},
	models.EventToolResponse:      {"callId"},
	models.EventToolError:         {"callId", "error"},
	models.EventApprovalRequested: {"requestId", "action"},
	models.EventApprovalGranted:   {"requestId"},
	models.EventApprovalDenied:    {"requestId"},
	models.EventApprovalExpired:   {"requestId"},
	models.EventFormSubmitted:     {"submissionId"},
	models.EventFormCompleted:     {"submissionId"},
	models.EventFormExpired:       {"submissionId"},
	models.EventCostTracked:       {"provider", "model", "inputTokens", "outputTokens", "totalTokens", "costUsd"},
	models.EventLLMCall:           {"callId"},
	models.EventLLMResponse:       {"callId"},
	models.EventAlertTriggered:    {"ruleId"},
	models.EventAlertResolved:     {"ruleId"},
}

// validateInput checks one producer-supplied event. Returned issues carry the
// batch index so clients can address the offending event.
func validateInput(index int, in *models.IngestEventInput) []Issue {
	var issues []Issue
	add := func(field, msg string) {
		issues = append(issues, Issue{Index: index, Field: field, Message: msg})
	}

	if in.SessionID == "" {
		add("sessionId", "must not be empty")
	}
	if in.AgentID == "" {
		add("agentId", "must not be empty")
	}
	if !in.EventType.Valid() {
		add("eventType", fmt.Sprintf("unknown event type %q", in.EventType))
		return issues
	}
	if in.Severity != "" && !in.Severity.Valid() {
		add("severity", fmt.Sprintf("unknown severity %q", in.Severity))
	}

	for _, field := range requiredPayloadFields[in.EventType] {
		v, ok := in.Payload[field]
		if !ok || v == nil {
			add("payload."+field, "required for event type "+string(in.EventType))
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			add("payload."+field, "must not be empty")
		}
	}

	return issues
}

// truncatablePayloadFields are the free-text fields eligible for
// truncate-with-flag when the encoded payload exceeds the byte cap.
var truncatablePayloadFields = []string{"data", "completion", "result", "error"}

// capPayload enforces the configured payload byte cap. Oversized string
// content is truncated and flagged with truncated:true in the payload rather
// than rejecting the event; only a payload still over the cap after
// truncation is refused.
func capPayload(index int, payload map[string]any, byteCap int) ([]Issue, bool) {
	if byteCap <= 0 {
		return nil, false
	}
	if encodedSize(payload) <= byteCap {
		return nil, false
	}

	truncated := false
	for _, field := range truncatablePayloadFields {
		s, ok := payload[field].(string)
		if !ok || len(s) <= byteCap/2 {
			continue
		}
		// Back off to a rune boundary so the cut never splits a multi-byte
		// character and the stored payload stays valid UTF-8.
		cut := byteCap / 2
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		payload[field] = s[:cut] + "…[truncated]"
		truncated = true
		if encodedSize(payload) <= byteCap {
			break
		}
	}
	if truncated {
		payload["truncated"] = true
	}

	if encodedSize(payload) > byteCap {
		return []Issue{{
			Index:   index,
			Field:   "payload",
			Message: fmt.Sprintf("payload exceeds the %d byte cap", byteCap),
		}}, truncated
	}
	return nil, truncated
}

func encodedSize(payload map[string]any) int {
	// A cheap upper-bound walk beats a full marshal in the ingest hot path.
	size := 2
	for k, v := range payload {
		size += len(k) + 4
		switch val := v.(type) {
		case string:
			size += len(val) + 2
		case map[string]any:
			size += encodedSize(val)
		case []any:
			for _, item := range val {
				if s, ok := item.(string); ok {
					size += len(s) + 3
				} else if m, ok := item.(map[string]any); ok {
					size += encodedSize(m)
				} else {
					size += 16
				}
			}
		default:
			size += 16
		}
	}
	return size
}
