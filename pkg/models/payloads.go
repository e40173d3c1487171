package models

import "encoding/json"

// Typed payload variants, one per event type. The wire form is the canonical
// JSON stored on the event; these structs are the decoded view used by the
// replay builder and the validators.

// LLMMessage is a single message in an llm_call conversation.
type LLMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMToolCall is a tool invocation requested inside an llm_response.
type LLMToolCall struct {
	CallID    string         `json:"callId,omitempty"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type SessionStartedPayload struct {
	AgentName string   `json:"agentName,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

type SessionEndedPayload struct {
	// Reason determines the terminal session status: "error" → error,
	// anything else → completed.
	Reason string `json:"reason,omitempty"`
}

type ToolCallPayload struct {
	ToolName  string         `json:"toolName"`
	CallID    string         `json:"callId"`
	Arguments map[string]any `json:"arguments"`
}

type ToolResponsePayload struct {
	CallID     string `json:"callId"`
	Result     any    `json:"result,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

type ToolErrorPayload struct {
	CallID     string `json:"callId"`
	Error      string `json:"error"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

type ApprovalRequestedPayload struct {
	RequestID string `json:"requestId"`
	Action    string `json:"action"`
	Reason    string `json:"reason,omitempty"`
}

// ApprovalDecisionPayload covers approval_granted, approval_denied and
// approval_expired; they share the shape and correlate by requestId.
type ApprovalDecisionPayload struct {
	RequestID string `json:"requestId"`
	DecidedBy string `json:"decidedBy,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type FormSubmittedPayload struct {
	SubmissionID string         `json:"submissionId"`
	FormID       string         `json:"formId,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
}

// FormClosurePayload covers form_completed and form_expired.
type FormClosurePayload struct {
	SubmissionID string `json:"submissionId"`
}

type CostTrackedPayload struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	TotalTokens  int64   `json:"totalTokens"`
	CostUsd      float64 `json:"costUsd"`
}

type LLMCallPayload struct {
	CallID   string       `json:"callId"`
	Provider string       `json:"provider,omitempty"`
	Model    string       `json:"model,omitempty"`
	Messages []LLMMessage `json:"messages,omitempty"`
	// Redacted means message content must be replaced with "[REDACTED]"
	// before leaving the store. Applied on read, never at rest.
	Redacted bool `json:"redacted,omitempty"`
}

type LLMResponsePayload struct {
	CallID       string        `json:"callId"`
	Completion   string        `json:"completion,omitempty"`
	ToolCalls    []LLMToolCall `json:"toolCalls,omitempty"`
	InputTokens  int64         `json:"inputTokens,omitempty"`
	OutputTokens int64         `json:"outputTokens,omitempty"`
	CostUsd      float64       `json:"costUsd,omitempty"`
	LatencyMs    int64         `json:"latencyMs,omitempty"`
	Redacted     bool          `json:"redacted,omitempty"`
}

type AlertTriggeredPayload struct {
	RuleID   string  `json:"ruleId"`
	RuleName string  `json:"ruleName,omitempty"`
	Value    float64 `json:"value,omitempty"`
}

type AlertResolvedPayload struct {
	RuleID string `json:"ruleId"`
}

type CustomPayload struct {
	Name string         `json:"name,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// DecodePayload unmarshals an event's canonical payload into v.
func (e *Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// CorrelationID extracts the pairing key carried by the payload, if the event
// type participates in pairing: callId for tool/LLM events, requestId for
// approvals, submissionId for forms. Empty string when the type has none.
func (e *Event) CorrelationID() string {
	var probe struct {
		CallID       string `json:"callId"`
		RequestID    string `json:"requestId"`
		SubmissionID string `json:"submissionId"`
	}
	if err := e.DecodePayload(&probe); err != nil {
		return ""
	}
	switch e.EventType {
	case EventToolCall, EventToolResponse, EventToolError, EventLLMCall, EventLLMResponse:
		return probe.CallID
	case EventApprovalRequested, EventApprovalGranted, EventApprovalDenied, EventApprovalExpired:
		return probe.RequestID
	case EventFormSubmitted, EventFormCompleted, EventFormExpired:
		return probe.SubmissionID
	}
	return ""
}

// initiatorOf maps a completion/decision/closure type to the type that must
// have introduced its correlation id earlier in the session.
var initiatorOf = map[EventType]EventType{
	EventToolResponse:     EventToolCall,
	EventToolError:        EventToolCall,
	EventLLMResponse:      EventLLMCall,
	EventApprovalGranted:  EventApprovalRequested,
	EventApprovalDenied:   EventApprovalRequested,
	EventApprovalExpired:  EventApprovalRequested,
	EventFormCompleted:    EventFormSubmitted,
	EventFormExpired:      EventFormSubmitted,
}

// InitiatorType returns the initiating event type for a closing event type,
// and whether the type closes a correlation at all.
func InitiatorType(t EventType) (EventType, bool) {
	init, ok := initiatorOf[t]
	return init, ok
}
