// Package replay reconstructs a session's cumulative state step by step. The
// builder owns no state: it is a pure function over the store's timeline.
package replay

import (
	"github.com/agentlens/agentlens/pkg/models"
)

// Options controls one replay build.
type Options struct {
	Offset         int
	Limit          int
	EventTypes     []models.EventType
	IncludeContext bool
}

// DefaultLimit is the page size when the caller does not specify one.
const DefaultLimit = 1000

// RedactedPlaceholder replaces message content of redacted LLM events on
// every read path. Numeric and identity metadata are preserved.
const RedactedPlaceholder = "[REDACTED]"

// ReplayState is a reviewer's view of a session: the verified chain status, a
// whole-session summary, and a page of steps with cumulative context.
type ReplayState struct {
	SessionID  string          `json:"sessionId"`
	Session    *models.Session `json:"session"`
	ChainValid bool            `json:"chainValid"`
	Summary    Summary         `json:"summary"`
	Steps      []Step          `json:"steps"`
	TotalSteps int             `json:"totalSteps"`
	HasMore    bool            `json:"hasMore"`
}

// Summary aggregates the full timeline regardless of step filtering.
type Summary struct {
	TotalCostUsd    float64  `json:"totalCostUsd"`
	TotalDurationMs int64    `json:"totalDurationMs"`
	LLMCallCount    int      `json:"llmCallCount"`
	ToolCallCount   int      `json:"toolCallCount"`
	ErrorCount      int      `json:"errorCount"`
	Models          []string `json:"models"`
	Tools           []string `json:"tools"`
}

// Step is one emitted event with its paired completion and the context
// snapshot at that point.
type Step struct {
	Index          int           `json:"index"` // 1-based within the walked list
	Event          *models.Event `json:"event"`
	PairedEvent    *models.Event `json:"pairedEvent,omitempty"`
	PairDurationMs *int64        `json:"pairDurationMs,omitempty"`
	Context        *Context      `json:"context,omitempty"`
}

// Context is the cumulative session state at a step.
type Context struct {
	EventIndex        int                      `json:"eventIndex"`
	TotalEvents       int                      `json:"totalEvents"`
	CumulativeCostUsd float64                  `json:"cumulativeCostUsd"`
	ElapsedMs         int64                    `json:"elapsedMs"`
	EventCounts       map[models.EventType]int `json:"eventCounts"`
	LLMHistory        []LLMHistoryEntry        `json:"llmHistory"`
	ToolResults       []ToolResult             `json:"toolResults"`
	PendingApprovals  []ApprovalState          `json:"pendingApprovals"`
	ErrorCount        int                      `json:"errorCount"`
	Warnings          []string                 `json:"warnings"`
}

// LLMHistoryEntry is one LLM exchange in the cumulative history.
type LLMHistoryEntry struct {
	CallID    string               `json:"callId"`
	Provider  string               `json:"provider,omitempty"`
	Model     string               `json:"model,omitempty"`
	Messages  []models.LLMMessage  `json:"messages,omitempty"`
	Response  string               `json:"response,omitempty"`
	ToolCalls []models.LLMToolCall `json:"toolCalls,omitempty"`
	CostUsd   float64              `json:"costUsd,omitempty"`
	LatencyMs int64                `json:"latencyMs,omitempty"`
}

// ToolResult tracks a tool call and, once paired, its outcome.
type ToolResult struct {
	CallID     string         `json:"callId"`
	ToolName   string         `json:"toolName"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Completed  bool           `json:"completed"`
	DurationMs int64          `json:"durationMs,omitempty"`
}

// ApprovalState tracks an approval request through its lifecycle.
type ApprovalState struct {
	RequestID string `json:"requestId"`
	Action    string `json:"action,omitempty"`
	Status    string `json:"status"` // pending → granted | denied | expired
}

// Clone returns a copy whose slices are independent of the original. Cached
// states are cloned on emit so concurrent readers cannot observe mutation.
func (s *ReplayState) Clone() *ReplayState {
	cp := *s
	if s.Session != nil {
		cp.Session = s.Session.Clone()
	}
	cp.Steps = make([]Step, len(s.Steps))
	copy(cp.Steps, s.Steps)
	cp.Summary.Models = append([]string(nil), s.Summary.Models...)
	cp.Summary.Tools = append([]string(nil), s.Summary.Tools...)
	return &cp
}
