package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/agentlens/agentlens/pkg/hashchain"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
)

// Warning policy thresholds. Open-ended: reviewers see these as hints, they
// gate nothing.
const (
	highCostThresholdUsd = 10.0
	slowToolThresholdMs  = 30_000
)

// Builder reconstructs replay states from the store.
type Builder struct {
	store store.Store
}

// NewBuilder creates a replay builder over the given store.
func NewBuilder(st store.Store) *Builder {
	return &Builder{store: st}
}

// Build produces the ReplayState for a session, or nil when the session does
// not exist. The summary and chain verification always cover the full
// timeline; EventTypes only filters which steps are emitted.
func (b *Builder) Build(ctx context.Context, tenantID, sessionID string, opts Options) (*ReplayState, error) {
	session, err := b.store.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	timeline, err := b.store.GetSessionTimeline(ctx, tenantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load timeline: %w", err)
	}

	chain := hashchain.VerifyChain(timeline)

	pairs := buildPairs(timeline)
	summary := buildSummary(timeline)

	walk := timeline
	if len(opts.EventTypes) > 0 {
		walk = filterByType(timeline, opts.EventTypes)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	state := &ReplayState{
		SessionID:  sessionID,
		Session:    session,
		ChainValid: chain.Valid,
		Summary:    summary,
		TotalSteps: len(walk),
		HasMore:    opts.Offset+limit < len(walk),
	}

	var firstTS = int64(0)
	if len(timeline) > 0 {
		firstTS = timeline[0].Timestamp.UnixMilli()
	}

	cs := newContextState(len(walk))
	for i, e := range walk {
		if opts.IncludeContext {
			cs.apply(e, firstTS)
		}
		if i < opts.Offset || i >= opts.Offset+limit {
			continue
		}

		step := Step{
			Index: i + 1,
			Event: redactEvent(e),
		}
		if paired, ok := pairs[e.ID]; ok {
			step.PairedEvent = redactEvent(paired)
			d := paired.Timestamp.UnixMilli() - e.Timestamp.UnixMilli()
			step.PairDurationMs = &d
		}
		if opts.IncludeContext {
			step.Context = cs.snapshot()
		} else {
			step.Context = &Context{EventIndex: i + 1, TotalEvents: len(walk)}
		}
		state.Steps = append(state.Steps, step)
	}

	return state, nil
}

// buildPairs walks the full timeline once, mapping each initiating event's id
// to its closing event: tool_call→tool_response|tool_error, llm_call→
// llm_response, approval_requested→decision, form_submitted→closure.
func buildPairs(timeline []*models.Event) map[string]*models.Event {
	// correlation key → initiating event id, per initiator type
	open := make(map[string]string)
	pairs := make(map[string]*models.Event)

	for _, e := range timeline {
		corr := e.CorrelationID()
		if corr == "" {
			continue
		}
		if initiator, closes := models.InitiatorType(e.EventType); closes {
			key := string(initiator) + "/" + corr
			if startID, ok := open[key]; ok {
				if _, already := pairs[startID]; !already {
					pairs[startID] = e
				}
			}
			continue
		}
		open[string(e.EventType)+"/"+corr] = e.ID
	}
	return pairs
}

func buildSummary(timeline []*models.Event) Summary {
	var s Summary
	models_ := make(map[string]bool)
	tools := make(map[string]bool)

	for _, e := range timeline {
		switch e.EventType {
		case models.EventLLMCall:
			s.LLMCallCount++
			var p models.LLMCallPayload
			if err := e.DecodePayload(&p); err == nil && p.Model != "" {
				models_[p.Model] = true
			}
		case models.EventLLMResponse:
			var p models.LLMResponsePayload
			if err := e.DecodePayload(&p); err == nil {
				s.TotalCostUsd += p.CostUsd
			}
		case models.EventCostTracked:
			var p models.CostTrackedPayload
			if err := e.DecodePayload(&p); err == nil {
				s.TotalCostUsd += p.CostUsd
				if p.Model != "" {
					models_[p.Model] = true
				}
			}
		case models.EventToolCall:
			s.ToolCallCount++
			var p models.ToolCallPayload
			if err := e.DecodePayload(&p); err == nil && p.ToolName != "" {
				tools[p.ToolName] = true
			}
		}
		if e.EventType == models.EventToolError || e.Severity == models.SeverityError {
			s.ErrorCount++
		}
	}

	if len(timeline) > 0 {
		s.TotalDurationMs = timeline[len(timeline)-1].Timestamp.UnixMilli() - timeline[0].Timestamp.UnixMilli()
	}
	s.Models = sortedKeys(models_)
	s.Tools = sortedKeys(tools)
	return s
}

// contextState propagates the cumulative context while walking.
type contextState struct {
	totalEvents int
	cost        float64
	elapsedMs   int64
	counts      map[models.EventType]int
	llmHistory  []LLMHistoryEntry
	toolResults []ToolResult
	approvals   []ApprovalState
	errorCount  int
	warnings    []string

	llmIndex      map[string]int // callId → llmHistory index
	toolIndex     map[string]int
	approvalIndex map[string]int
	warned        map[string]bool
}

func newContextState(totalEvents int) *contextState {
	return &contextState{
		totalEvents:   totalEvents,
		counts:        make(map[models.EventType]int),
		llmIndex:      make(map[string]int),
		toolIndex:     make(map[string]int),
		approvalIndex: make(map[string]int),
		warned:        make(map[string]bool),
	}
}

func (c *contextState) apply(e *models.Event, firstTS int64) {
	c.counts[e.EventType]++
	c.elapsedMs = e.Timestamp.UnixMilli() - firstTS

	switch e.EventType {
	case models.EventLLMCall:
		var p models.LLMCallPayload
		if err := e.DecodePayload(&p); err == nil {
			entry := LLMHistoryEntry{
				CallID:   p.CallID,
				Provider: p.Provider,
				Model:    p.Model,
				Messages: p.Messages,
			}
			if p.Redacted {
				entry.Messages = redactMessages(p.Messages)
			}
			c.llmIndex[p.CallID] = len(c.llmHistory)
			c.llmHistory = append(c.llmHistory, entry)
		}

	case models.EventLLMResponse:
		var p models.LLMResponsePayload
		if err := e.DecodePayload(&p); err == nil {
			c.cost += p.CostUsd
			if i, ok := c.llmIndex[p.CallID]; ok {
				entry := &c.llmHistory[i]
				entry.Response = p.Completion
				if p.Redacted {
					entry.Response = RedactedPlaceholder
				}
				entry.ToolCalls = p.ToolCalls
				entry.CostUsd = p.CostUsd
				entry.LatencyMs = p.LatencyMs
			}
		}

	case models.EventCostTracked:
		var p models.CostTrackedPayload
		if err := e.DecodePayload(&p); err == nil {
			c.cost += p.CostUsd
		}

	case models.EventToolCall:
		var p models.ToolCallPayload
		if err := e.DecodePayload(&p); err == nil {
			c.toolIndex[p.CallID] = len(c.toolResults)
			c.toolResults = append(c.toolResults, ToolResult{
				CallID:    p.CallID,
				ToolName:  p.ToolName,
				Arguments: p.Arguments,
			})
		}

	case models.EventToolResponse:
		var p models.ToolResponsePayload
		if err := e.DecodePayload(&p); err == nil {
			if i, ok := c.toolIndex[p.CallID]; ok {
				tr := &c.toolResults[i]
				tr.Result = p.Result
				tr.Completed = true
				tr.DurationMs = p.DurationMs
				if p.DurationMs > slowToolThresholdMs {
					c.warn("slow tool: " + tr.ToolName)
				}
			}
		}

	case models.EventToolError:
		var p models.ToolErrorPayload
		if err := e.DecodePayload(&p); err == nil {
			if i, ok := c.toolIndex[p.CallID]; ok {
				tr := &c.toolResults[i]
				tr.Error = p.Error
				tr.Completed = true
				tr.DurationMs = p.DurationMs
			}
		}

	case models.EventApprovalRequested:
		var p models.ApprovalRequestedPayload
		if err := e.DecodePayload(&p); err == nil {
			c.approvalIndex[p.RequestID] = len(c.approvals)
			c.approvals = append(c.approvals, ApprovalState{
				RequestID: p.RequestID,
				Action:    p.Action,
				Status:    "pending",
			})
		}

	case models.EventApprovalGranted, models.EventApprovalDenied, models.EventApprovalExpired:
		var p models.ApprovalDecisionPayload
		if err := e.DecodePayload(&p); err == nil {
			if i, ok := c.approvalIndex[p.RequestID]; ok {
				switch e.EventType {
				case models.EventApprovalGranted:
					c.approvals[i].Status = "granted"
				case models.EventApprovalDenied:
					c.approvals[i].Status = "denied"
				default:
					c.approvals[i].Status = "expired"
				}
			}
		}
	}

	if e.EventType == models.EventToolError || e.Severity == models.SeverityError {
		c.errorCount++
	}
	if c.cost > highCostThresholdUsd {
		c.warn("high cost")
	}
}

func (c *contextState) warn(w string) {
	if !c.warned[w] {
		c.warned[w] = true
		c.warnings = append(c.warnings, w)
	}
}

// snapshot deep-copies the mutable slices so every step sees its own state.
func (c *contextState) snapshot() *Context {
	counts := make(map[models.EventType]int, len(c.counts))
	for k, v := range c.counts {
		counts[k] = v
	}
	var total int
	for _, v := range counts {
		total += v
	}
	return &Context{
		EventIndex:        total,
		TotalEvents:       c.totalEvents,
		CumulativeCostUsd: c.cost,
		ElapsedMs:         c.elapsedMs,
		EventCounts:       counts,
		LLMHistory:        append([]LLMHistoryEntry(nil), c.llmHistory...),
		ToolResults:       append([]ToolResult(nil), c.toolResults...),
		PendingApprovals:  append([]ApprovalState(nil), c.approvals...),
		ErrorCount:        c.errorCount,
		Warnings:          append([]string(nil), c.warnings...),
	}
}

// redactEvent clones an event for emission, replacing message content and
// completions with the fixed placeholder when the payload is flagged
// redacted. Numeric metadata (tokens, cost, latency, model, provider) is
// preserved exactly.
func redactEvent(e *models.Event) *models.Event {
	out := e.Clone()
	if e.EventType != models.EventLLMCall && e.EventType != models.EventLLMResponse {
		return out
	}

	var payload map[string]any
	if err := json.Unmarshal(out.Payload, &payload); err != nil {
		return out
	}
	redacted, _ := payload["redacted"].(bool)
	if !redacted {
		return out
	}

	if msgs, ok := payload["messages"].([]any); ok {
		for _, m := range msgs {
			if msg, ok := m.(map[string]any); ok {
				if _, has := msg["content"]; has {
					msg["content"] = RedactedPlaceholder
				}
			}
		}
	}
	if _, has := payload["completion"]; has {
		payload["completion"] = RedactedPlaceholder
	}

	if raw, err := json.Marshal(payload); err == nil {
		out.Payload = raw
	}
	return out
}

func redactMessages(msgs []models.LLMMessage) []models.LLMMessage {
	out := make([]models.LLMMessage, len(msgs))
	for i, m := range msgs {
		out[i] = models.LLMMessage{Role: m.Role, Content: RedactedPlaceholder}
	}
	return out
}

func filterByType(timeline []*models.Event, types []models.EventType) []*models.Event {
	want := make(map[models.EventType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []*models.Event
	for _, e := range timeline {
		if want[e.EventType] {
			out = append(out, e)
		}
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
