package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/pkg/hashchain"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
)

var sessionStart = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

type step struct {
	typ     models.EventType
	payload map[string]any
}

// seedSession chains and inserts the given (type, payload) sequence one
// second apart.
func seedSession(t *testing.T, st store.Store, sessionID string, steps []step) []*models.Event {
	t.Helper()

	var prev *string
	batch := make([]*models.Event, 0, len(steps))
	for i, s := range steps {
		raw, err := hashchain.CanonicalizeValue(s.payload)
		require.NoError(t, err)
		e := &models.Event{
			ID:        fmt.Sprintf("%s-%03d", sessionID, i),
			Timestamp: sessionStart.Add(time.Duration(i) * time.Second),
			SessionID: sessionID,
			AgentID:   "agent-1",
			TenantID:  "acme",
			EventType: s.typ,
			Severity:  models.SeverityInfo,
			Payload:   raw,
			Metadata:  json.RawMessage("{}"),
			PrevHash:  prev,
		}
		e.Hash = hashchain.EventHash(e)
		h := e.Hash
		prev = &h
		batch = append(batch, e)
	}
	require.NoError(t, st.InsertEvents(context.Background(), "acme", batch))
	return batch
}

func richTimeline() []step {
	return []step{
		{models.EventSessionStarted, map[string]any{"agentName": "deploy-bot"}},
		{models.EventLLMCall, map[string]any{
			"callId": "llm-1", "provider": "anthropic", "model": "sonnet",
			"messages": []any{map[string]any{"role": "user", "content": "deploy?"}},
		}},
		{models.EventLLMResponse, map[string]any{
			"callId": "llm-1", "completion": "deploying", "costUsd": 0.25, "latencyMs": 900,
		}},
		{models.EventToolCall, map[string]any{
			"toolName": "kubectl", "callId": "tool-1", "arguments": map[string]any{"ns": "prod"},
		}},
		{models.EventToolResponse, map[string]any{
			"callId": "tool-1", "result": "ok", "durationMs": 1500,
		}},
		{models.EventToolCall, map[string]any{
			"toolName": "curl", "callId": "tool-2", "arguments": map[string]any{},
		}},
		{models.EventToolError, map[string]any{
			"callId": "tool-2", "error": "connection refused", "durationMs": 30,
		}},
		{models.EventCostTracked, map[string]any{
			"provider": "anthropic", "model": "sonnet",
			"inputTokens": 100, "outputTokens": 40, "totalTokens": 140, "costUsd": 0.05,
		}},
		{models.EventSessionEnded, map[string]any{"reason": "done"}},
	}
}

func TestBuild_SummaryAndPairs(t *testing.T) {
	st := store.NewMemStore()
	seedSession(t, st, "s1", richTimeline())

	b := NewBuilder(st)
	state, err := b.Build(context.Background(), "acme", "s1", Options{IncludeContext: true})
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.True(t, state.ChainValid)
	assert.Equal(t, 9, state.TotalSteps)
	assert.False(t, state.HasMore)

	assert.Equal(t, 1, state.Summary.LLMCallCount)
	assert.Equal(t, 2, state.Summary.ToolCallCount)
	assert.Equal(t, 1, state.Summary.ErrorCount)
	assert.InDelta(t, 0.30, state.Summary.TotalCostUsd, 1e-9)
	assert.Equal(t, int64(8000), state.Summary.TotalDurationMs)
	assert.Equal(t, []string{"sonnet"}, state.Summary.Models)
	assert.Equal(t, []string{"curl", "kubectl"}, state.Summary.Tools)

	// llm_call pairs with its response; index 1 is the llm_call step.
	llmStep := state.Steps[1]
	require.NotNil(t, llmStep.PairedEvent)
	assert.Equal(t, models.EventLLMResponse, llmStep.PairedEvent.EventType)
	require.NotNil(t, llmStep.PairDurationMs)
	assert.Equal(t, int64(1000), *llmStep.PairDurationMs)

	// tool-2 pairs with its error.
	errStep := state.Steps[5]
	require.NotNil(t, errStep.PairedEvent)
	assert.Equal(t, models.EventToolError, errStep.PairedEvent.EventType)

	// Closing events initiate nothing.
	assert.Nil(t, state.Steps[2].PairedEvent)
	assert.Nil(t, state.Steps[6].PairedEvent)
}

func TestBuild_CumulativeContext(t *testing.T) {
	st := store.NewMemStore()
	timeline := append(richTimeline(),
		step{models.EventApprovalRequested, map[string]any{"requestId": "req-1", "action": "delete prod db"}},
		step{models.EventApprovalDenied, map[string]any{"requestId": "req-1", "decidedBy": "alice"}},
	)
	seedSession(t, st, "s1", timeline)

	b := NewBuilder(st)
	state, err := b.Build(context.Background(), "acme", "s1", Options{IncludeContext: true})
	require.NoError(t, err)
	require.Len(t, state.Steps, 11)

	// Cost accumulates as the walk advances.
	assert.Zero(t, state.Steps[1].Context.CumulativeCostUsd)
	assert.InDelta(t, 0.25, state.Steps[2].Context.CumulativeCostUsd, 1e-9)
	assert.InDelta(t, 0.30, state.Steps[7].Context.CumulativeCostUsd, 1e-9)

	// The LLM history entry is completed by the response.
	hist := state.Steps[2].Context.LLMHistory
	require.Len(t, hist, 1)
	assert.Equal(t, "llm-1", hist[0].CallID)
	assert.Equal(t, "deploying", hist[0].Response)
	assert.InDelta(t, 0.25, hist[0].CostUsd, 1e-9)

	// Tool results resolve in place.
	tools := state.Steps[6].Context.ToolResults
	require.Len(t, tools, 2)
	assert.True(t, tools[0].Completed)
	assert.Equal(t, int64(1500), tools[0].DurationMs)
	assert.True(t, tools[1].Completed)
	assert.Equal(t, "connection refused", tools[1].Error)

	// Approval lifecycle: pending at request time, denied after the decision.
	assert.Equal(t, "pending", state.Steps[9].Context.PendingApprovals[0].Status)
	assert.Equal(t, "denied", state.Steps[10].Context.PendingApprovals[0].Status)

	// Elapsed time and error count track the walk position.
	assert.Equal(t, int64(6000), state.Steps[6].Context.ElapsedMs)
	assert.Equal(t, 1, state.Steps[6].Context.ErrorCount)
	assert.Zero(t, state.Steps[5].Context.ErrorCount)

	// Earlier snapshots must not alias later state.
	assert.Empty(t, state.Steps[0].Context.LLMHistory)
	assert.Empty(t, state.Steps[8].Context.PendingApprovals)
}

func TestBuild_Redaction(t *testing.T) {
	st := store.NewMemStore()
	seedSession(t, st, "s1", []step{
		{models.EventLLMCall, map[string]any{
			"callId": "llm-1", "model": "sonnet", "redacted": true,
			"messages": []any{map[string]any{"role": "user", "content": "social security 123"}},
		}},
		{models.EventLLMResponse, map[string]any{
			"callId": "llm-1", "completion": "the number is 123", "redacted": true,
			"costUsd": 0.40, "latencyMs": 700, "inputTokens": 55,
		}},
	})

	b := NewBuilder(st)
	state, err := b.Build(context.Background(), "acme", "s1", Options{IncludeContext: true})
	require.NoError(t, err)
	require.Len(t, state.Steps, 2)

	var callPayload models.LLMCallPayload
	require.NoError(t, json.Unmarshal(state.Steps[0].Event.Payload, &callPayload))
	require.Len(t, callPayload.Messages, 1)
	assert.Equal(t, RedactedPlaceholder, callPayload.Messages[0].Content)
	assert.Equal(t, "user", callPayload.Messages[0].Role)

	var respPayload models.LLMResponsePayload
	require.NoError(t, json.Unmarshal(state.Steps[1].Event.Payload, &respPayload))
	assert.Equal(t, RedactedPlaceholder, respPayload.Completion)
	assert.InDelta(t, 0.40, respPayload.CostUsd, 1e-9)
	assert.Equal(t, int64(55), respPayload.InputTokens)

	// The cumulative history is redacted the same way.
	hist := state.Steps[1].Context.LLMHistory
	require.Len(t, hist, 1)
	assert.Equal(t, RedactedPlaceholder, hist[0].Messages[0].Content)
	assert.Equal(t, RedactedPlaceholder, hist[0].Response)

	// Stored bytes are untouched: redaction is a read-path transform.
	stored, err := st.GetSessionTimeline(context.Background(), "acme", "s1")
	require.NoError(t, err)
	assert.Contains(t, string(stored[0].Payload), "social security")
}

func TestBuild_PaginationAndFilter(t *testing.T) {
	st := store.NewMemStore()
	seedSession(t, st, "s1", richTimeline())
	b := NewBuilder(st)

	t.Run("offset and limit page the walk", func(t *testing.T) {
		state, err := b.Build(context.Background(), "acme", "s1", Options{Offset: 2, Limit: 3, IncludeContext: true})
		require.NoError(t, err)
		require.Len(t, state.Steps, 3)
		assert.Equal(t, 3, state.Steps[0].Index)
		assert.Equal(t, 5, state.Steps[2].Index)
		assert.True(t, state.HasMore)
		assert.Equal(t, 9, state.TotalSteps)

		// Context still accumulates events before the page.
		assert.InDelta(t, 0.25, state.Steps[0].Context.CumulativeCostUsd, 1e-9)
	})

	t.Run("type filter narrows steps, not the summary", func(t *testing.T) {
		state, err := b.Build(context.Background(), "acme", "s1", Options{
			EventTypes: []models.EventType{models.EventToolCall},
		})
		require.NoError(t, err)
		require.Len(t, state.Steps, 2)
		assert.Equal(t, 2, state.TotalSteps)
		assert.Equal(t, models.EventToolCall, state.Steps[0].Event.EventType)
		assert.Equal(t, 1, state.Summary.LLMCallCount)
		assert.InDelta(t, 0.30, state.Summary.TotalCostUsd, 1e-9)
	})
}

func TestBuild_ChainInvalidSurfaces(t *testing.T) {
	st := store.NewMemStore()
	batch := seedSession(t, st, "s1", richTimeline()[:3])

	// Re-insert a tampered middle event under a fresh session to simulate a
	// broken chain: easiest is a second session whose middle hash is wrong.
	tampered := make([]*models.Event, len(batch))
	for i, e := range batch {
		cp := e.Clone()
		cp.ID = fmt.Sprintf("t-%03d", i)
		cp.SessionID = "s2"
		tampered[i] = cp
	}
	tampered[1].Hash = "0000000000000000000000000000000000000000000000000000000000000000"
	require.NoError(t, st.InsertEvents(context.Background(), "acme", tampered))

	b := NewBuilder(st)
	state, err := b.Build(context.Background(), "acme", "s2", Options{})
	require.NoError(t, err)
	assert.False(t, state.ChainValid)
}

func TestBuild_UnknownSession(t *testing.T) {
	b := NewBuilder(store.NewMemStore())
	state, err := b.Build(context.Background(), "acme", "nope", Options{})
	require.NoError(t, err)
	assert.Nil(t, state)
}
