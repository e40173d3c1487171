package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/events"
	"github.com/agentlens/agentlens/pkg/hashchain"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
)

func testCaller(tier config.Tier) Caller {
	return Caller{TenantID: "acme", OrgID: "acme-org", KeyID: "key-1", Tier: tier}
}

func input(sessionID string, typ models.EventType, payload map[string]any) *models.IngestEventInput {
	if payload == nil {
		payload = map[string]any{}
	}
	return &models.IngestEventInput{
		SessionID: sessionID,
		AgentID:   "agent-1",
		EventType: typ,
		Payload:   payload,
	}
}

func newTestPipeline() (*Pipeline, *store.MemStore, *events.Bus) {
	st := store.NewMemStore()
	bus := events.NewBus()
	p := NewPipeline(st, bus, NewRateLimiter(), nil, 256*1024)
	return p, st, bus
}

func TestIngest_BuildsChain(t *testing.T) {
	p, st, _ := newTestPipeline()
	ctx := context.Background()

	result, err := p.Ingest(ctx, testCaller(config.TierEnterprise), []*models.IngestEventInput{
		input("s1", models.EventCustom, map[string]any{"step": 1}),
		input("s1", models.EventCustom, map[string]any{"step": 2}),
		input("s1", models.EventCustom, map[string]any{"step": 3}),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Inserted)

	timeline, err := st.GetSessionTimeline(ctx, "acme", "s1")
	require.NoError(t, err)
	require.Len(t, timeline, 3)

	assert.Nil(t, timeline[0].PrevHash, "genesis event has null prevHash")
	require.NotNil(t, timeline[1].PrevHash)
	assert.Equal(t, timeline[0].Hash, *timeline[1].PrevHash)
	require.NotNil(t, timeline[2].PrevHash)
	assert.Equal(t, timeline[1].Hash, *timeline[2].PrevHash)

	verdict := hashchain.VerifyChain(timeline)
	assert.True(t, verdict.Valid)

	// A later batch continues the chain from the stored tip.
	_, err = p.Ingest(ctx, testCaller(config.TierEnterprise), []*models.IngestEventInput{
		input("s1", models.EventCustom, map[string]any{"step": 4}),
	})
	require.NoError(t, err)

	timeline, err = st.GetSessionTimeline(ctx, "acme", "s1")
	require.NoError(t, err)
	require.Len(t, timeline, 4)
	assert.True(t, hashchain.VerifyChain(timeline).Valid)
}

func TestIngest_IndependentChainsPerSession(t *testing.T) {
	p, st, _ := newTestPipeline()
	ctx := context.Background()

	_, err := p.Ingest(ctx, testCaller(config.TierEnterprise), []*models.IngestEventInput{
		input("s1", models.EventCustom, nil),
		input("s2", models.EventCustom, nil),
	})
	require.NoError(t, err)

	for _, sid := range []string{"s1", "s2"} {
		tl, err := st.GetSessionTimeline(ctx, "acme", sid)
		require.NoError(t, err)
		require.Len(t, tl, 1)
		assert.Nil(t, tl[0].PrevHash)
	}
}

func TestIngest_BackdatedTimestampsKeepChainVerifiable(t *testing.T) {
	p, st, _ := newTestPipeline()
	ctx := context.Background()

	at := func(t time.Time) *models.IngestEventInput {
		in := input("s1", models.EventCustom, nil)
		in.Timestamp = &t
		return in
	}
	later := time.Date(2026, 5, 1, 10, 0, 5, 0, time.UTC)
	earlier := time.Date(2026, 5, 1, 10, 0, 1, 0, time.UTC)

	_, err := p.Ingest(ctx, testCaller(config.TierEnterprise), []*models.IngestEventInput{at(later)})
	require.NoError(t, err)
	// A producer reporting an earlier clock must not slot its event ahead of
	// the chain tip in the timeline.
	_, err = p.Ingest(ctx, testCaller(config.TierEnterprise), []*models.IngestEventInput{at(earlier)})
	require.NoError(t, err)

	timeline, err := st.GetSessionTimeline(ctx, "acme", "s1")
	require.NoError(t, err)
	require.Len(t, timeline, 2)

	assert.Nil(t, timeline[0].PrevHash)
	require.NotNil(t, timeline[1].PrevHash)
	assert.Equal(t, timeline[0].Hash, *timeline[1].PrevHash)
	assert.Equal(t, later, timeline[0].Timestamp)
	assert.Equal(t, later, timeline[1].Timestamp, "backdated event is clamped to the tip")

	verdict := hashchain.VerifyChain(timeline)
	assert.True(t, verdict.Valid, "%+v", verdict)

	// Same guarantee when the out-of-order pair arrives in one batch.
	_, err = p.Ingest(ctx, testCaller(config.TierEnterprise), []*models.IngestEventInput{
		at(later.Add(10 * time.Second)),
		at(later.Add(7 * time.Second)),
	})
	require.NoError(t, err)

	timeline, err = st.GetSessionTimeline(ctx, "acme", "s1")
	require.NoError(t, err)
	require.Len(t, timeline, 4)
	assert.True(t, hashchain.VerifyChain(timeline).Valid)
}

func TestIngest_ValidationRejectsWholeBatch(t *testing.T) {
	p, st, _ := newTestPipeline()
	ctx := context.Background()

	_, err := p.Ingest(ctx, testCaller(config.TierEnterprise), []*models.IngestEventInput{
		input("s1", models.EventCustom, nil),
		input("s1", models.EventToolCall, map[string]any{"toolName": "x"}), // missing callId, arguments
	})
	require.Error(t, err)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.NotEmpty(t, vErr.Issues)
	assert.Equal(t, 1, vErr.Issues[0].Index)

	// Nothing was written.
	_, total, err := st.QueryEvents(ctx, "acme", models.EventFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestIngest_EmitsAfterCommit(t *testing.T) {
	p, _, bus := newTestPipeline()
	ctx := context.Background()

	sub := bus.Subscribe(events.TypeWildcard)
	defer bus.Unsubscribe(sub)

	_, err := p.Ingest(ctx, testCaller(config.TierEnterprise), []*models.IngestEventInput{
		input("s1", models.EventCustom, map[string]any{"n": 1}),
		input("s1", models.EventCustom, map[string]any{"n": 2}),
	})
	require.NoError(t, err)

	var got []events.Message
	for i := 0; i < 3; i++ {
		select {
		case msg := <-sub.C:
			got = append(got, msg)
		case <-time.After(time.Second):
			t.Fatalf("expected 3 bus messages, got %d", len(got))
		}
	}

	assert.Equal(t, events.TypeEventIngested, got[0].Type)
	assert.Equal(t, events.TypeEventIngested, got[1].Type)
	assert.Equal(t, events.TypeSessionUpdated, got[2].Type)
	assert.Equal(t, "acme", got[0].TenantID())
	assert.Equal(t, int64(2), got[2].Session.EventCount)
}

func TestIngest_ConcurrentBatchesKeepChainsIntact(t *testing.T) {
	p, st, _ := newTestPipeline()
	ctx := context.Background()

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := p.Ingest(ctx, testCaller(config.TierEnterprise), []*models.IngestEventInput{
					input("shared", models.EventCustom, nil),
					input("shared", models.EventCustom, nil),
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	timeline, err := st.GetSessionTimeline(ctx, "acme", "shared")
	require.NoError(t, err)
	require.Len(t, timeline, workers*perWorker*2)

	verdict := hashchain.VerifyChain(timeline)
	assert.True(t, verdict.Valid, "concurrent ingestion must serialize per session: %+v", verdict)
}

func TestIngest_DiscoversCapabilities(t *testing.T) {
	p, st, _ := newTestPipeline()
	ctx := context.Background()

	_, err := p.Ingest(ctx, testCaller(config.TierEnterprise), []*models.IngestEventInput{
		input("s1", models.EventToolCall, map[string]any{
			"toolName": "kubectl", "callId": "c1", "arguments": map[string]any{},
		}),
		input("s1", models.EventToolCall, map[string]any{
			"toolName": "kubectl", "callId": "c2", "arguments": map[string]any{},
		}),
		input("s1", models.EventToolCall, map[string]any{
			"toolName": "search", "callId": "c3", "arguments": map[string]any{},
		}),
		input("s1", models.EventCustom, nil),
	})
	require.NoError(t, err)

	caps, err := st.ListCapabilities(ctx, "acme", "agent-1")
	require.NoError(t, err)
	require.Len(t, caps, 2)
	assert.Equal(t, "agent-1/tool:kubectl", caps[0].ID)
	assert.Equal(t, "kubectl", caps[0].Name)
	assert.Equal(t, "agent-1/tool:search", caps[1].ID)

	// A later call to a known tool does not move its first sighting.
	firstSeen := caps[0].FirstSeenAt
	_, err = p.Ingest(ctx, testCaller(config.TierEnterprise), []*models.IngestEventInput{
		input("s2", models.EventToolCall, map[string]any{
			"toolName": "kubectl", "callId": "c4", "arguments": map[string]any{},
		}),
	})
	require.NoError(t, err)

	caps, err = st.ListCapabilities(ctx, "acme", "agent-1")
	require.NoError(t, err)
	require.Len(t, caps, 2)
	assert.Equal(t, firstSeen, caps[0].FirstSeenAt)
}

func TestIngest_RateLimit(t *testing.T) {
	p, st, _ := newTestPipeline()
	ctx := context.Background()

	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	now := start
	p.limiter.nowFunc = func() time.Time { return now }

	// Free tier: 100 events per key per minute.
	for i := 0; i < 100; i++ {
		_, err := p.Ingest(ctx, testCaller(config.TierFree), []*models.IngestEventInput{
			input("s1", models.EventCustom, map[string]any{"i": i}),
		})
		require.NoError(t, err, "event %d within budget", i)
	}

	_, err := p.Ingest(ctx, testCaller(config.TierFree), []*models.IngestEventInput{
		input("s1", models.EventCustom, nil),
	})
	require.Error(t, err)

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.LessOrEqual(t, rateErr.RetryAfter, windowSize)

	// The refused batch left no rows behind.
	_, total, err := st.QueryEvents(ctx, "acme", models.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)

	// Window resets one minute after the first request.
	now = start.Add(windowSize)
	_, err = p.Ingest(ctx, testCaller(config.TierFree), []*models.IngestEventInput{
		input("s1", models.EventCustom, nil),
	})
	assert.NoError(t, err)
}

func TestIngest_DefaultsApplied(t *testing.T) {
	p, st, _ := newTestPipeline()
	ctx := context.Background()

	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	p.nowFunc = func() time.Time { return fixed }

	_, err := p.Ingest(ctx, testCaller(config.TierEnterprise), []*models.IngestEventInput{
		{SessionID: "s1", AgentID: "a1", EventType: models.EventCustom},
	})
	require.NoError(t, err)

	tl, err := st.GetSessionTimeline(ctx, "acme", "s1")
	require.NoError(t, err)
	require.Len(t, tl, 1)
	assert.Equal(t, fixed, tl[0].Timestamp)
	assert.Equal(t, models.SeverityInfo, tl[0].Severity)
	assert.JSONEq(t, "{}", string(tl[0].Payload))
	assert.JSONEq(t, "{}", string(tl[0].Metadata))
}

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name  string
		in    *models.IngestEventInput
		field string
	}{
		{
			name:  "missing sessionId",
			in:    &models.IngestEventInput{AgentID: "a", EventType: models.EventCustom},
			field: "sessionId",
		},
		{
			name:  "missing agentId",
			in:    &models.IngestEventInput{SessionID: "s", EventType: models.EventCustom},
			field: "agentId",
		},
		{
			name:  "unknown event type",
			in:    &models.IngestEventInput{SessionID: "s", AgentID: "a", EventType: "bogus"},
			field: "eventType",
		},
		{
			name: "invalid severity",
			in: &models.IngestEventInput{
				SessionID: "s", AgentID: "a", EventType: models.EventCustom, Severity: "loud",
			},
			field: "severity",
		},
		{
			name: "cost_tracked requires token fields",
			in: &models.IngestEventInput{
				SessionID: "s", AgentID: "a", EventType: models.EventCostTracked,
				Payload: map[string]any{"provider": "openai", "model": "gpt"},
			},
			field: "payload.inputTokens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := validateInput(0, tt.in)
			require.NotEmpty(t, issues)
			found := false
			for _, issue := range issues {
				if issue.Field == tt.field {
					found = true
				}
			}
			assert.True(t, found, "expected an issue for %s, got %+v", tt.field, issues)
		})
	}

	t.Run("valid custom event has no issues", func(t *testing.T) {
		issues := validateInput(0, input("s", models.EventCustom, map[string]any{"x": 1}))
		assert.Empty(t, issues)
	})
}

func TestCapPayload(t *testing.T) {
	big := make([]byte, 1024)
	for i := range big {
		big[i] = 'a'
	}

	t.Run("oversized text truncated with flag", func(t *testing.T) {
		payload := map[string]any{"data": string(big), "small": "ok"}
		issues, truncated := capPayload(0, payload, 256)
		assert.Empty(t, issues)
		assert.True(t, truncated)
		assert.Equal(t, true, payload["truncated"])
		assert.Less(t, len(payload["data"].(string)), 1024)
		assert.Equal(t, "ok", payload["small"])
	})

	t.Run("within cap untouched", func(t *testing.T) {
		payload := map[string]any{"data": "short"}
		issues, truncated := capPayload(0, payload, 256)
		assert.Empty(t, issues)
		assert.False(t, truncated)
		assert.NotContains(t, payload, "truncated")
	})

	t.Run("cut lands on a rune boundary", func(t *testing.T) {
		payload := map[string]any{"data": strings.Repeat("界", 400)}
		issues, truncated := capPayload(0, payload, 256)
		assert.Empty(t, issues)
		assert.True(t, truncated)

		got := payload["data"].(string)
		assert.True(t, utf8.ValidString(got), "truncation must not split a character")
		assert.True(t, strings.HasSuffix(got, "…[truncated]"))
	})

	t.Run("untruncatable oversize refused", func(t *testing.T) {
		payload := map[string]any{"fixedField": string(big)}
		issues, _ := capPayload(3, payload, 256)
		require.Len(t, issues, 1)
		assert.Equal(t, 3, issues[0].Index)
		assert.Equal(t, "payload", issues[0].Field)
	})
}
