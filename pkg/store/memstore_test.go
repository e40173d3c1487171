package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/pkg/models"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// ev builds a minimal stored event. Hashes are not relevant to store tests.
func ev(id, sessionID, agentID string, typ models.EventType, sev models.Severity, at time.Time, payload string) *models.Event {
	if payload == "" {
		payload = "{}"
	}
	return &models.Event{
		ID:        id,
		Timestamp: at,
		SessionID: sessionID,
		AgentID:   agentID,
		EventType: typ,
		Severity:  sev,
		Payload:   json.RawMessage(payload),
		Metadata:  json.RawMessage("{}"),
	}
}

func TestInsertEvents_Aggregates(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	batch := []*models.Event{
		ev("e1", "s1", "a1", models.EventSessionStarted, models.SeverityInfo, base,
			`{"agentName":"deploy-bot","tags":["prod","deploy"]}`),
		ev("e2", "s1", "a1", models.EventToolCall, models.SeverityInfo, base.Add(time.Second),
			`{"toolName":"kubectl","callId":"c1","arguments":{}}`),
		ev("e3", "s1", "a1", models.EventLLMResponse, models.SeverityInfo, base.Add(2*time.Second),
			`{"callId":"l1","inputTokens":100,"outputTokens":50,"costUsd":0.25}`),
		ev("e4", "s1", "a1", models.EventToolError, models.SeverityError, base.Add(3*time.Second),
			`{"callId":"c1","error":"timeout"}`),
		ev("e5", "s1", "a1", models.EventSessionEnded, models.SeverityInfo, base.Add(4*time.Second),
			`{"reason":"completed"}`),
	}
	require.NoError(t, m.InsertEvents(ctx, "acme", batch))

	sess, err := m.GetSession(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), sess.EventCount)
	assert.Equal(t, int64(1), sess.ToolCallCount)
	assert.Equal(t, int64(1), sess.ErrorCount)
	assert.Equal(t, 0.25, sess.TotalCostUsd)
	assert.Equal(t, int64(100), sess.TotalInputTokens)
	assert.Equal(t, models.SessionCompleted, sess.Status)
	assert.Equal(t, "deploy-bot", sess.AgentName)
	assert.ElementsMatch(t, []string{"prod", "deploy"}, sess.Tags)
	require.NotNil(t, sess.EndedAt)

	agent, err := m.GetAgent(ctx, "acme", "a1")
	require.NoError(t, err)
	assert.Equal(t, "deploy-bot", agent.Name)
	assert.Equal(t, int64(1), agent.SessionCount)
	assert.Equal(t, base.Add(4*time.Second), agent.LastSeenAt)
}

func TestInsertEvents_StickyTerminalStatus(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.NoError(t, m.InsertEvents(ctx, "acme", []*models.Event{
		ev("e1", "s1", "a1", models.EventSessionStarted, models.SeverityInfo, base, ""),
		ev("e2", "s1", "a1", models.EventSessionEnded, models.SeverityInfo, base.Add(time.Second), `{"reason":"error"}`),
	}))

	// Late events after the terminal transition keep counting but cannot
	// revive the session.
	require.NoError(t, m.InsertEvents(ctx, "acme", []*models.Event{
		ev("e3", "s1", "a1", models.EventCustom, models.SeverityInfo, base.Add(2*time.Second), ""),
	}))

	sess, err := m.GetSession(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionError, sess.Status)
	assert.Equal(t, int64(3), sess.EventCount)
}

func TestInsertEvents_DuplicateIDRejected(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.NoError(t, m.InsertEvents(ctx, "acme", []*models.Event{
		ev("e1", "s1", "a1", models.EventCustom, models.SeverityInfo, base, ""),
	}))
	err := m.InsertEvents(ctx, "acme", []*models.Event{
		ev("e1", "s1", "a1", models.EventCustom, models.SeverityInfo, base, ""),
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Same id under another tenant is a distinct row.
	assert.NoError(t, m.InsertEvents(ctx, "globex", []*models.Event{
		ev("e1", "s1", "a1", models.EventCustom, models.SeverityInfo, base, ""),
	}))
}

func TestQueryEvents_Filters(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.NoError(t, m.InsertEvents(ctx, "acme", []*models.Event{
		ev("e1", "s1", "a1", models.EventToolCall, models.SeverityInfo, base,
			`{"toolName":"search","callId":"c1","arguments":{}}`),
		ev("e2", "s1", "a1", models.EventToolError, models.SeverityError, base.Add(time.Minute),
			`{"callId":"c1","error":"boom"}`),
		ev("e3", "s2", "a2", models.EventCustom, models.SeverityInfo, base.Add(2*time.Minute), ""),
	}))

	t.Run("session filter", func(t *testing.T) {
		got, total, err := m.QueryEvents(ctx, "acme", models.EventFilter{SessionID: "s1"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, got, 2)
	})

	t.Run("type and severity filters", func(t *testing.T) {
		got, _, err := m.QueryEvents(ctx, "acme", models.EventFilter{
			EventTypes: []models.EventType{models.EventToolError},
			Severities: []models.Severity{models.SeverityError},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "e2", got[0].ID)
	})

	t.Run("from inclusive, to exclusive", func(t *testing.T) {
		from := base.Add(time.Minute)
		to := base.Add(2 * time.Minute)
		got, _, err := m.QueryEvents(ctx, "acme", models.EventFilter{From: &from, To: &to})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "e2", got[0].ID)
	})

	t.Run("payload search", func(t *testing.T) {
		got, _, err := m.QueryEvents(ctx, "acme", models.EventFilter{Search: "boom"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "e2", got[0].ID)
	})

	t.Run("default order is descending", func(t *testing.T) {
		got, _, err := m.QueryEvents(ctx, "acme", models.EventFilter{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "e3", got[0].ID)
		assert.Equal(t, "e1", got[2].ID)
	})

	t.Run("pagination", func(t *testing.T) {
		got, total, err := m.QueryEvents(ctx, "acme", models.EventFilter{Order: "asc", Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, got, 1)
		assert.Equal(t, "e3", got[0].ID)
	})
}

func TestCountEventsBatch(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.NoError(t, m.InsertEvents(ctx, "acme", []*models.Event{
		ev("e1", "s1", "a1", models.EventCustom, models.SeverityError, base, ""),
		ev("e2", "s1", "a1", models.EventCustom, models.SeverityCritical, base, ""),
		ev("e3", "s1", "a1", models.EventToolError, models.SeverityInfo, base, `{"callId":"c","error":"x"}`),
		ev("e4", "s1", "a1", models.EventCustom, models.SeverityInfo, base, ""),
	}))

	counts, err := m.CountEventsBatch(ctx, "acme", models.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts.Total)
	assert.Equal(t, int64(1), counts.Errors)
	assert.Equal(t, int64(1), counts.Critical)
	assert.Equal(t, int64(1), counts.ToolError)
}

func TestTenantIsolation(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.NoError(t, m.InsertEvents(ctx, "a", []*models.Event{
		ev("e1", "s1", "agent", models.EventCustom, models.SeverityInfo, base, ""),
	}))
	require.NoError(t, m.CreateAlertRule(ctx, &models.AlertRule{ID: "r1", TenantID: "a", Name: "n", Threshold: 1, WindowSeconds: 60}))
	require.NoError(t, m.SetConfigValue(ctx, "a", "tier", "pro"))
	require.NoError(t, m.AppendAuditLog(ctx, &models.AuditLogEntry{ID: "l1", TenantID: "a", Action: "x", CreatedAt: base}))
	require.NoError(t, m.InsertHealthScores(ctx, []*models.HealthScore{{ID: "h1", TenantID: "a", AgentID: "agent", RecordedAt: base}}))

	// Every read path scoped to tenant b must come back empty.
	_, err := m.GetEvent(ctx, "b", "e1")
	assert.ErrorIs(t, err, ErrNotFound)

	evs, total, err := m.QueryEvents(ctx, "b", models.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.Zero(t, total)

	_, err = m.GetSession(ctx, "b", "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.GetAgent(ctx, "b", "agent")
	assert.ErrorIs(t, err, ErrNotFound)

	tl, err := m.GetSessionTimeline(ctx, "b", "s1")
	require.NoError(t, err)
	assert.Empty(t, tl)

	rules, err := m.ListAlertRules(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, rules)

	_, err = m.GetConfigValue(ctx, "b", "tier")
	assert.ErrorIs(t, err, ErrNotFound)

	log, err := m.ListAuditLog(ctx, "b", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, log)

	scores, err := m.ListHealthScores(ctx, "b", "")
	require.NoError(t, err)
	assert.Empty(t, scores)

	stats, err := m.GetStats(ctx, "b")
	require.NoError(t, err)
	assert.Zero(t, stats.Events)
}

func TestTenantStoreWrapper(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.NoError(t, m.InsertEvents(ctx, "a", []*models.Event{
		ev("e1", "s1", "agent", models.EventCustom, models.SeverityInfo, base, ""),
	}))

	wrapped := ForTenant(m, "b")

	_, err := wrapped.GetEvent(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Writes through the wrapper are stamped with the wrapper's tenant.
	require.NoError(t, wrapped.CreateAlertRule(ctx, &models.AlertRule{ID: "r1", Name: "n", Threshold: 1, WindowSeconds: 60}))
	rule, err := m.GetAlertRule(ctx, "b", "r1")
	require.NoError(t, err)
	assert.Equal(t, "b", rule.TenantID)

	_, err = m.GetAlertRule(ctx, "a", "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetChainTip(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	tip, err := m.GetChainTip(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Nil(t, tip)

	e := ev("e1", "s1", "a1", models.EventCustom, models.SeverityInfo, base, "")
	e.Hash = "abc123"
	require.NoError(t, m.InsertEvents(ctx, "acme", []*models.Event{e}))

	tip, err = m.GetChainTip(ctx, "acme", "s1")
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, "abc123", tip.Hash)
	assert.Equal(t, base, tip.Timestamp)
}

func TestGetChainTip_NewestByTimelineOrder(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	// The later-timestamped event arrives first; the tip must still be the
	// timeline's newest, not the last arrival.
	late := ev("e2", "s1", "a1", models.EventCustom, models.SeverityInfo, base.Add(time.Minute), "")
	late.Hash = "late"
	early := ev("e1", "s1", "a1", models.EventCustom, models.SeverityInfo, base, "")
	early.Hash = "early"
	require.NoError(t, m.InsertEvents(ctx, "acme", []*models.Event{late}))
	require.NoError(t, m.InsertEvents(ctx, "acme", []*models.Event{early}))

	tip, err := m.GetChainTip(ctx, "acme", "s1")
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, "late", tip.Hash)

	// Equal timestamps resolve by id.
	tie := ev("e3", "s1", "a1", models.EventCustom, models.SeverityInfo, base.Add(time.Minute), "")
	tie.Hash = "tie"
	require.NoError(t, m.InsertEvents(ctx, "acme", []*models.Event{tie}))

	tip, err = m.GetChainTip(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, "tie", tip.Hash)
}

func TestInsertEvents_CanceledContextLeavesNothing(t *testing.T) {
	m := NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.InsertEvents(ctx, "acme", []*models.Event{
		ev("e1", "s1", "a1", models.EventCustom, models.SeverityInfo, base, ""),
	})
	require.ErrorIs(t, err, context.Canceled)

	// A failed insert must not leave partial state behind.
	timeline, err := m.GetSessionTimeline(context.Background(), "acme", "s1")
	require.NoError(t, err)
	assert.Empty(t, timeline)
	_, err = m.GetSession(context.Background(), "acme", "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	n, err := m.CountEvents(context.Background(), "acme", models.EventFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApplyRetention(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.NoError(t, m.InsertEvents(ctx, "acme", []*models.Event{
		ev("old", "s1", "a1", models.EventCustom, models.SeverityInfo, base.AddDate(0, 0, -40), ""),
		ev("new", "s1", "a1", models.EventCustom, models.SeverityInfo, base, ""),
	}))
	require.NoError(t, m.AppendAuditLog(ctx, &models.AuditLogEntry{
		ID: "l-old", TenantID: "acme", Action: "x", CreatedAt: base.AddDate(0, 0, -40),
	}))

	purged, err := m.ApplyRetention(ctx, "acme", base.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = m.GetEvent(ctx, "acme", "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetEvent(ctx, "acme", "new")
	assert.NoError(t, err)

	purgedAudit, err := m.ApplyAuditRetention(ctx, "acme", base.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purgedAudit)
}

func TestAlertRuleCascade(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.NoError(t, m.CreateAlertRule(ctx, &models.AlertRule{ID: "r1", TenantID: "acme", Name: "n", Threshold: 1, WindowSeconds: 60}))
	require.NoError(t, m.InsertAlertHistory(ctx, &models.AlertHistory{ID: "h1", TenantID: "acme", RuleID: "r1", TriggeredAt: base}))

	require.NoError(t, m.DeleteAlertRule(ctx, "acme", "r1"))

	history, err := m.ListAlertHistory(ctx, "acme", "r1", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAPIKeys(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	key := &models.APIKey{ID: "k1", TenantID: "acme", KeyHash: "hash1", Role: "admin"}
	require.NoError(t, m.CreateAPIKey(ctx, key))

	got, err := m.GetAPIKeyByHash(ctx, "hash1")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.TenantID)

	_, err = m.GetAPIKeyByHash(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	// Duplicate hash refused.
	err = m.CreateAPIKey(ctx, &models.APIKey{ID: "k2", TenantID: "acme", KeyHash: "hash1"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestListTenants(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.NoError(t, m.InsertEvents(ctx, "a", []*models.Event{
		ev("e1", "s1", "agent", models.EventCustom, models.SeverityInfo, base, ""),
	}))
	require.NoError(t, m.SetConfigValue(ctx, "b", "tier", "free"))

	tenants, err := m.ListTenants(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, tenants)
}

func TestCapabilities(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.NoError(t, m.UpsertCapability(ctx, &models.Capability{
		ID: "a1/tool:kubectl", TenantID: "acme", AgentID: "a1",
		Name: "kubectl", FirstSeenAt: base,
	}))
	require.NoError(t, m.UpsertCapability(ctx, &models.Capability{
		ID: "a2/tool:search", TenantID: "acme", AgentID: "a2",
		Name: "search", FirstSeenAt: base.Add(time.Minute),
	}))

	// Re-upserting keeps the original first sighting.
	require.NoError(t, m.UpsertCapability(ctx, &models.Capability{
		ID: "a1/tool:kubectl", TenantID: "acme", AgentID: "a1",
		Name: "kubectl", FirstSeenAt: base.Add(time.Hour),
	}))

	all, err := m.ListCapabilities(ctx, "acme", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, base, all[0].FirstSeenAt)

	forAgent, err := m.ListCapabilities(ctx, "acme", "a2")
	require.NoError(t, err)
	require.Len(t, forAgent, 1)
	assert.Equal(t, "search", forAgent[0].Name)

	other, err := m.ListCapabilities(ctx, "globex", "")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestTrustScores(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	_, err := m.GetTrustScore(ctx, "acme", "a1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.UpsertTrustScore(ctx, &models.TrustScore{
		TenantID: "acme", AgentID: "a1", Score: 0.9, UpdatedAt: base,
	}))
	require.NoError(t, m.UpsertTrustScore(ctx, &models.TrustScore{
		TenantID: "acme", AgentID: "a1", Score: 0.75, UpdatedAt: base.Add(time.Hour),
	}))

	got, err := m.GetTrustScore(ctx, "acme", "a1")
	require.NoError(t, err)
	assert.Equal(t, 0.75, got.Score)
	assert.Equal(t, base.Add(time.Hour), got.UpdatedAt)

	_, err = m.GetTrustScore(ctx, "globex", "a1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGuardrailRules(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	rule := &models.GuardrailRule{
		ID: "g1", TenantID: "acme", Name: "prod deploys need a human",
		ToolName: "kubectl", RequireApproval: true, Enabled: true, CreatedAt: base,
	}
	require.NoError(t, m.CreateGuardrailRule(ctx, rule))
	assert.ErrorIs(t, m.CreateGuardrailRule(ctx, rule), ErrAlreadyExists)

	rules, err := m.ListGuardrailRules(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].RequireApproval)

	other, err := m.ListGuardrailRules(ctx, "globex")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, m.DeleteGuardrailRule(ctx, "acme", "g1"))
	assert.ErrorIs(t, m.DeleteGuardrailRule(ctx, "acme", "g1"), ErrNotFound)
}

func TestGetAnalytics(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.NoError(t, m.InsertEvents(ctx, "acme", []*models.Event{
		ev("e1", "s1", "a1", models.EventToolCall, models.SeverityInfo, base,
			`{"toolName":"t","callId":"c1","arguments":{}}`),
		ev("e2", "s1", "a1", models.EventLLMResponse, models.SeverityInfo, base.Add(10*time.Minute),
			`{"callId":"l1","latencyMs":400,"costUsd":0.10}`),
		ev("e3", "s2", "a2", models.EventCustom, models.SeverityError, base.Add(90*time.Minute), ""),
	}))

	got, err := m.GetAnalytics(ctx, "acme", models.AnalyticsQuery{
		From:        base.Truncate(time.Hour),
		To:          base.Add(3 * time.Hour),
		Granularity: "hour",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), got.EventCount)
	assert.Equal(t, int64(1), got.ToolCallCount)
	assert.Equal(t, int64(1), got.ErrorCount)
	assert.InDelta(t, 0.10, got.TotalCostUsd, 1e-9)
	assert.InDelta(t, 400, got.AvgLatencyMs, 1e-9)
	assert.Equal(t, int64(2), got.UniqueSessions)
	assert.Equal(t, int64(2), got.UniqueAgents)
	require.NotEmpty(t, got.Buckets)
}
