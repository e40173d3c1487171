package postgres

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/agentlens/agentlens/pkg/database"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
)

// All tests in this package share one PostgreSQL instance: CI points at an
// external service container via CI_DATABASE_URL, local dev starts a single
// testcontainer per package run. Isolation between tests comes from unique
// tenant ids, which every store operation is scoped by.
var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
	schemaOnce    sync.Once
	schemaErr     error
)

func connString(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("CI_DATABASE_URL"); url != "" {
		return url
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("test"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = err
			return
		}
		sharedConnStr, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Skipf("skipping: postgres container unavailable: %v", containerErr)
	}
	return sharedConnStr
}

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, connString(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schemaOnce.Do(func() {
		schemaErr = database.ApplySchema(ctx, pool)
	})
	require.NoError(t, schemaErr)
	return pool
}

// newTestStore returns a store over the shared database plus a fresh tenant id.
func newTestStore(t *testing.T) (*PGStore, string) {
	t.Helper()
	return New(testPool(t)), "t-" + uuid.NewString()
}

func strPtr(s string) *string { return &s }

func pgEvent(id, sessionID, agentID string, typ models.EventType, sev models.Severity, at time.Time, payload string, prevHash *string) *models.Event {
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
		PrevHash:  prevHash,
		Hash:      "hash-" + id,
	}
}

var pgBase = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func TestInsertEvents_AggregatesAndRoundTrip(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	batch := []*models.Event{
		pgEvent("e1", "s1", "a1", models.EventSessionStarted, models.SeverityInfo, pgBase,
			`{"agentName":"deploy-bot","tags":["prod"]}`, nil),
		pgEvent("e2", "s1", "a1", models.EventToolCall, models.SeverityInfo, pgBase.Add(time.Second),
			`{"toolName":"kubectl","callId":"c1","arguments":{}}`, strPtr("hash-e1")),
		pgEvent("e3", "s1", "a1", models.EventLLMResponse, models.SeverityInfo, pgBase.Add(2*time.Second),
			`{"callId":"l1","inputTokens":120,"outputTokens":40,"costUsd":0.3,"latencyMs":800}`, strPtr("hash-e2")),
		pgEvent("e4", "s1", "a1", models.EventSessionEnded, models.SeverityInfo, pgBase.Add(3*time.Second),
			`{"reason":"completed"}`, strPtr("hash-e3")),
	}
	require.NoError(t, pg.InsertEvents(ctx, tenant, batch))

	sess, err := pg.GetSession(ctx, tenant, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), sess.EventCount)
	assert.Equal(t, int64(1), sess.ToolCallCount)
	assert.Equal(t, int64(1), sess.LLMCallCount)
	assert.Equal(t, int64(120), sess.TotalInputTokens)
	assert.Equal(t, 0.3, sess.TotalCostUsd)
	assert.Equal(t, models.SessionCompleted, sess.Status)
	assert.Equal(t, "deploy-bot", sess.AgentName)
	assert.Equal(t, []string{"prod"}, sess.Tags)
	require.NotNil(t, sess.EndedAt)
	assert.Equal(t, pgBase.Add(3*time.Second), sess.EndedAt.UTC())

	agent, err := pg.GetAgent(ctx, tenant, "a1")
	require.NoError(t, err)
	assert.Equal(t, "deploy-bot", agent.Name)
	assert.Equal(t, int64(1), agent.SessionCount)
	assert.Equal(t, pgBase.Add(3*time.Second), agent.LastSeenAt)

	// Stored payload bytes survive untouched; jsonb round-trips semantics.
	e2, err := pg.GetEvent(ctx, tenant, "e2")
	require.NoError(t, err)
	assert.Equal(t, models.EventToolCall, e2.EventType)
	assert.Equal(t, tenant, e2.TenantID)
	require.NotNil(t, e2.PrevHash)
	assert.Equal(t, "hash-e1", *e2.PrevHash)
	var p map[string]any
	require.NoError(t, json.Unmarshal(e2.Payload, &p))
	assert.Equal(t, "kubectl", p["toolName"])

	tip, err := pg.GetChainTip(ctx, tenant, "s1")
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, "hash-e4", tip.Hash)
	assert.Equal(t, pgBase.Add(3*time.Second), tip.Timestamp)

	// Second batch on the same session keeps accumulating.
	require.NoError(t, pg.InsertEvents(ctx, tenant, []*models.Event{
		pgEvent("e5", "s1", "a1", models.EventToolError, models.SeverityError, pgBase.Add(4*time.Second),
			`{"callId":"c1","error":"timeout"}`, strPtr("hash-e4")),
	}))
	sess, err = pg.GetSession(ctx, tenant, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), sess.EventCount)
	assert.Equal(t, int64(1), sess.ErrorCount)

	timeline, err := pg.GetSessionTimeline(ctx, tenant, "s1")
	require.NoError(t, err)
	require.Len(t, timeline, 5)
	for i, want := range []string{"e1", "e2", "e3", "e4", "e5"} {
		assert.Equal(t, want, timeline[i].ID)
	}
}

func TestInsertEvents_DuplicateIDRollsBack(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	e := pgEvent("dup", "s1", "a1", models.EventCustom, models.SeverityInfo, pgBase, "", nil)
	require.NoError(t, pg.InsertEvents(ctx, tenant, []*models.Event{e}))

	err := pg.InsertEvents(ctx, tenant, []*models.Event{e.Clone()})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	// The failed transaction must not have bumped the session aggregates.
	sess, err := pg.GetSession(ctx, tenant, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sess.EventCount)
}

func TestGetEvent_NotFound(t *testing.T) {
	pg, tenant := newTestStore(t)

	_, err := pg.GetEvent(context.Background(), tenant, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	tip, err := pg.GetChainTip(context.Background(), tenant, "empty-session")
	require.NoError(t, err)
	assert.Nil(t, tip)
}

func TestQueryEvents_Filters(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, pg.InsertEvents(ctx, tenant, []*models.Event{
		pgEvent("q1", "s1", "a1", models.EventSessionStarted, models.SeverityInfo, pgBase, "", nil),
		pgEvent("q2", "s1", "a1", models.EventToolCall, models.SeverityInfo, pgBase.Add(time.Minute),
			`{"toolName":"curl","callId":"c1","arguments":{}}`, strPtr("hash-q1")),
		pgEvent("q3", "s1", "a1", models.EventToolError, models.SeverityError, pgBase.Add(2*time.Minute),
			`{"callId":"c1","error":"connection refused"}`, strPtr("hash-q2")),
		pgEvent("q4", "s2", "a2", models.EventCustom, models.SeverityWarn, pgBase.Add(3*time.Minute),
			`{"name":"note","data":{}}`, nil),
		pgEvent("q5", "s2", "a2", models.EventCustom, models.SeverityInfo, pgBase.Add(4*time.Minute),
			`{"name":"progress","data":{"detail":"rollout 100% done"}}`, strPtr("hash-q4")),
		pgEvent("q6", "s2", "a2", models.EventCustom, models.SeverityInfo, pgBase.Add(5*time.Minute),
			`{"name":"progress","data":{"detail":"100 replicas ready"}}`, strPtr("hash-q5")),
	}))

	t.Run("by type", func(t *testing.T) {
		events, total, err := pg.QueryEvents(ctx, tenant, models.EventFilter{
			EventTypes: []models.EventType{models.EventToolCall, models.EventToolError},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, events, 2)
		assert.Equal(t, "q3", events[0].ID) // default order is newest first
	})

	t.Run("by severity", func(t *testing.T) {
		events, total, err := pg.QueryEvents(ctx, tenant, models.EventFilter{
			Severities: []models.Severity{models.SeverityError},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, events, 1)
		assert.Equal(t, "q3", events[0].ID)
	})

	t.Run("time range to exclusive", func(t *testing.T) {
		from := pgBase.Add(time.Minute)
		to := pgBase.Add(3 * time.Minute)
		events, total, err := pg.QueryEvents(ctx, tenant, models.EventFilter{
			From: &from, To: &to, Order: "asc",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, events, 2)
		assert.Equal(t, "q2", events[0].ID)
		assert.Equal(t, "q3", events[1].ID)
	})

	t.Run("payload search", func(t *testing.T) {
		_, total, err := pg.QueryEvents(ctx, tenant, models.EventFilter{Search: "connection refused"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("search matches wildcard characters literally", func(t *testing.T) {
		// "100%" must not degrade to "100 followed by anything".
		events, total, err := pg.QueryEvents(ctx, tenant, models.EventFilter{Search: "100%"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, events, 1)
		assert.Equal(t, "q5", events[0].ID)
	})

	t.Run("pagination keeps total", func(t *testing.T) {
		events, total, err := pg.QueryEvents(ctx, tenant, models.EventFilter{
			Order: "asc", Limit: 2, Offset: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(6), total)
		require.Len(t, events, 2)
		assert.Equal(t, "q2", events[0].ID)
		assert.Equal(t, "q3", events[1].ID)
	})

	t.Run("tenant scoped", func(t *testing.T) {
		_, total, err := pg.QueryEvents(ctx, "t-"+uuid.NewString(), models.EventFilter{})
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}

func TestCountEventsBatch_SeverityBreakdown(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, pg.InsertEvents(ctx, tenant, []*models.Event{
		pgEvent("c1", "s1", "a1", models.EventCustom, models.SeverityInfo, pgBase, `{"name":"n","data":{}}`, nil),
		pgEvent("c2", "s1", "a1", models.EventCustom, models.SeverityError, pgBase.Add(time.Second), `{"name":"n","data":{}}`, strPtr("hash-c1")),
		pgEvent("c3", "s1", "a1", models.EventCustom, models.SeverityCritical, pgBase.Add(2*time.Second), `{"name":"n","data":{}}`, strPtr("hash-c2")),
		pgEvent("c4", "s1", "a1", models.EventToolError, models.SeverityError, pgBase.Add(3*time.Second), `{"callId":"x","error":"boom"}`, strPtr("hash-c3")),
	}))

	counts, err := pg.CountEventsBatch(ctx, tenant, models.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts.Total)
	assert.Equal(t, int64(2), counts.Errors)
	assert.Equal(t, int64(1), counts.Critical)
	assert.Equal(t, int64(1), counts.ToolError)
}

func TestQuerySessions_FiltersAndOrder(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, pg.InsertEvents(ctx, tenant, []*models.Event{
		pgEvent("s1e1", "sess-old", "a1", models.EventSessionStarted, models.SeverityInfo, pgBase,
			`{"agentName":"bot","tags":["prod","deploy"]}`, nil),
		pgEvent("s1e2", "sess-old", "a1", models.EventSessionEnded, models.SeverityInfo, pgBase.Add(time.Minute),
			`{"reason":"completed"}`, strPtr("hash-s1e1")),
	}))
	require.NoError(t, pg.InsertEvents(ctx, tenant, []*models.Event{
		pgEvent("s2e1", "sess-new", "a2", models.EventSessionStarted, models.SeverityInfo, pgBase.Add(time.Hour),
			`{"agentName":"bot-2","tags":["staging"]}`, nil),
	}))

	sessions, total, err := pg.QuerySessions(ctx, tenant, models.SessionFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, sessions, 2)
	assert.Equal(t, "sess-new", sessions[0].ID) // newest first
	assert.Equal(t, "sess-old", sessions[1].ID)

	sessions, total, err = pg.QuerySessions(ctx, tenant, models.SessionFilter{Status: models.SessionCompleted})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-old", sessions[0].ID)

	sessions, _, err = pg.QuerySessions(ctx, tenant, models.SessionFilter{Tags: []string{"deploy"}})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-old", sessions[0].ID)

	sessions, _, err = pg.QuerySessions(ctx, tenant, models.SessionFilter{AgentID: "a2"})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-new", sessions[0].ID)
}

func TestGetAnalytics_BucketsAndTotals(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2026, 5, 12, 0, 0, 0, 0, time.UTC)
	require.NoError(t, pg.InsertEvents(ctx, tenant, []*models.Event{
		pgEvent("an1", "s1", "a1", models.EventToolCall, models.SeverityInfo, day.Add(10*time.Minute),
			`{"toolName":"curl","callId":"c1","arguments":{}}`, nil),
		pgEvent("an2", "s1", "a1", models.EventLLMResponse, models.SeverityInfo, day.Add(20*time.Minute),
			`{"callId":"l1","inputTokens":10,"outputTokens":5,"costUsd":0.5,"latencyMs":1000}`, strPtr("hash-an1")),
		pgEvent("an3", "s2", "a2", models.EventToolError, models.SeverityError, day.Add(time.Hour+5*time.Minute),
			`{"callId":"c2","error":"boom"}`, nil),
	}))

	out, err := pg.GetAnalytics(ctx, tenant, models.AnalyticsQuery{
		From: day, To: day.Add(24 * time.Hour), Granularity: "hour",
	})
	require.NoError(t, err)
	require.Len(t, out.Buckets, 2)
	assert.Equal(t, day, out.Buckets[0].Start)
	assert.Equal(t, int64(2), out.Buckets[0].EventCount)
	assert.Equal(t, int64(1), out.Buckets[0].ToolCallCount)
	assert.Equal(t, 1000.0, out.Buckets[0].AvgLatencyMs)
	assert.Equal(t, day.Add(time.Hour), out.Buckets[1].Start)
	assert.Equal(t, int64(1), out.Buckets[1].ErrorCount)

	assert.Equal(t, int64(3), out.EventCount)
	assert.Equal(t, 0.5, out.TotalCostUsd)
	assert.Equal(t, int64(2), out.UniqueSessions)
	assert.Equal(t, int64(2), out.UniqueAgents)
}

func TestGetStats(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, pg.InsertEvents(ctx, tenant, []*models.Event{
		pgEvent("st1", "s1", "a1", models.EventCustom, models.SeverityInfo, pgBase, `{"name":"n","data":{}}`, nil),
		pgEvent("st2", "s2", "a1", models.EventCustom, models.SeverityInfo, pgBase.Add(time.Second), `{"name":"n","data":{}}`, nil),
	}))

	stats, err := pg.GetStats(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Events)
	assert.Equal(t, int64(2), stats.Sessions)
	assert.Equal(t, int64(1), stats.Agents)
}

func TestApplyRetention_DeletesOldRows(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, pg.InsertEvents(ctx, tenant, []*models.Event{
		pgEvent("r1", "s1", "a1", models.EventCustom, models.SeverityInfo, pgBase.AddDate(0, 0, -30), `{"name":"n","data":{}}`, nil),
		pgEvent("r2", "s1", "a1", models.EventCustom, models.SeverityInfo, pgBase.AddDate(0, 0, -10), `{"name":"n","data":{}}`, strPtr("hash-r1")),
		pgEvent("r3", "s1", "a1", models.EventCustom, models.SeverityInfo, pgBase, `{"name":"n","data":{}}`, strPtr("hash-r2")),
	}))

	deleted, err := pg.ApplyRetention(ctx, tenant, pgBase.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	remaining, err := pg.CountEvents(ctx, tenant, models.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)

	_, err = pg.GetEvent(ctx, tenant, "r1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAuditLog_AppendListRetention(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, pg.AppendAuditLog(ctx, &models.AuditLogEntry{
		ID: "au1", TenantID: tenant, Action: "export_created", KeyID: "key-1",
		Details:   map[string]any{"format": "ndjson"},
		CreatedAt: pgBase.AddDate(0, 0, -400),
	}))
	require.NoError(t, pg.AppendAuditLog(ctx, &models.AuditLogEntry{
		ID: "au2", TenantID: tenant, Action: "config_changed",
		CreatedAt: pgBase,
	}))

	entries, err := pg.ListAuditLog(ctx, tenant, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "au2", entries[0].ID) // newest first
	assert.Equal(t, "ndjson", entries[1].Details["format"])

	deleted, err := pg.ApplyAuditRetention(ctx, tenant, pgBase.AddDate(0, 0, -365))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err = pg.ListAuditLog(ctx, tenant, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "au2", entries[0].ID)
}

func TestConfigKV(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	_, err := pg.GetConfigValue(ctx, tenant, "tier")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, pg.SetConfigValue(ctx, tenant, "tier", "pro"))
	require.NoError(t, pg.SetConfigValue(ctx, tenant, "retention_days", "30"))
	require.NoError(t, pg.SetConfigValue(ctx, tenant, "tier", "enterprise")) // overwrite

	v, err := pg.GetConfigValue(ctx, tenant, "tier")
	require.NoError(t, err)
	assert.Equal(t, "enterprise", v)

	all, err := pg.ListConfigValues(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tier": "enterprise", "retention_days": "30"}, all)
}

func TestAPIKeys(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	hash := "sha256-" + uuid.NewString()
	key := &models.APIKey{
		ID: "key-1", TenantID: tenant, OrgID: "org-1", Name: "ingest key",
		KeyHash: hash, Role: "ingest", Scopes: []string{"ingest", "read"},
		Tier: "pro", RateLimit: 250, CreatedAt: pgBase,
	}
	require.NoError(t, pg.CreateAPIKey(ctx, key))
	// Re-creating the same hash is a no-op, so bootstrap can run every start.
	require.NoError(t, pg.CreateAPIKey(ctx, key))

	got, err := pg.GetAPIKeyByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "key-1", got.ID)
	assert.Equal(t, tenant, got.TenantID)
	assert.Equal(t, []string{"ingest", "read"}, got.Scopes)
	assert.Equal(t, "pro", got.Tier)
	assert.Equal(t, int64(250), got.RateLimit)

	_, err = pg.GetAPIKeyByHash(ctx, "unknown")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHealthScores(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	scores := []*models.HealthScore{
		{ID: "h1", TenantID: tenant, AgentID: "a1", RecordedAt: pgBase, ErrorRate: 0.1, AvgCostUsd: 0.5, SessionCount: 3},
		{ID: "h2", TenantID: tenant, AgentID: "a2", RecordedAt: pgBase.Add(time.Hour), ErrorRate: 0, AvgCostUsd: 0.2, SessionCount: 1},
	}
	require.NoError(t, pg.InsertHealthScores(ctx, scores))
	require.NoError(t, pg.InsertHealthScores(ctx, scores)) // conflict rows skipped

	all, err := pg.ListHealthScores(ctx, tenant, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "h2", all[0].ID) // newest first

	byAgent, err := pg.ListHealthScores(ctx, tenant, "a1")
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, 0.1, byAgent[0].ErrorRate)
}

func TestAlertRules_CRUDAndHistoryCascade(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	toolError := models.EventToolError
	minSev := models.SeverityError
	rule := &models.AlertRule{
		ID: "rule-1", TenantID: tenant, Name: "tool failures",
		EventType: &toolError, MinSeverity: &minSev,
		Threshold: 3, WindowSeconds: 300, Enabled: true,
		CreatedAt: pgBase, UpdatedAt: pgBase,
	}
	require.NoError(t, pg.CreateAlertRule(ctx, rule))

	got, err := pg.GetAlertRule(ctx, tenant, "rule-1")
	require.NoError(t, err)
	require.NotNil(t, got.EventType)
	assert.Equal(t, models.EventToolError, *got.EventType)
	require.NotNil(t, got.MinSeverity)
	assert.Equal(t, models.SeverityError, *got.MinSeverity)
	assert.Equal(t, int64(3), got.Threshold)

	got.Threshold = 5
	got.MinSeverity = nil
	got.UpdatedAt = pgBase.Add(time.Hour)
	require.NoError(t, pg.UpdateAlertRule(ctx, got))

	got, err = pg.GetAlertRule(ctx, tenant, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Threshold)
	assert.Nil(t, got.MinSeverity)

	err = pg.UpdateAlertRule(ctx, &models.AlertRule{ID: "ghost", TenantID: tenant})
	assert.ErrorIs(t, err, store.ErrNotFound)

	rules, err := pg.ListAlertRules(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	require.NoError(t, pg.InsertAlertHistory(ctx, &models.AlertHistory{
		ID: "fire-1", TenantID: tenant, RuleID: "rule-1",
		TriggeredAt: pgBase, Value: 5, SessionID: "s1",
	}))
	require.NoError(t, pg.InsertAlertHistory(ctx, &models.AlertHistory{
		ID: "fire-2", TenantID: tenant, RuleID: "rule-1",
		TriggeredAt: pgBase.Add(time.Hour), Value: 7,
	}))

	history, err := pg.ListAlertHistory(ctx, tenant, "rule-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "fire-2", history[0].ID) // newest first

	latest, err := pg.LatestAlertHistory(ctx, tenant, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), latest.Value)

	require.NoError(t, pg.DeleteAlertRule(ctx, tenant, "rule-1"))
	_, err = pg.GetAlertRule(ctx, tenant, "rule-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	history, err = pg.ListAlertHistory(ctx, tenant, "rule-1", 10)
	require.NoError(t, err)
	assert.Empty(t, history) // cascaded with the rule

	err = pg.DeleteAlertRule(ctx, tenant, "rule-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCapabilities_UpsertKeepsFirstSighting(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, pg.UpsertCapability(ctx, &models.Capability{
		ID: "a1/tool:kubectl", TenantID: tenant, AgentID: "a1",
		Name: "kubectl", FirstSeenAt: pgBase,
	}))
	require.NoError(t, pg.UpsertCapability(ctx, &models.Capability{
		ID: "a2/tool:search", TenantID: tenant, AgentID: "a2",
		Name: "search", Description: "web search", FirstSeenAt: pgBase.Add(time.Minute),
	}))

	// A later upsert of the same capability refreshes the name but never the
	// first sighting.
	require.NoError(t, pg.UpsertCapability(ctx, &models.Capability{
		ID: "a1/tool:kubectl", TenantID: tenant, AgentID: "a1",
		Name: "kubectl", FirstSeenAt: pgBase.Add(time.Hour),
	}))

	all, err := pg.ListCapabilities(ctx, tenant, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a1/tool:kubectl", all[0].ID)
	assert.Equal(t, pgBase, all[0].FirstSeenAt)

	forAgent, err := pg.ListCapabilities(ctx, tenant, "a2")
	require.NoError(t, err)
	require.Len(t, forAgent, 1)
	assert.Equal(t, "web search", forAgent[0].Description)
}

func TestTrustScores_UpsertAndGet(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	_, err := pg.GetTrustScore(ctx, tenant, "a1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, pg.UpsertTrustScore(ctx, &models.TrustScore{
		TenantID: tenant, AgentID: "a1", Score: 0.9, UpdatedAt: pgBase,
	}))
	require.NoError(t, pg.UpsertTrustScore(ctx, &models.TrustScore{
		TenantID: tenant, AgentID: "a1", Score: 0.81, UpdatedAt: pgBase.Add(time.Hour),
	}))

	got, err := pg.GetTrustScore(ctx, tenant, "a1")
	require.NoError(t, err)
	assert.Equal(t, 0.81, got.Score)
	assert.Equal(t, pgBase.Add(time.Hour), got.UpdatedAt)
}

func TestGuardrailRules_CreateListDelete(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	rule := &models.GuardrailRule{
		ID: "g1", TenantID: tenant, Name: "deploys need approval",
		ToolName: "kubectl", RequireApproval: true, Enabled: true, CreatedAt: pgBase,
	}
	require.NoError(t, pg.CreateGuardrailRule(ctx, rule))
	assert.ErrorIs(t, pg.CreateGuardrailRule(ctx, rule), store.ErrAlreadyExists)

	rules, err := pg.ListGuardrailRules(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "kubectl", rules[0].ToolName)
	assert.True(t, rules[0].RequireApproval)
	assert.Equal(t, pgBase, rules[0].CreatedAt)

	require.NoError(t, pg.DeleteGuardrailRule(ctx, tenant, "g1"))
	assert.ErrorIs(t, pg.DeleteGuardrailRule(ctx, tenant, "g1"), store.ErrNotFound)
}

func TestListTenants_IncludesSeededTenant(t *testing.T) {
	pg, tenant := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, pg.SetConfigValue(ctx, tenant, "tier", "free"))

	tenants, err := pg.ListTenants(ctx)
	require.NoError(t, err)
	assert.Contains(t, tenants, tenant)
}

func TestPartitions_EnsureListDrop(t *testing.T) {
	pg, _ := newTestStore(t)
	ctx := context.Background()

	// Months far outside any other test's data so the assertions stay
	// independent of what else ran against the shared database.
	may := time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)
	jun := may.AddDate(0, 1, 0)
	jul := may.AddDate(0, 2, 0)

	t.Cleanup(func() {
		_, _ = pg.DropPartitionsBefore(ctx, time.Date(2030, 9, 1, 0, 0, 0, 0, time.UTC))
	})

	for _, month := range []time.Time{may, jun, jul} {
		require.NoError(t, pg.EnsurePartition(ctx, month))
	}
	require.NoError(t, pg.EnsurePartition(ctx, jun)) // idempotent

	names := func() map[string]store.PartitionInfo {
		parts, err := pg.ListPartitions(ctx)
		require.NoError(t, err)
		out := map[string]store.PartitionInfo{}
		for _, p := range parts {
			out[p.Name] = p
		}
		return out
	}

	parts := names()
	require.Contains(t, parts, "events_y2030m05")
	require.Contains(t, parts, "events_y2030m06")
	require.Contains(t, parts, "events_y2030m07")
	assert.Equal(t, may, parts["events_y2030m05"].Start)
	assert.Equal(t, jun, parts["events_y2030m05"].End)

	// A row inside a maintained month routes to its partition and stays
	// reachable through the parent table.
	tenant := "t-" + uuid.NewString()
	require.NoError(t, pg.InsertEvents(ctx, tenant, []*models.Event{
		pgEvent("part-1", "s1", "a1", models.EventCustom, models.SeverityInfo,
			jun.Add(36*time.Hour), `{"name":"n","data":{}}`, nil),
	}))
	_, err := pg.GetEvent(ctx, tenant, "part-1")
	require.NoError(t, err)

	dropped, err := pg.DropPartitionsBefore(ctx, jul)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, dropped, 2)

	parts = names()
	assert.NotContains(t, parts, "events_y2030m05")
	assert.NotContains(t, parts, "events_y2030m06")
	assert.Contains(t, parts, "events_y2030m07")

	// Dropping the June partition took its rows with it.
	_, err = pg.GetEvent(ctx, tenant, "part-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDatabaseHealth(t *testing.T) {
	pool := testPool(t)

	health, err := database.Health(context.Background(), pool)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.GreaterOrEqual(t, health.ResponseTime, int64(0))
	assert.Greater(t, health.MaxConns, int32(0))
}
