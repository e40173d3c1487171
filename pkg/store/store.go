// Package store defines the multi-tenant persistence contract, the in-memory
// backend used by tests and single-node deployments, and the tenant-scoped
// wrapper that every API read path goes through.
package store

import (
	"context"
	"time"

	"github.com/agentlens/agentlens/pkg/models"
)

// Store is the raw persistence contract. Every operation is tenant-scoped by
// an explicit tenantID argument; only ingestion, retention, and export may
// hold a raw Store — the HTTP layer sees a TenantStore.
type Store interface {
	// InsertEvents atomically persists a batch in arrival order and updates
	// the derived session and agent aggregates in the same unit. Either the
	// whole batch and all aggregates are durable, or nothing is.
	InsertEvents(ctx context.Context, tenantID string, events []*models.Event) error
	GetEvent(ctx context.Context, tenantID, id string) (*models.Event, error)
	QueryEvents(ctx context.Context, tenantID string, f models.EventFilter) ([]*models.Event, int64, error)
	// GetSessionTimeline returns all events of a session in ascending
	// timestamp order (chain order).
	GetSessionTimeline(ctx context.Context, tenantID, sessionID string) ([]*models.Event, error)
	// GetChainTip returns the session's newest stored event in timeline order
	// (timestamp, then id), or nil when the session has none. Ingestion
	// anchors new batches on the tip's hash and never timestamps an event
	// before it, so chain order and timeline order stay the same ordering.
	GetChainTip(ctx context.Context, tenantID, sessionID string) (*ChainTip, error)
	CountEvents(ctx context.Context, tenantID string, f models.EventFilter) (int64, error)
	CountEventsBatch(ctx context.Context, tenantID string, f models.EventFilter) (models.EventCounts, error)

	UpsertSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, tenantID, id string) (*models.Session, error)
	QuerySessions(ctx context.Context, tenantID string, f models.SessionFilter) ([]*models.Session, int64, error)

	UpsertAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, tenantID, id string) (*models.Agent, error)
	ListAgents(ctx context.Context, tenantID string) ([]*models.Agent, error)

	GetAnalytics(ctx context.Context, tenantID string, q models.AnalyticsQuery) (*models.Analytics, error)
	GetStats(ctx context.Context, tenantID string) (*models.TenantStats, error)

	CreateAlertRule(ctx context.Context, rule *models.AlertRule) error
	UpdateAlertRule(ctx context.Context, rule *models.AlertRule) error
	DeleteAlertRule(ctx context.Context, tenantID, id string) error
	GetAlertRule(ctx context.Context, tenantID, id string) (*models.AlertRule, error)
	ListAlertRules(ctx context.Context, tenantID string) ([]*models.AlertRule, error)
	InsertAlertHistory(ctx context.Context, h *models.AlertHistory) error
	ListAlertHistory(ctx context.Context, tenantID, ruleID string, limit int) ([]*models.AlertHistory, error)
	// LatestAlertHistory returns the newest firing for a rule, or ErrNotFound.
	LatestAlertHistory(ctx context.Context, tenantID, ruleID string) (*models.AlertHistory, error)

	// ApplyRetention deletes events older than cutoff and returns the number
	// of rows removed. Audit-log retention runs separately on created_at.
	ApplyRetention(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)
	ApplyAuditRetention(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)

	AppendAuditLog(ctx context.Context, entry *models.AuditLogEntry) error
	ListAuditLog(ctx context.Context, tenantID string, limit, offset int) ([]*models.AuditLogEntry, error)

	GetConfigValue(ctx context.Context, tenantID, key string) (string, error)
	SetConfigValue(ctx context.Context, tenantID, key, value string) error
	ListConfigValues(ctx context.Context, tenantID string) (map[string]string, error)

	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	InsertHealthScores(ctx context.Context, scores []*models.HealthScore) error
	ListHealthScores(ctx context.Context, tenantID, agentID string) ([]*models.HealthScore, error)

	// UpsertCapability records a discovered capability; re-upserting an
	// existing (tenantId, id) keeps the original FirstSeenAt.
	UpsertCapability(ctx context.Context, cap *models.Capability) error
	ListCapabilities(ctx context.Context, tenantID, agentID string) ([]*models.Capability, error)

	UpsertTrustScore(ctx context.Context, ts *models.TrustScore) error
	GetTrustScore(ctx context.Context, tenantID, agentID string) (*models.TrustScore, error)

	CreateGuardrailRule(ctx context.Context, rule *models.GuardrailRule) error
	ListGuardrailRules(ctx context.Context, tenantID string) ([]*models.GuardrailRule, error)
	DeleteGuardrailRule(ctx context.Context, tenantID, id string) error

	// ListTenants returns every tenant id with stored data. Used by the
	// retention job to iterate active tenants.
	ListTenants(ctx context.Context) ([]string, error)
}

// ChainTip identifies the event new batches chain off: the newest event of a
// session by (timestamp, id).
type ChainTip struct {
	Hash      string
	Timestamp time.Time
}

// PartitionInfo describes one month partition of the events table.
type PartitionInfo struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PartitionedStore is implemented by backends that partition events by month
// on timestamp. The partition manager in pkg/retention drives these hooks.
type PartitionedStore interface {
	EnsurePartition(ctx context.Context, month time.Time) error
	ListPartitions(ctx context.Context) ([]PartitionInfo, error)
	DropPartitionsBefore(ctx context.Context, month time.Time) (int, error)
}
