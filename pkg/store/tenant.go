package store

import (
	"context"

	"github.com/agentlens/agentlens/pkg/models"
)

// TenantStore binds a raw Store to one tenant. It injects the tenant id into
// every predicate, stamps writes, and is the only store handle the HTTP layer
// ever holds — a query through it cannot observe another tenant's rows.
type TenantStore struct {
	raw      Store
	tenantID string
}

// ForTenant scopes a raw store to the given tenant.
func ForTenant(raw Store, tenantID string) *TenantStore {
	return &TenantStore{raw: raw, tenantID: tenantID}
}

// TenantID returns the bound tenant.
func (t *TenantStore) TenantID() string { return t.tenantID }

func (t *TenantStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	e, err := t.raw.GetEvent(ctx, t.tenantID, id)
	if err != nil {
		return nil, err
	}
	if e.TenantID != t.tenantID {
		return nil, ErrNotFound
	}
	return e, nil
}

func (t *TenantStore) QueryEvents(ctx context.Context, f models.EventFilter) ([]*models.Event, int64, error) {
	return t.raw.QueryEvents(ctx, t.tenantID, f)
}

func (t *TenantStore) GetSessionTimeline(ctx context.Context, sessionID string) ([]*models.Event, error) {
	return t.raw.GetSessionTimeline(ctx, t.tenantID, sessionID)
}

func (t *TenantStore) CountEvents(ctx context.Context, f models.EventFilter) (int64, error) {
	return t.raw.CountEvents(ctx, t.tenantID, f)
}

func (t *TenantStore) CountEventsBatch(ctx context.Context, f models.EventFilter) (models.EventCounts, error) {
	return t.raw.CountEventsBatch(ctx, t.tenantID, f)
}

func (t *TenantStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s, err := t.raw.GetSession(ctx, t.tenantID, id)
	if err != nil {
		return nil, err
	}
	if s.TenantID != t.tenantID {
		return nil, ErrNotFound
	}
	return s, nil
}

func (t *TenantStore) QuerySessions(ctx context.Context, f models.SessionFilter) ([]*models.Session, int64, error) {
	return t.raw.QuerySessions(ctx, t.tenantID, f)
}

func (t *TenantStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	a, err := t.raw.GetAgent(ctx, t.tenantID, id)
	if err != nil {
		return nil, err
	}
	if a.TenantID != t.tenantID {
		return nil, ErrNotFound
	}
	return a, nil
}

func (t *TenantStore) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	return t.raw.ListAgents(ctx, t.tenantID)
}

func (t *TenantStore) GetAnalytics(ctx context.Context, q models.AnalyticsQuery) (*models.Analytics, error) {
	return t.raw.GetAnalytics(ctx, t.tenantID, q)
}

func (t *TenantStore) GetStats(ctx context.Context) (*models.TenantStats, error) {
	return t.raw.GetStats(ctx, t.tenantID)
}

func (t *TenantStore) CreateAlertRule(ctx context.Context, rule *models.AlertRule) error {
	rule.TenantID = t.tenantID
	return t.raw.CreateAlertRule(ctx, rule)
}

func (t *TenantStore) UpdateAlertRule(ctx context.Context, rule *models.AlertRule) error {
	rule.TenantID = t.tenantID
	return t.raw.UpdateAlertRule(ctx, rule)
}

func (t *TenantStore) DeleteAlertRule(ctx context.Context, id string) error {
	return t.raw.DeleteAlertRule(ctx, t.tenantID, id)
}

func (t *TenantStore) GetAlertRule(ctx context.Context, id string) (*models.AlertRule, error) {
	r, err := t.raw.GetAlertRule(ctx, t.tenantID, id)
	if err != nil {
		return nil, err
	}
	if r.TenantID != t.tenantID {
		return nil, ErrNotFound
	}
	return r, nil
}

func (t *TenantStore) ListAlertRules(ctx context.Context) ([]*models.AlertRule, error) {
	return t.raw.ListAlertRules(ctx, t.tenantID)
}

func (t *TenantStore) ListAlertHistory(ctx context.Context, ruleID string, limit int) ([]*models.AlertHistory, error) {
	return t.raw.ListAlertHistory(ctx, t.tenantID, ruleID, limit)
}

func (t *TenantStore) AppendAuditLog(ctx context.Context, entry *models.AuditLogEntry) error {
	entry.TenantID = t.tenantID
	return t.raw.AppendAuditLog(ctx, entry)
}

func (t *TenantStore) ListAuditLog(ctx context.Context, limit, offset int) ([]*models.AuditLogEntry, error) {
	return t.raw.ListAuditLog(ctx, t.tenantID, limit, offset)
}

func (t *TenantStore) GetConfigValue(ctx context.Context, key string) (string, error) {
	return t.raw.GetConfigValue(ctx, t.tenantID, key)
}

func (t *TenantStore) SetConfigValue(ctx context.Context, key, value string) error {
	return t.raw.SetConfigValue(ctx, t.tenantID, key, value)
}

func (t *TenantStore) ListConfigValues(ctx context.Context) (map[string]string, error) {
	return t.raw.ListConfigValues(ctx, t.tenantID)
}

func (t *TenantStore) ListHealthScores(ctx context.Context, agentID string) ([]*models.HealthScore, error) {
	return t.raw.ListHealthScores(ctx, t.tenantID, agentID)
}

func (t *TenantStore) ListCapabilities(ctx context.Context, agentID string) ([]*models.Capability, error) {
	return t.raw.ListCapabilities(ctx, t.tenantID, agentID)
}

func (t *TenantStore) GetTrustScore(ctx context.Context, agentID string) (*models.TrustScore, error) {
	ts, err := t.raw.GetTrustScore(ctx, t.tenantID, agentID)
	if err != nil {
		return nil, err
	}
	if ts.TenantID != t.tenantID {
		return nil, ErrNotFound
	}
	return ts, nil
}

func (t *TenantStore) CreateGuardrailRule(ctx context.Context, rule *models.GuardrailRule) error {
	rule.TenantID = t.tenantID
	return t.raw.CreateGuardrailRule(ctx, rule)
}

func (t *TenantStore) ListGuardrailRules(ctx context.Context) ([]*models.GuardrailRule, error) {
	return t.raw.ListGuardrailRules(ctx, t.tenantID)
}

func (t *TenantStore) DeleteGuardrailRule(ctx context.Context, id string) error {
	return t.raw.DeleteGuardrailRule(ctx, t.tenantID, id)
}

// Raw exposes the underlying store for the components allowed to hold one
// (ingestion, retention, export). Handlers must not call this.
func (t *TenantStore) Raw() Store { return t.raw }
