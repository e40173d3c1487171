package postgres

import (
	"context"

	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
)

const ruleColumns = "id, tenant_id, name, event_type, min_severity, threshold, window_seconds, enabled, created_at, updated_at"

func scanRule(row rowScanner) (*models.AlertRule, error) {
	var r models.AlertRule
	var eventType, minSeverity *string
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &eventType, &minSeverity,
		&r.Threshold, &r.WindowSeconds, &r.Enabled, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if eventType != nil {
		t := models.EventType(*eventType)
		r.EventType = &t
	}
	if minSeverity != nil {
		s := models.Severity(*minSeverity)
		r.MinSeverity = &s
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func ruleArgs(r *models.AlertRule) []any {
	var eventType, minSeverity *string
	if r.EventType != nil {
		s := string(*r.EventType)
		eventType = &s
	}
	if r.MinSeverity != nil {
		s := string(*r.MinSeverity)
		minSeverity = &s
	}
	return []any{r.ID, r.TenantID, r.Name, eventType, minSeverity,
		r.Threshold, r.WindowSeconds, r.Enabled, r.CreatedAt.UTC(), r.UpdatedAt.UTC()}
}

func (p *PGStore) CreateAlertRule(ctx context.Context, rule *models.AlertRule) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO alert_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, ruleArgs(rule)...)
	return mapError(err)
}

func (p *PGStore) UpdateAlertRule(ctx context.Context, rule *models.AlertRule) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE alert_rules SET
			name = $3, event_type = $4, min_severity = $5, threshold = $6,
			window_seconds = $7, enabled = $8, updated_at = $9
		WHERE tenant_id = $2 AND id = $1`,
		rule.ID, rule.TenantID, rule.Name, nullableType(rule.EventType),
		nullableSeverity(rule.MinSeverity), rule.Threshold, rule.WindowSeconds,
		rule.Enabled, rule.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (p *PGStore) DeleteAlertRule(ctx context.Context, tenantID, id string) error {
	// History rows cascade via the FK.
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM alert_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (p *PGStore) GetAlertRule(ctx context.Context, tenantID, id string) (*models.AlertRule, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+ruleColumns+` FROM alert_rules
		WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	r, err := scanRule(row)
	if err != nil {
		return nil, mapError(err)
	}
	return r, nil
}

func (p *PGStore) ListAlertRules(ctx context.Context, tenantID string) ([]*models.AlertRule, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+ruleColumns+` FROM alert_rules
		WHERE tenant_id = $1
		ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, scanRule)
}

const historyColumns = "id, tenant_id, rule_id, triggered_at, resolved_at, value, session_id"

func scanHistory(row rowScanner) (*models.AlertHistory, error) {
	var h models.AlertHistory
	err := row.Scan(&h.ID, &h.TenantID, &h.RuleID, &h.TriggeredAt,
		&h.ResolvedAt, &h.Value, &h.SessionID)
	if err != nil {
		return nil, err
	}
	h.TriggeredAt = h.TriggeredAt.UTC()
	return &h, nil
}

func (p *PGStore) InsertAlertHistory(ctx context.Context, h *models.AlertHistory) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO alert_history (`+historyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.TenantID, h.RuleID, h.TriggeredAt.UTC(), h.ResolvedAt,
		h.Value, h.SessionID)
	return mapError(err)
}

func (p *PGStore) ListAlertHistory(ctx context.Context, tenantID, ruleID string, limit int) ([]*models.AlertHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+historyColumns+` FROM alert_history
		WHERE tenant_id = $1 AND rule_id = $2
		ORDER BY triggered_at DESC
		LIMIT $3`, tenantID, ruleID, limit)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, scanHistory)
}

func (p *PGStore) LatestAlertHistory(ctx context.Context, tenantID, ruleID string) (*models.AlertHistory, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+historyColumns+` FROM alert_history
		WHERE tenant_id = $1 AND rule_id = $2
		ORDER BY triggered_at DESC
		LIMIT 1`, tenantID, ruleID)
	h, err := scanHistory(row)
	if err != nil {
		return nil, mapError(err)
	}
	return h, nil
}

func nullableType(t *models.EventType) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

func nullableSeverity(sev *models.Severity) *string {
	if sev == nil {
		return nil
	}
	s := string(*sev)
	return &s
}
