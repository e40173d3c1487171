package postgres

import (
	"context"

	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
)

// ─── Capabilities ───

func (p *PGStore) UpsertCapability(ctx context.Context, cap *models.Capability) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO capabilities (id, tenant_id, agent_id, name, description, first_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			description = COALESCE(NULLIF(EXCLUDED.description, ''), capabilities.description)`,
		cap.ID, cap.TenantID, cap.AgentID, cap.Name, cap.Description,
		cap.FirstSeenAt.UTC())
	return mapError(err)
}

func (p *PGStore) ListCapabilities(ctx context.Context, tenantID, agentID string) ([]*models.Capability, error) {
	query := `
		SELECT id, tenant_id, agent_id, name, description, first_seen_at
		FROM capabilities
		WHERE tenant_id = $1`
	args := []any{tenantID}
	if agentID != "" {
		query += " AND agent_id = $2"
		args = append(args, agentID)
	}
	query += " ORDER BY id"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(row rowScanner) (*models.Capability, error) {
		var c models.Capability
		if err := row.Scan(&c.ID, &c.TenantID, &c.AgentID, &c.Name,
			&c.Description, &c.FirstSeenAt); err != nil {
			return nil, err
		}
		c.FirstSeenAt = c.FirstSeenAt.UTC()
		return &c, nil
	})
}

// ─── Trust scores ───

func (p *PGStore) UpsertTrustScore(ctx context.Context, ts *models.TrustScore) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO trust_scores (tenant_id, agent_id, score, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, agent_id) DO UPDATE SET
			score = EXCLUDED.score,
			updated_at = EXCLUDED.updated_at`,
		ts.TenantID, ts.AgentID, ts.Score, ts.UpdatedAt.UTC())
	return mapError(err)
}

func (p *PGStore) GetTrustScore(ctx context.Context, tenantID, agentID string) (*models.TrustScore, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT tenant_id, agent_id, score, updated_at
		FROM trust_scores
		WHERE tenant_id = $1 AND agent_id = $2`, tenantID, agentID)
	var ts models.TrustScore
	if err := row.Scan(&ts.TenantID, &ts.AgentID, &ts.Score, &ts.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	ts.UpdatedAt = ts.UpdatedAt.UTC()
	return &ts, nil
}

// ─── Guardrail rules ───

func (p *PGStore) CreateGuardrailRule(ctx context.Context, rule *models.GuardrailRule) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO guardrail_rules (id, tenant_id, name, tool_name, require_approval, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rule.ID, rule.TenantID, rule.Name, rule.ToolName, rule.RequireApproval,
		rule.Enabled, rule.CreatedAt.UTC())
	return mapError(err)
}

func (p *PGStore) ListGuardrailRules(ctx context.Context, tenantID string) ([]*models.GuardrailRule, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, tenant_id, name, tool_name, require_approval, enabled, created_at
		FROM guardrail_rules
		WHERE tenant_id = $1
		ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(row rowScanner) (*models.GuardrailRule, error) {
		var r models.GuardrailRule
		if err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.ToolName,
			&r.RequireApproval, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		return &r, nil
	})
}

func (p *PGStore) DeleteGuardrailRule(ctx context.Context, tenantID, id string) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM guardrail_rules WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
