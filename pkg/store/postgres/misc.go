package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/agentlens/agentlens/pkg/models"
)

// ─── Audit log ───

func (p *PGStore) AppendAuditLog(ctx context.Context, entry *models.AuditLogEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	if entry.Details == nil {
		details = []byte("{}")
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO audit_log (id, tenant_id, action, key_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.TenantID, entry.Action, entry.KeyID, details,
		entry.CreatedAt.UTC())
	return mapError(err)
}

func (p *PGStore) ListAuditLog(ctx context.Context, tenantID string, limit, offset int) ([]*models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, tenant_id, action, key_id, details, created_at FROM audit_log
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(row rowScanner) (*models.AuditLogEntry, error) {
		var e models.AuditLogEntry
		var details []byte
		if err := row.Scan(&e.ID, &e.TenantID, &e.Action, &e.KeyID, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, err
			}
		}
		e.CreatedAt = e.CreatedAt.UTC()
		return &e, nil
	})
}

// ─── Config KV ───

func (p *PGStore) GetConfigValue(ctx context.Context, tenantID, key string) (string, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM config_kv WHERE tenant_id = $1 AND key = $2`,
		tenantID, key).Scan(&value)
	if err != nil {
		return "", mapError(err)
	}
	return value, nil
}

func (p *PGStore) SetConfigValue(ctx context.Context, tenantID, key, value string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO config_kv (tenant_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, key) DO UPDATE SET value = EXCLUDED.value`,
		tenantID, key, value)
	return err
}

func (p *PGStore) ListConfigValues(ctx context.Context, tenantID string) (map[string]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key, value FROM config_kv WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ─── API keys ───

const keyColumns = "id, tenant_id, org_id, name, key_hash, role, scopes, tier, rate_limit, created_at"

func (p *PGStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash)
	var k models.APIKey
	err := row.Scan(&k.ID, &k.TenantID, &k.OrgID, &k.Name, &k.KeyHash,
		&k.Role, &k.Scopes, &k.Tier, &k.RateLimit, &k.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	k.CreatedAt = k.CreatedAt.UTC()
	return &k, nil
}

func (p *PGStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO api_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (key_hash) DO NOTHING`,
		key.ID, key.TenantID, key.OrgID, key.Name, key.KeyHash, key.Role,
		key.Scopes, key.Tier, key.RateLimit, key.CreatedAt.UTC())
	return err
}

// ─── Health scores ───

func (p *PGStore) InsertHealthScores(ctx context.Context, scores []*models.HealthScore) error {
	if len(scores) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range scores {
		batch.Queue(`
			INSERT INTO health_scores (id, tenant_id, agent_id, recorded_at, error_rate, avg_cost_usd, session_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tenant_id, id) DO NOTHING`,
			s.ID, s.TenantID, s.AgentID, s.RecordedAt.UTC(), s.ErrorRate,
			s.AvgCostUsd, s.SessionCount)
	}
	results := p.pool.SendBatch(ctx, batch)
	for range scores {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return mapError(err)
		}
	}
	return results.Close()
}

func (p *PGStore) ListHealthScores(ctx context.Context, tenantID, agentID string) ([]*models.HealthScore, error) {
	query := `
		SELECT id, tenant_id, agent_id, recorded_at, error_rate, avg_cost_usd, session_count
		FROM health_scores
		WHERE tenant_id = $1`
	args := []any{tenantID}
	if agentID != "" {
		query += " AND agent_id = $2"
		args = append(args, agentID)
	}
	query += " ORDER BY recorded_at DESC"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, func(row rowScanner) (*models.HealthScore, error) {
		var s models.HealthScore
		if err := row.Scan(&s.ID, &s.TenantID, &s.AgentID, &s.RecordedAt,
			&s.ErrorRate, &s.AvgCostUsd, &s.SessionCount); err != nil {
			return nil, err
		}
		s.RecordedAt = s.RecordedAt.UTC()
		return &s, nil
	})
}
