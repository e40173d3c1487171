package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agentlens/agentlens/pkg/models"
)

func upsertSessionTx(ctx context.Context, tx pgx.Tx, s *models.Session) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			agent_name          = EXCLUDED.agent_name,
			ended_at            = EXCLUDED.ended_at,
			status              = EXCLUDED.status,
			event_count         = EXCLUDED.event_count,
			tool_call_count     = EXCLUDED.tool_call_count,
			error_count         = EXCLUDED.error_count,
			llm_call_count      = EXCLUDED.llm_call_count,
			total_input_tokens  = EXCLUDED.total_input_tokens,
			total_output_tokens = EXCLUDED.total_output_tokens,
			total_cost_usd      = EXCLUDED.total_cost_usd,
			tags                = EXCLUDED.tags`,
		s.ID, s.TenantID, s.AgentID, s.AgentName, s.StartedAt.UTC(), s.EndedAt,
		string(s.Status), s.EventCount, s.ToolCallCount, s.ErrorCount,
		s.LLMCallCount, s.TotalInputTokens, s.TotalOutputTokens, s.TotalCostUsd,
		s.Tags)
	return err
}

func (p *PGStore) UpsertSession(ctx context.Context, session *models.Session) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := upsertSessionTx(ctx, tx, session); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PGStore) GetSession(ctx context.Context, tenantID, id string) (*models.Session, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	s, err := scanSession(row)
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}

func (p *PGStore) QuerySessions(ctx context.Context, tenantID string, f models.SessionFilter) ([]*models.Session, int64, error) {
	w := &where{}
	cond := func(clause string, arg any) {
		w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)+1))
		w.args = append(w.args, arg)
	}
	cond("tenant_id = $%d", tenantID)
	if f.AgentID != "" {
		cond("agent_id = $%d", f.AgentID)
	}
	if f.Status != "" {
		cond("status = $%d", string(f.Status))
	}
	if f.From != nil {
		cond("started_at >= $%d", f.From.UTC())
	}
	if f.To != nil {
		cond("started_at < $%d", f.To.UTC())
	}
	if len(f.Tags) > 0 {
		cond("tags @> $%d", f.Tags)
	}

	var total int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sessions"+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + sessionColumns + " FROM sessions" + w.sql() + " ORDER BY started_at DESC, id DESC"
	args := w.args
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, f.Offset)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	sessions, err := collectRows(rows, scanSession)
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

const agentColumns = "id, tenant_id, name, description, first_seen_at, last_seen_at, session_count"

func scanAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.Description,
		&a.FirstSeenAt, &a.LastSeenAt, &a.SessionCount)
	if err != nil {
		return nil, err
	}
	a.FirstSeenAt = a.FirstSeenAt.UTC()
	a.LastSeenAt = a.LastSeenAt.UTC()
	return &a, nil
}

func (p *PGStore) UpsertAgent(ctx context.Context, agent *models.Agent) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name          = EXCLUDED.name,
			description   = EXCLUDED.description,
			last_seen_at  = EXCLUDED.last_seen_at,
			session_count = EXCLUDED.session_count`,
		agent.ID, agent.TenantID, agent.Name, agent.Description,
		agent.FirstSeenAt.UTC(), agent.LastSeenAt.UTC(), agent.SessionCount)
	return err
}

func (p *PGStore) GetAgent(ctx context.Context, tenantID, id string) (*models.Agent, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func (p *PGStore) ListAgents(ctx context.Context, tenantID string) ([]*models.Agent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE tenant_id = $1
		ORDER BY last_seen_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, scanAgent)
}

// GetAnalytics buckets activity by hour or day. Latency averages come from
// llm_response payloads; cost sums from llm_response and cost_tracked.
func (p *PGStore) GetAnalytics(ctx context.Context, tenantID string, q models.AnalyticsQuery) (*models.Analytics, error) {
	trunc := "day"
	if q.Granularity == "hour" {
		trunc = "hour"
	}

	w := &where{}
	cond := func(clause string, arg any) {
		w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)+1))
		w.args = append(w.args, arg)
	}
	cond("tenant_id = $%d", tenantID)
	cond("timestamp >= $%d", q.From.UTC())
	cond("timestamp < $%d", q.To.UTC())
	if q.AgentID != "" {
		cond("agent_id = $%d", q.AgentID)
	}

	query := fmt.Sprintf(`
		SELECT date_trunc('%s', timestamp AT TIME ZONE 'UTC') AT TIME ZONE 'UTC' AS bucket,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE event_type = 'tool_call'),
		       COUNT(*) FILTER (WHERE event_type = 'tool_error' OR severity IN ('error', 'critical')),
		       COALESCE(AVG((payload->>'latencyMs')::double precision)
		           FILTER (WHERE event_type = 'llm_response' AND (payload->>'latencyMs')::double precision > 0), 0),
		       COALESCE(SUM((payload->>'costUsd')::double precision)
		           FILTER (WHERE event_type IN ('llm_response', 'cost_tracked')), 0)
		FROM events%s
		GROUP BY bucket
		ORDER BY bucket ASC`, trunc, w.sql())

	rows, err := p.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := &models.Analytics{}
	var weightedLatency float64
	var latencyBuckets int64

	for rows.Next() {
		var b models.AnalyticsBucket
		if err := rows.Scan(&b.Start, &b.EventCount, &b.ToolCallCount, &b.ErrorCount,
			&b.AvgLatencyMs, &b.TotalCostUsd); err != nil {
			return nil, err
		}
		b.Start = b.Start.UTC()
		out.Buckets = append(out.Buckets, b)
		out.EventCount += b.EventCount
		out.ToolCallCount += b.ToolCallCount
		out.ErrorCount += b.ErrorCount
		out.TotalCostUsd += b.TotalCostUsd
		if b.AvgLatencyMs > 0 {
			weightedLatency += b.AvgLatencyMs
			latencyBuckets++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if latencyBuckets > 0 {
		out.AvgLatencyMs = weightedLatency / float64(latencyBuckets)
	}

	// Distinct sessions/agents must be counted over the whole range, not
	// summed per bucket.
	err = p.pool.QueryRow(ctx,
		"SELECT COUNT(DISTINCT session_id), COUNT(DISTINCT agent_id) FROM events"+w.sql(),
		w.args...).Scan(&out.UniqueSessions, &out.UniqueAgents)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PGStore) GetStats(ctx context.Context, tenantID string) (*models.TenantStats, error) {
	stats := &models.TenantStats{}
	err := p.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM events   WHERE tenant_id = $1),
		       (SELECT COUNT(*) FROM sessions WHERE tenant_id = $1),
		       (SELECT COUNT(*) FROM agents   WHERE tenant_id = $1)`,
		tenantID).Scan(&stats.Events, &stats.Sessions, &stats.Agents)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
