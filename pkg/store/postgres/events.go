package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
)

// InsertEvents commits a batch and its session/agent aggregates in one
// transaction. Session rows for the touched sessions are locked FOR UPDATE
// so concurrent batches serialize their aggregate updates.
func (p *PGStore) InsertEvents(ctx context.Context, tenantID string, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Group by session preserving batch order within each.
	bySession := map[string][]*models.Event{}
	var sessionIDs []string
	for _, e := range events {
		if _, seen := bySession[e.SessionID]; !seen {
			sessionIDs = append(sessionIDs, e.SessionID)
		}
		bySession[e.SessionID] = append(bySession[e.SessionID], e)
	}

	type agentTouch struct {
		name        string
		lastSeen    time.Time
		newSessions int64
	}
	agentTouches := map[string]*agentTouch{}

	for _, sessionID := range sessionIDs {
		sessionEvents := bySession[sessionID]

		session, err := p.lockSession(ctx, tx, tenantID, sessionID)
		if err != nil {
			return err
		}
		isNew := session == nil
		if isNew {
			session = store.NewSessionFromEvent(sessionEvents[0])
		}
		for _, e := range sessionEvents {
			store.ApplyEventToSession(session, e)
		}
		if err := upsertSessionTx(ctx, tx, session); err != nil {
			return err
		}

		for _, e := range sessionEvents {
			touch := agentTouches[e.AgentID]
			if touch == nil {
				touch = &agentTouch{}
				agentTouches[e.AgentID] = touch
			}
			if e.Timestamp.After(touch.lastSeen) {
				touch.lastSeen = e.Timestamp
			}
			if e.EventType == models.EventSessionStarted {
				var sp models.SessionStartedPayload
				if e.DecodePayload(&sp) == nil && sp.AgentName != "" {
					touch.name = sp.AgentName
				}
			}
		}
		if isNew {
			if touch := agentTouches[sessionEvents[0].AgentID]; touch != nil {
				touch.newSessions++
			}
		}
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO events (`+eventColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			e.ID, e.Timestamp.UTC(), e.SessionID, e.AgentID, tenantID,
			string(e.EventType), string(e.Severity), e.Payload, e.Metadata,
			e.PrevHash, e.Hash)
	}
	results := tx.SendBatch(ctx, batch)
	for range events {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return mapError(err)
		}
	}
	if err := results.Close(); err != nil {
		return mapError(err)
	}

	for agentID, touch := range agentTouches {
		_, err := tx.Exec(ctx, `
			INSERT INTO agents (id, tenant_id, name, first_seen_at, last_seen_at, session_count)
			VALUES ($1, $2, $3, $4, $4, $5)
			ON CONFLICT (tenant_id, id) DO UPDATE SET
				name          = COALESCE(NULLIF(EXCLUDED.name, ''), agents.name),
				last_seen_at  = GREATEST(agents.last_seen_at, EXCLUDED.last_seen_at),
				session_count = agents.session_count + $5`,
			agentID, tenantID, touch.name, touch.lastSeen.UTC(), touch.newSessions)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (p *PGStore) lockSession(ctx context.Context, tx pgx.Tx, tenantID, sessionID string) (*models.Session, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE`, tenantID, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if mapError(err) == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

func (p *PGStore) GetEvent(ctx context.Context, tenantID, id string) (*models.Event, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	e, err := scanEvent(row)
	if err != nil {
		return nil, mapError(err)
	}
	return e, nil
}

func (p *PGStore) QueryEvents(ctx context.Context, tenantID string, f models.EventFilter) ([]*models.Event, int64, error) {
	w := eventWhere(tenantID, f)

	var total int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events"+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dir := "DESC"
	if f.Order == "asc" {
		dir = "ASC"
	}
	query := fmt.Sprintf("SELECT %s FROM events%s ORDER BY timestamp %s, id %s",
		eventColumns, w.sql(), dir, dir)
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
	events, err := collectRows(rows, scanEvent)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (p *PGStore) GetSessionTimeline(ctx context.Context, tenantID, sessionID string) ([]*models.Event, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE tenant_id = $1 AND session_id = $2
		ORDER BY timestamp ASC, id ASC`, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, scanEvent)
}

func (p *PGStore) GetChainTip(ctx context.Context, tenantID, sessionID string) (*store.ChainTip, error) {
	var tip store.ChainTip
	err := p.pool.QueryRow(ctx, `
		SELECT hash, timestamp FROM events
		WHERE tenant_id = $1 AND session_id = $2
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`, tenantID, sessionID).Scan(&tip.Hash, &tip.Timestamp)
	if err != nil {
		if mapError(err) == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	tip.Timestamp = tip.Timestamp.UTC()
	return &tip, nil
}

func (p *PGStore) CountEvents(ctx context.Context, tenantID string, f models.EventFilter) (int64, error) {
	w := eventWhere(tenantID, f)
	var total int64
	err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events"+w.sql(), w.args...).Scan(&total)
	return total, err
}

// CountEventsBatch produces the severity breakdown in a single scan.
// Critical and error counts are exclusive; tool_error counts separately.
func (p *PGStore) CountEventsBatch(ctx context.Context, tenantID string, f models.EventFilter) (models.EventCounts, error) {
	w := eventWhere(tenantID, f)
	var c models.EventCounts
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE severity = 'error'),
		       COUNT(*) FILTER (WHERE severity = 'critical'),
		       COUNT(*) FILTER (WHERE event_type = 'tool_error')
		FROM events`+w.sql(), w.args...).
		Scan(&c.Total, &c.Errors, &c.Critical, &c.ToolError)
	return c, err
}

// ApplyRetention deletes events older than cutoff.
func (p *PGStore) ApplyRetention(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM events WHERE tenant_id = $1 AND timestamp < $2`,
		tenantID, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ApplyAuditRetention deletes audit rows older than cutoff by created_at.
func (p *PGStore) ApplyAuditRetention(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM audit_log WHERE tenant_id = $1 AND created_at < $2`,
		tenantID, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
