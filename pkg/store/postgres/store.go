// Package postgres implements the store contract on PostgreSQL via pgx,
// with the events table partitioned by month on timestamp.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
)

const pgUniqueViolation = "23505"

// PGStore is the PostgreSQL store backend.
type PGStore struct {
	pool *pgxpool.Pool
}

// Interface conformance.
var (
	_ store.Store            = (*PGStore)(nil)
	_ store.PartitionedStore = (*PGStore)(nil)
)

// New creates a store over an open connection pool. The schema must already
// be applied (pkg/database does this on startup).
func New(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return store.ErrAlreadyExists
	}
	return err
}

// where accumulates a dynamic WHERE clause with positional args.
type where struct {
	clauses []string
	args    []any
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// eventWhere translates an EventFilter to SQL. Time ranges are From
// inclusive, To exclusive, matching the in-memory backend.
func eventWhere(tenantID string, f models.EventFilter) *where {
	w := &where{}
	w.clauses = append(w.clauses, fmt.Sprintf("tenant_id = $%d", len(w.args)+1))
	w.args = append(w.args, tenantID)

	cond := func(clause string, arg any) {
		w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)+1))
		w.args = append(w.args, arg)
	}

	if f.SessionID != "" {
		cond("session_id = $%d", f.SessionID)
	}
	if f.AgentID != "" {
		cond("agent_id = $%d", f.AgentID)
	}
	if len(f.EventTypes) > 0 {
		types := make([]string, 0, len(f.EventTypes))
		for _, t := range f.EventTypes {
			types = append(types, string(t))
		}
		cond("event_type = ANY($%d)", types)
	}
	if len(f.Severities) > 0 {
		sevs := make([]string, 0, len(f.Severities))
		for _, s := range f.Severities {
			sevs = append(sevs, string(s))
		}
		cond("severity = ANY($%d)", sevs)
	}
	if f.From != nil {
		cond("timestamp >= $%d", f.From.UTC())
	}
	if f.To != nil {
		cond("timestamp < $%d", f.To.UTC())
	}
	if f.Search != "" {
		cond(`payload::text ILIKE $%d ESCAPE '\'`, "%"+escapeLike(f.Search)+"%")
	}
	return w
}

// escapeLike neutralizes LIKE metacharacters so search terms match literally,
// as the in-memory backend's substring match does.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

const eventColumns = "id, timestamp, session_id, agent_id, tenant_id, event_type, severity, payload, metadata, prev_hash, hash"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var e models.Event
	var ts time.Time
	err := row.Scan(&e.ID, &ts, &e.SessionID, &e.AgentID, &e.TenantID,
		&e.EventType, &e.Severity, &e.Payload, &e.Metadata, &e.PrevHash, &e.Hash)
	if err != nil {
		return nil, err
	}
	e.Timestamp = ts.UTC()
	return &e, nil
}

const sessionColumns = "id, tenant_id, agent_id, agent_name, started_at, ended_at, status, event_count, tool_call_count, error_count, llm_call_count, total_input_tokens, total_output_tokens, total_cost_usd, tags"

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var started time.Time
	var ended *time.Time
	err := row.Scan(&s.ID, &s.TenantID, &s.AgentID, &s.AgentName, &started, &ended,
		&s.Status, &s.EventCount, &s.ToolCallCount, &s.ErrorCount, &s.LLMCallCount,
		&s.TotalInputTokens, &s.TotalOutputTokens, &s.TotalCostUsd, &s.Tags)
	if err != nil {
		return nil, err
	}
	s.StartedAt = started.UTC()
	if ended != nil {
		t := ended.UTC()
		s.EndedAt = &t
	}
	return &s, nil
}

func collectRows[T any](rows pgx.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListTenants returns every tenant id with stored data.
func (p *PGStore) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT tenant_id FROM events
		UNION SELECT tenant_id FROM sessions
		UNION SELECT tenant_id FROM api_keys
		UNION SELECT tenant_id FROM config_kv
		ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
