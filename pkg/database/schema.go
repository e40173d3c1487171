package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaSQL is the embedded DDL, applied on startup. Every statement is
// idempotent. The events table is partitioned by month on timestamp; the
// DEFAULT partition catches rows outside the maintained window so inserts
// never fail while the partition manager converges.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
	id           TEXT        NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL,
	session_id   TEXT        NOT NULL,
	agent_id     TEXT        NOT NULL,
	tenant_id    TEXT        NOT NULL,
	event_type   TEXT        NOT NULL,
	severity     TEXT        NOT NULL,
	payload      JSONB       NOT NULL DEFAULT '{}',
	metadata     JSONB       NOT NULL DEFAULT '{}',
	prev_hash    TEXT,
	hash         TEXT        NOT NULL,
	PRIMARY KEY (id, timestamp)
) PARTITION BY RANGE (timestamp);

CREATE TABLE IF NOT EXISTS events_default PARTITION OF events DEFAULT;

CREATE INDEX IF NOT EXISTS idx_events_tenant_ts
	ON events (tenant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_tenant_session_ts
	ON events (tenant_id, session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_tenant_agent_type_ts
	ON events (tenant_id, agent_id, event_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_tenant_session_hash
	ON events (tenant_id, session_id, hash);

CREATE TABLE IF NOT EXISTS sessions (
	id                  TEXT        NOT NULL,
	tenant_id           TEXT        NOT NULL,
	agent_id            TEXT        NOT NULL,
	agent_name          TEXT        NOT NULL DEFAULT '',
	started_at          TIMESTAMPTZ NOT NULL,
	ended_at            TIMESTAMPTZ,
	status              TEXT        NOT NULL DEFAULT 'active',
	event_count         BIGINT      NOT NULL DEFAULT 0,
	tool_call_count     BIGINT      NOT NULL DEFAULT 0,
	error_count         BIGINT      NOT NULL DEFAULT 0,
	llm_call_count      BIGINT      NOT NULL DEFAULT 0,
	total_input_tokens  BIGINT      NOT NULL DEFAULT 0,
	total_output_tokens BIGINT      NOT NULL DEFAULT 0,
	total_cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
	tags                TEXT[]      NOT NULL DEFAULT '{}',
	PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_tenant_agent
	ON sessions (tenant_id, agent_id, started_at);
CREATE INDEX IF NOT EXISTS idx_sessions_tenant_status
	ON sessions (tenant_id, status);

CREATE TABLE IF NOT EXISTS agents (
	id            TEXT        NOT NULL,
	tenant_id     TEXT        NOT NULL,
	name          TEXT        NOT NULL DEFAULT '',
	description   TEXT        NOT NULL DEFAULT '',
	first_seen_at TIMESTAMPTZ NOT NULL,
	last_seen_at  TIMESTAMPTZ NOT NULL,
	session_count BIGINT      NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS alert_rules (
	id             TEXT        NOT NULL,
	tenant_id      TEXT        NOT NULL,
	name           TEXT        NOT NULL,
	event_type     TEXT,
	min_severity   TEXT,
	threshold      BIGINT      NOT NULL DEFAULT 1,
	window_seconds BIGINT      NOT NULL DEFAULT 60,
	enabled        BOOLEAN     NOT NULL DEFAULT TRUE,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS alert_history (
	id           TEXT        NOT NULL,
	tenant_id    TEXT        NOT NULL,
	rule_id      TEXT        NOT NULL,
	triggered_at TIMESTAMPTZ NOT NULL,
	resolved_at  TIMESTAMPTZ,
	value        BIGINT      NOT NULL DEFAULT 0,
	session_id   TEXT        NOT NULL DEFAULT '',
	PRIMARY KEY (tenant_id, id),
	FOREIGN KEY (tenant_id, rule_id)
		REFERENCES alert_rules (tenant_id, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_alert_history_rule
	ON alert_history (tenant_id, rule_id, triggered_at DESC);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT        NOT NULL,
	tenant_id  TEXT        NOT NULL,
	action     TEXT        NOT NULL,
	key_id     TEXT        NOT NULL DEFAULT '',
	details    JSONB       NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_audit_log_tenant_created
	ON audit_log (tenant_id, created_at DESC);

CREATE TABLE IF NOT EXISTS config_kv (
	tenant_id TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     TEXT NOT NULL,
	PRIMARY KEY (tenant_id, key)
);

CREATE TABLE IF NOT EXISTS api_keys (
	id         TEXT        NOT NULL,
	tenant_id  TEXT        NOT NULL,
	org_id     TEXT        NOT NULL,
	name       TEXT        NOT NULL DEFAULT '',
	key_hash   TEXT        NOT NULL,
	role       TEXT        NOT NULL,
	scopes     TEXT[]      NOT NULL DEFAULT '{}',
	tier       TEXT        NOT NULL DEFAULT 'free',
	rate_limit BIGINT      NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (id),
	UNIQUE (key_hash)
);

CREATE TABLE IF NOT EXISTS health_scores (
	id            TEXT        NOT NULL,
	tenant_id     TEXT        NOT NULL,
	agent_id      TEXT        NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL,
	error_rate    DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_cost_usd  DOUBLE PRECISION NOT NULL DEFAULT 0,
	session_count BIGINT      NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_health_scores_agent
	ON health_scores (tenant_id, agent_id, recorded_at DESC);

CREATE TABLE IF NOT EXISTS capabilities (
	id            TEXT        NOT NULL,
	tenant_id     TEXT        NOT NULL,
	agent_id      TEXT        NOT NULL,
	name          TEXT        NOT NULL,
	description   TEXT        NOT NULL DEFAULT '',
	first_seen_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_capabilities_agent
	ON capabilities (tenant_id, agent_id);

CREATE TABLE IF NOT EXISTS trust_scores (
	tenant_id  TEXT        NOT NULL,
	agent_id   TEXT        NOT NULL,
	score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, agent_id)
);

CREATE TABLE IF NOT EXISTS guardrail_rules (
	id               TEXT        NOT NULL,
	tenant_id        TEXT        NOT NULL,
	name             TEXT        NOT NULL,
	tool_name        TEXT        NOT NULL,
	require_approval BOOLEAN     NOT NULL DEFAULT TRUE,
	enabled          BOOLEAN     NOT NULL DEFAULT TRUE,
	created_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
`

// ApplySchema creates all tables and indexes.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
