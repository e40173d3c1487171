package models

import "time"

// AlertRule is a tenant-scoped threshold rule evaluated after each committed
// batch: count events matching (eventType, minSeverity) inside the trailing
// window; at or above Threshold the rule fires.
type AlertRule struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	Name          string     `json:"name"`
	EventType     *EventType `json:"eventType,omitempty"`
	MinSeverity   *Severity  `json:"minSeverity,omitempty"`
	Threshold     int64      `json:"threshold"`
	WindowSeconds int64      `json:"windowSeconds"`
	Enabled       bool       `json:"enabled"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// AlertHistory records one firing of a rule. Rows cascade on rule deletion.
type AlertHistory struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	RuleID      string     `json:"ruleId"`
	TriggeredAt time.Time  `json:"triggeredAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	Value       int64      `json:"value"`
	SessionID   string     `json:"sessionId,omitempty"`
}

// Matches reports whether a rule's predicate selects the event.
func (r *AlertRule) Matches(e *Event) bool {
	if r.EventType != nil && e.EventType != *r.EventType {
		return false
	}
	if r.MinSeverity != nil && severityRank(e.Severity) < severityRank(*r.MinSeverity) {
		return false
	}
	return true
}

func severityRank(s Severity) int {
	switch s {
	case SeverityDebug:
		return 0
	case SeverityInfo:
		return 1
	case SeverityWarn:
		return 2
	case SeverityError:
		return 3
	case SeverityCritical:
		return 4
	}
	return -1
}

// SeverityRank exposes the severity ordering for range filters.
func SeverityRank(s Severity) int { return severityRank(s) }

// AuditLogEntry records a sensitive operation (report generation, export,
// config change) for the tenant's audit trail. Retention uses CreatedAt.
type AuditLogEntry struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	Action    string         `json:"action"`
	KeyID     string         `json:"keyId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// APIKey is the stored form of a bearer key: only the SHA-256 hash of the
// secret is persisted.
type APIKey struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	OrgID     string    `json:"orgId"`
	Name      string    `json:"name,omitempty"`
	KeyHash   string    `json:"-"`
	Role      string    `json:"role"`
	Scopes    []string  `json:"scopes"`
	Tier      string    `json:"tier"`
	RateLimit int64     `json:"rateLimit,omitempty"` // per-key override, 0 = tier default
	CreatedAt time.Time `json:"createdAt"`
}
