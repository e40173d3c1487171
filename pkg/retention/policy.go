// Package retention enforces per-tier data lifetimes: a periodic purge job
// over events and audit logs, and month-partition maintenance for backends
// that partition by timestamp.
package retention

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/store"
)

// Config keys a tenant may set in config_kv.
const (
	ConfigKeyTier          = "tier"
	ConfigKeyRetentionDays = "retention_days"
)

// Policy is the resolved retention for one tenant.
type Policy struct {
	Tier      config.Tier
	EventDays int
	AuditDays int
}

// Cutoff computes the purge boundary: now minus the retention window,
// truncated to UTC midnight.
func Cutoff(now time.Time, days int) time.Time {
	t := now.UTC().AddDate(0, 0, -days)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ResolvePolicy reads a tenant's tier and optional retention override from
// config_kv. Only enterprise tenants may override event retention; the audit
// window never shrinks below the tier default.
func ResolvePolicy(ctx context.Context, s store.Store, tenantID string) (Policy, error) {
	tier := config.TierFree
	if v, err := s.GetConfigValue(ctx, tenantID, ConfigKeyTier); err == nil {
		tier = config.ParseTier(v)
	} else if !errors.Is(err, store.ErrNotFound) {
		return Policy{}, err
	}

	base := config.RetentionFor(tier)
	p := Policy{Tier: tier, EventDays: base.EventDays, AuditDays: base.AuditDays}

	if base.Overridable {
		if v, err := s.GetConfigValue(ctx, tenantID, ConfigKeyRetentionDays); err == nil {
			if days, convErr := strconv.Atoi(v); convErr == nil && days > 0 {
				p.EventDays = days
				if days > p.AuditDays {
					p.AuditDays = days
				}
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return Policy{}, err
		}
	}
	return p, nil
}
