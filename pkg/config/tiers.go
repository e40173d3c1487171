package config

// Tier is a tenant's plan tier. It drives rate-limit budgets and retention.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierTeam       Tier = "team"
	TierEnterprise Tier = "enterprise"
)

// ParseTier normalizes a tier string, defaulting unknown values to free.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierPro, TierTeam, TierEnterprise:
		return Tier(s)
	}
	return TierFree
}

// RateBudget is a per-minute ingestion budget pair.
type RateBudget struct {
	PerKey int64
	PerOrg int64
}

// rateBudgets are the fixed-window defaults per tier. An explicit per-key
// override on the API key supersedes PerKey.
var rateBudgets = map[Tier]RateBudget{
	TierFree:       {PerKey: 100, PerOrg: 200},
	TierPro:        {PerKey: 5_000, PerOrg: 10_000},
	TierTeam:       {PerKey: 50_000, PerOrg: 100_000},
	TierEnterprise: {PerKey: 50_000, PerOrg: 100_000},
}

// BudgetFor returns the rate budget for a tier.
func BudgetFor(t Tier) RateBudget {
	if b, ok := rateBudgets[t]; ok {
		return b
	}
	return rateBudgets[TierFree]
}

// RetentionPolicy is the per-tier data lifetime, in days.
type RetentionPolicy struct {
	EventDays   int
	AuditDays   int
	Overridable bool // only enterprise may override EventDays
}

var retentionPolicies = map[Tier]RetentionPolicy{
	TierFree:       {EventDays: 7, AuditDays: 30},
	TierPro:        {EventDays: 30, AuditDays: 90},
	TierTeam:       {EventDays: 90, AuditDays: 365},
	TierEnterprise: {EventDays: 365, AuditDays: 365, Overridable: true},
}

// RetentionFor returns the retention policy for a tier.
func RetentionFor(t Tier) RetentionPolicy {
	if p, ok := retentionPolicies[t]; ok {
		return p
	}
	return retentionPolicies[TierFree]
}

// MaxAuditRetentionMonths is the largest audit-log retention across all
// tiers, in months, floored at 12. The partition manager keeps at least this
// many months of history globally.
func MaxAuditRetentionMonths() int {
	maxDays := 0
	for _, p := range retentionPolicies {
		if p.AuditDays > maxDays {
			maxDays = p.AuditDays
		}
	}
	months := (maxDays + 29) / 30
	if months < 12 {
		months = 12
	}
	return months
}
