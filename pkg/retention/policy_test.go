package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/store"
)

func TestCutoff(t *testing.T) {
	now := time.Date(2026, 8, 20, 15, 42, 7, 123, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 13, 0, 0, 0, 0, time.UTC), Cutoff(now, 7))

	// Non-UTC input normalizes before truncation.
	cet := time.FixedZone("CET", 3600)
	local := time.Date(2026, 8, 21, 0, 30, 0, 0, cet) // 2026-08-20T23:30Z
	assert.Equal(t, time.Date(2026, 8, 13, 0, 0, 0, 0, time.UTC), Cutoff(local, 7))

	// Crossing a month boundary.
	assert.Equal(t, time.Date(2026, 7, 21, 0, 0, 0, 0, time.UTC), Cutoff(now, 30))
}

func TestResolvePolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("unset tenant defaults to free", func(t *testing.T) {
		p, err := ResolvePolicy(ctx, store.NewMemStore(), "acme")
		require.NoError(t, err)
		assert.Equal(t, config.TierFree, p.Tier)
		assert.Equal(t, 7, p.EventDays)
		assert.Equal(t, 30, p.AuditDays)
	})

	t.Run("tier from config_kv", func(t *testing.T) {
		st := store.NewMemStore()
		require.NoError(t, st.SetConfigValue(ctx, "acme", ConfigKeyTier, "pro"))

		p, err := ResolvePolicy(ctx, st, "acme")
		require.NoError(t, err)
		assert.Equal(t, config.TierPro, p.Tier)
		assert.Equal(t, 30, p.EventDays)
		assert.Equal(t, 90, p.AuditDays)
	})

	t.Run("enterprise override shrinks events only", func(t *testing.T) {
		st := store.NewMemStore()
		require.NoError(t, st.SetConfigValue(ctx, "acme", ConfigKeyTier, "enterprise"))
		require.NoError(t, st.SetConfigValue(ctx, "acme", ConfigKeyRetentionDays, "30"))

		p, err := ResolvePolicy(ctx, st, "acme")
		require.NoError(t, err)
		assert.Equal(t, 30, p.EventDays)
		assert.Equal(t, 365, p.AuditDays, "audit window never shrinks below the tier default")
	})

	t.Run("enterprise override can extend both windows", func(t *testing.T) {
		st := store.NewMemStore()
		require.NoError(t, st.SetConfigValue(ctx, "acme", ConfigKeyTier, "enterprise"))
		require.NoError(t, st.SetConfigValue(ctx, "acme", ConfigKeyRetentionDays, "730"))

		p, err := ResolvePolicy(ctx, st, "acme")
		require.NoError(t, err)
		assert.Equal(t, 730, p.EventDays)
		assert.Equal(t, 730, p.AuditDays)
	})

	t.Run("override ignored below enterprise", func(t *testing.T) {
		st := store.NewMemStore()
		require.NoError(t, st.SetConfigValue(ctx, "acme", ConfigKeyTier, "team"))
		require.NoError(t, st.SetConfigValue(ctx, "acme", ConfigKeyRetentionDays, "9999"))

		p, err := ResolvePolicy(ctx, st, "acme")
		require.NoError(t, err)
		assert.Equal(t, 90, p.EventDays)
	})

	t.Run("malformed override ignored", func(t *testing.T) {
		st := store.NewMemStore()
		require.NoError(t, st.SetConfigValue(ctx, "acme", ConfigKeyTier, "enterprise"))
		require.NoError(t, st.SetConfigValue(ctx, "acme", ConfigKeyRetentionDays, "soon"))

		p, err := ResolvePolicy(ctx, st, "acme")
		require.NoError(t, err)
		assert.Equal(t, 365, p.EventDays)
	})
}
