package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/ingest"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/retention"
	"github.com/agentlens/agentlens/pkg/store"
)

// Scopes an API key can carry.
const (
	ScopeRead    = "read"
	ScopeWrite   = "write"
	ScopeManage  = "manage"
	ScopeAudit   = "audit"
	ScopeBilling = "billing"
	ScopeAll     = "*"
)

// roleScopes maps a key's role to its default scope set, used when the key
// carries no explicit scopes.
var roleScopes = map[string][]string{
	"viewer":  {ScopeRead},
	"member":  {ScopeRead, ScopeWrite},
	"admin":   {ScopeAll},
	"auditor": {ScopeRead, ScopeAudit},
}

const (
	authContextKey  = "agentlens.auth"
	storeContextKey = "agentlens.store"
)

// HashKey returns the stored form of a bearer secret. Only the hash is ever
// persisted or compared.
func HashKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// callerFrom returns the authenticated key set by requireAuth. Panics if the
// route was registered without the auth middleware.
func callerFrom(c *echo.Context) *models.APIKey {
	return c.Get(authContextKey).(*models.APIKey)
}

// tenantFrom returns the store handle scoped to the authenticated tenant.
// Handlers read and write through it, never through the raw store.
func tenantFrom(c *echo.Context) *store.TenantStore {
	return c.Get(storeContextKey).(*store.TenantStore)
}

// ingestCaller converts the authenticated key into the pipeline's caller
// identity.
func ingestCaller(key *models.APIKey) ingest.Caller {
	return ingest.Caller{
		TenantID:    key.TenantID,
		OrgID:       key.OrgID,
		KeyID:       key.ID,
		Tier:        config.ParseTier(key.Tier),
		KeyOverride: key.RateLimit,
	}
}

// requireAuth resolves the bearer key against the store and attaches it to
// the request context.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return httpError(http.StatusUnauthorized, "missing bearer token", nil)
		}
		secret := strings.TrimPrefix(header, "Bearer ")

		key, err := s.store.GetAPIKeyByHash(c.Request().Context(), HashKey(secret))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return httpError(http.StatusUnauthorized, "invalid API key", nil)
			}
			return mapServiceError(err)
		}

		c.Set(authContextKey, key)
		c.Set(storeContextKey, store.ForTenant(s.store, key.TenantID))
		return next(c)
	}
}

// requireScope gates a route on the key's scope set.
func requireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !hasScope(callerFrom(c), scope) {
				return httpError(http.StatusForbidden, "missing required scope: "+scope, nil)
			}
			return next(c)
		}
	}
}

func hasScope(key *models.APIKey, scope string) bool {
	scopes := key.Scopes
	if len(scopes) == 0 {
		scopes = roleScopes[key.Role]
	}
	for _, s := range scopes {
		if s == ScopeAll || s == scope {
			return true
		}
	}
	return false
}

// BootstrapKeys seeds API keys from configuration. Each entry is formatted
// "secret:tenant:org:role:tier". Existing key hashes are left untouched; the
// tenant's tier is recorded in config_kv so retention can resolve it.
func BootstrapKeys(ctx context.Context, st store.Store, entries []string) error {
	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		if len(parts) != 5 {
			return fmt.Errorf("malformed bootstrap key entry (want secret:tenant:org:role:tier): %q", redactEntry(entry))
		}
		secret, tenant, org, role, tier := parts[0], parts[1], parts[2], parts[3], parts[4]
		if secret == "" || tenant == "" {
			return fmt.Errorf("bootstrap key entry needs a secret and tenant: %q", redactEntry(entry))
		}
		if _, ok := roleScopes[role]; !ok {
			return fmt.Errorf("unknown bootstrap key role %q", role)
		}

		key := &models.APIKey{
			ID:        uuid.New().String(),
			TenantID:  tenant,
			OrgID:     org,
			Name:      "bootstrap",
			KeyHash:   HashKey(secret),
			Role:      role,
			Tier:      string(config.ParseTier(tier)),
			CreatedAt: time.Now().UTC(),
		}
		if err := st.CreateAPIKey(ctx, key); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
			return fmt.Errorf("bootstrap key for tenant %s: %w", tenant, err)
		}
		if err := st.SetConfigValue(ctx, tenant, retention.ConfigKeyTier, key.Tier); err != nil {
			return fmt.Errorf("record tier for tenant %s: %w", tenant, err)
		}
		slog.Info("Bootstrap API key ready", "tenant", tenant, "role", role, "tier", key.Tier)
	}
	return nil
}

// redactEntry hides the secret portion of a bootstrap entry in error text.
func redactEntry(entry string) string {
	if i := strings.Index(entry, ":"); i > 0 {
		return "***" + entry[i:]
	}
	return "***"
}
