package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/models"
)

// isSecretKey reports whether a config key holds a secret. Secrets are
// stored hashed and never returned by GET.
func isSecretKey(key string) bool {
	return strings.HasSuffix(key, "Secret") || strings.HasSuffix(key, "_secret")
}

// getConfigHandler handles GET /api/config. Secret values are replaced by a
// "<key>Set" boolean.
func (s *Server) getConfigHandler(c *echo.Context) error {
	values, err := tenantFrom(c).ListConfigValues(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}

	out := make(map[string]any, len(values))
	for k, v := range values {
		if isSecretKey(k) {
			out[k+"Set"] = v != ""
			continue
		}
		out[k] = v
	}
	return c.JSON(http.StatusOK, out)
}

// putConfigHandler handles PUT /api/config. Secrets are hashed before they
// are stored; a blank secret value clears it.
func (s *Server) putConfigHandler(c *echo.Context) error {
	var req configPutRequest
	if err := c.Bind(&req); err != nil {
		return httpError(http.StatusBadRequest, "invalid request body", nil)
	}
	if len(req) == 0 {
		return httpError(http.StatusBadRequest, "no config values provided", nil)
	}

	key := callerFrom(c)
	ts := tenantFrom(c)
	ctx := c.Request().Context()

	var updated []string
	for k, v := range req {
		if k == "" {
			return httpError(http.StatusBadRequest, "config keys must not be empty", nil)
		}
		if isSecretKey(k) && v != "" {
			v = HashKey(v)
		}
		if err := ts.SetConfigValue(ctx, k, v); err != nil {
			return mapServiceError(err)
		}
		updated = append(updated, k)
	}

	entry := &models.AuditLogEntry{
		ID:        uuid.New().String(),
		Action:    "config_updated",
		KeyID:     key.ID,
		Details:   map[string]any{"keys": updated},
		CreatedAt: time.Now().UTC(),
	}
	if err := ts.AppendAuditLog(ctx, entry); err != nil {
		return mapServiceError(err)
	}

	return c.NoContent(http.StatusNoContent)
}
