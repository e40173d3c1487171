package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/otlp"
	"github.com/agentlens/agentlens/pkg/store"
)

// otlpHandlerFunc is one of the receiver's three signal entry points.
type otlpHandlerFunc func(ctx context.Context, contentType string, body []byte, authedTenant string) (int, error)

func (s *Server) otlpTracesHandler(c *echo.Context) error {
	return s.handleOTLP(c, s.receiver.HandleTraces)
}

func (s *Server) otlpMetricsHandler(c *echo.Context) error {
	return s.handleOTLP(c, s.receiver.HandleMetrics)
}

func (s *Server) otlpLogsHandler(c *echo.Context) error {
	return s.handleOTLP(c, s.receiver.HandleLogs)
}

// handleOTLP applies the receiver's IP limit, auth, and body cap, then
// dispatches the decoded export. A platform API key used as the bearer token
// pins the tenant; otherwise the shared token (if configured) is checked and
// tenant resolution falls through to resource attributes.
func (s *Server) handleOTLP(c *echo.Context, handle otlpHandlerFunc) error {
	if err := s.receiver.CheckIP(c.RealIP()); err != nil {
		var rateErr *otlp.RateLimitedError
		if errors.As(err, &rateErr) {
			secs := int(rateErr.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		}
		return mapOTLPError(err)
	}

	authedTenant, err := s.otlpTenant(c)
	if err != nil {
		return mapOTLPError(err)
	}

	req := c.Request()
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), req.Body, s.receiver.MaxBodyBytes()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return httpError(http.StatusRequestEntityTooLarge, "request body exceeds size cap", nil)
		}
		return httpError(http.StatusBadRequest, "failed to read request body", nil)
	}

	inserted, err := handle(req.Context(), req.Header.Get("Content-Type"), body, authedTenant)
	if err != nil {
		return mapOTLPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"inserted": inserted})
}

// otlpTenant resolves the auth-context tenant for an OTLP request. Returns
// "" when the request carries no tenant-bearing credential.
func (s *Server) otlpTenant(c *echo.Context) (string, error) {
	header := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		secret := strings.TrimPrefix(header, "Bearer ")
		key, err := s.store.GetAPIKeyByHash(c.Request().Context(), HashKey(secret))
		if err == nil {
			return key.TenantID, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	return "", s.receiver.Authorize(header)
}
