package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/database"
	"github.com/agentlens/agentlens/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access. Only
// the process's own components are checked: the database pool (when running
// on postgres) and the partition window.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.dbPool != nil {
		if _, err := database.Health(reqCtx, s.dbPool); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	} else {
		checks["store"] = HealthCheck{Status: healthStatusHealthy, Message: "in-memory"}
	}

	if s.partitions != nil {
		ph, err := s.partitions.Health(reqCtx)
		switch {
		case err != nil:
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["partitions"] = HealthCheck{Status: healthStatusDegraded, Message: err.Error()}
		case !ph.Healthy:
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["partitions"] = HealthCheck{Status: healthStatusDegraded, Message: "partition window incomplete"}
		default:
			checks["partitions"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	code := http.StatusOK
	if status == healthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{
		"status":  status,
		"version": version.Full(),
		"checks":  checks,
	})
}
