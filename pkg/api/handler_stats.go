package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/models"
)

// statsHandler handles GET /api/stats: per-tenant entity totals.
func (s *Server) statsHandler(c *echo.Context) error {
	stats, err := tenantFrom(c).GetStats(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// statsOverviewHandler handles GET /api/stats/overview: totals plus error
// counts over an optional window (default last 24h) and active session count.
func (s *Server) statsOverviewHandler(c *echo.Context) error {
	from, err := parseTimeParam(c, "from")
	if err != nil {
		return err
	}
	to, err := parseTimeParam(c, "to")
	if err != nil {
		return err
	}
	if from == nil {
		t := time.Now().UTC().Add(-24 * time.Hour)
		from = &t
	}

	ts := tenantFrom(c)
	ctx := c.Request().Context()

	stats, err := ts.GetStats(ctx)
	if err != nil {
		return mapServiceError(err)
	}
	counts, err := ts.CountEventsBatch(ctx, models.EventFilter{From: from, To: to})
	if err != nil {
		return mapServiceError(err)
	}
	_, active, err := ts.QuerySessions(ctx, models.SessionFilter{
		Status: models.SessionActive,
		Limit:  1,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, overviewResponse{
		Stats:          stats,
		Counts:         counts,
		ActiveSessions: active,
	})
}

// analyticsHandler handles GET /api/analytics.
func (s *Server) analyticsHandler(c *echo.Context) error {
	from, err := parseTimeParam(c, "from")
	if err != nil {
		return err
	}
	to, err := parseTimeParam(c, "to")
	if err != nil {
		return err
	}
	if from == nil || to == nil {
		return httpError(http.StatusBadRequest, "from and to are required", nil)
	}
	if !from.Before(*to) {
		return httpError(http.StatusBadRequest, "from must precede to", nil)
	}

	q := models.AnalyticsQuery{
		From:        *from,
		To:          *to,
		Granularity: c.QueryParam("granularity"),
		AgentID:     c.QueryParam("agentId"),
	}
	switch q.Granularity {
	case "":
		q.Granularity = "hour"
	case "hour", "day":
	default:
		return httpError(http.StatusBadRequest, "invalid granularity: must be hour or day", nil)
	}

	analytics, err := tenantFrom(c).GetAnalytics(c.Request().Context(), q)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, analytics)
}
