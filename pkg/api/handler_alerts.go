package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/models"
)

// bindAlertRule validates a rule request body into a model, leaving identity
// fields for the caller to fill.
func bindAlertRule(c *echo.Context) (*models.AlertRule, error) {
	var req alertRuleRequest
	if err := c.Bind(&req); err != nil {
		return nil, httpError(http.StatusBadRequest, "invalid request body", nil)
	}
	if req.Name == "" {
		return nil, httpError(http.StatusBadRequest, "name is required", nil)
	}
	if req.Threshold < 1 {
		return nil, httpError(http.StatusBadRequest, "threshold must be at least 1", nil)
	}
	if req.WindowSeconds < 1 {
		return nil, httpError(http.StatusBadRequest, "windowSeconds must be at least 1", nil)
	}

	rule := &models.AlertRule{
		Name:          req.Name,
		Threshold:     req.Threshold,
		WindowSeconds: req.WindowSeconds,
		Enabled:       req.Enabled,
	}
	if req.EventType != nil {
		t := models.EventType(*req.EventType)
		if !t.Valid() {
			return nil, httpError(http.StatusBadRequest, "invalid eventType: "+*req.EventType, nil)
		}
		rule.EventType = &t
	}
	if req.MinSeverity != nil {
		sev := models.Severity(*req.MinSeverity)
		if !sev.Valid() {
			return nil, httpError(http.StatusBadRequest, "invalid minSeverity: "+*req.MinSeverity, nil)
		}
		rule.MinSeverity = &sev
	}
	return rule, nil
}

// listAlertRulesHandler handles GET /api/alerts/rules.
func (s *Server) listAlertRulesHandler(c *echo.Context) error {
	rules, err := tenantFrom(c).ListAlertRules(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, rules)
}

// createAlertRuleHandler handles POST /api/alerts/rules.
func (s *Server) createAlertRuleHandler(c *echo.Context) error {
	rule, err := bindAlertRule(c)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rule.ID = uuid.New().String()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	// The scoped store stamps the tenant on the way in.
	if err := tenantFrom(c).CreateAlertRule(c.Request().Context(), rule); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, rule)
}

// getAlertRuleHandler handles GET /api/alerts/rules/:id.
func (s *Server) getAlertRuleHandler(c *echo.Context) error {
	rule, err := tenantFrom(c).GetAlertRule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, rule)
}

// updateAlertRuleHandler handles PUT /api/alerts/rules/:id.
func (s *Server) updateAlertRuleHandler(c *echo.Context) error {
	rule, err := bindAlertRule(c)
	if err != nil {
		return err
	}

	ts := tenantFrom(c)
	ctx := c.Request().Context()

	existing, err := ts.GetAlertRule(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	if err := ts.UpdateAlertRule(ctx, rule); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, rule)
}

// deleteAlertRuleHandler handles DELETE /api/alerts/rules/:id. History rows
// cascade with the rule.
func (s *Server) deleteAlertRuleHandler(c *echo.Context) error {
	if err := tenantFrom(c).DeleteAlertRule(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// alertRuleHistoryHandler handles GET /api/alerts/rules/:id/history.
func (s *Server) alertRuleHistoryHandler(c *echo.Context) error {
	limit, err := parseIntParam(c, "limit", 100)
	if err != nil {
		return err
	}

	ts := tenantFrom(c)
	ctx := c.Request().Context()

	// 404 for an unknown rule rather than an empty list.
	if _, err := ts.GetAlertRule(ctx, c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	history, err := ts.ListAlertHistory(ctx, c.Param("id"), limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, history)
}
