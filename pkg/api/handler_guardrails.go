package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/models"
)

// listGuardrailsHandler handles GET /api/guardrails.
func (s *Server) listGuardrailsHandler(c *echo.Context) error {
	rules, err := tenantFrom(c).ListGuardrailRules(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, rules)
}

// createGuardrailHandler handles POST /api/guardrails.
func (s *Server) createGuardrailHandler(c *echo.Context) error {
	var req guardrailRuleRequest
	if err := c.Bind(&req); err != nil {
		return httpError(http.StatusBadRequest, "invalid request body", nil)
	}
	if req.Name == "" {
		return httpError(http.StatusBadRequest, "name is required", nil)
	}
	if req.ToolName == "" {
		return httpError(http.StatusBadRequest, "toolName is required", nil)
	}

	rule := &models.GuardrailRule{
		ID:              uuid.New().String(),
		Name:            req.Name,
		ToolName:        req.ToolName,
		RequireApproval: req.RequireApproval,
		Enabled:         req.Enabled,
		CreatedAt:       time.Now().UTC(),
	}
	if err := tenantFrom(c).CreateGuardrailRule(c.Request().Context(), rule); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, rule)
}

// deleteGuardrailHandler handles DELETE /api/guardrails/:id.
func (s *Server) deleteGuardrailHandler(c *echo.Context) error {
	if err := tenantFrom(c).DeleteGuardrailRule(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
