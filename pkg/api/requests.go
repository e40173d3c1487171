package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/models"
)

// ingestRequest is the POST /api/events body.
type ingestRequest struct {
	Events []*models.IngestEventInput `json:"events"`
}

// alertRuleRequest is the POST/PUT /api/alerts/rules body.
type alertRuleRequest struct {
	Name          string  `json:"name"`
	EventType     *string `json:"eventType,omitempty"`
	MinSeverity   *string `json:"minSeverity,omitempty"`
	Threshold     int64   `json:"threshold"`
	WindowSeconds int64   `json:"windowSeconds"`
	Enabled       bool    `json:"enabled"`
}

// guardrailRuleRequest is the POST /api/guardrails body.
type guardrailRuleRequest struct {
	Name            string `json:"name"`
	ToolName        string `json:"toolName"`
	RequireApproval bool   `json:"requireApproval"`
	Enabled         bool   `json:"enabled"`
}

// configPutRequest is the PUT /api/config body: plain key/value overrides.
type configPutRequest map[string]string

// parseTimeParam reads an optional RFC3339 query parameter.
func parseTimeParam(c *echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, httpError(http.StatusBadRequest, "invalid "+name+": must be RFC3339", nil)
	}
	return &t, nil
}

// parseIntParam reads an optional non-negative integer query parameter,
// returning def when absent.
func parseIntParam(c *echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, httpError(http.StatusBadRequest, "invalid "+name+": must be a non-negative integer", nil)
	}
	return n, nil
}

// parseEventTypes reads a comma-separated eventType list.
func parseEventTypes(raw string) ([]models.EventType, error) {
	if raw == "" {
		return nil, nil
	}
	var out []models.EventType
	for _, part := range strings.Split(raw, ",") {
		t := models.EventType(strings.TrimSpace(part))
		if !t.Valid() {
			return nil, httpError(http.StatusBadRequest, "invalid eventType: "+string(t), nil)
		}
		out = append(out, t)
	}
	return out, nil
}

// parseSeverities reads a comma-separated severity list.
func parseSeverities(raw string) ([]models.Severity, error) {
	if raw == "" {
		return nil, nil
	}
	var out []models.Severity
	for _, part := range strings.Split(raw, ",") {
		sev := models.Severity(strings.TrimSpace(part))
		if !sev.Valid() {
			return nil, httpError(http.StatusBadRequest, "invalid severity: "+string(sev), nil)
		}
		out = append(out, sev)
	}
	return out, nil
}
