package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/compliance"
	"github.com/agentlens/agentlens/pkg/export"
	"github.com/agentlens/agentlens/pkg/models"
)

// complianceRange parses the from/to query pair, defaulting to the last 30
// days, and applies the report range gate.
func complianceRange(c *echo.Context) (time.Time, time.Time, error) {
	fromP, err := parseTimeParam(c, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	toP, err := parseTimeParam(c, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	to := time.Now().UTC()
	if toP != nil {
		to = *toP
	}
	from := to.Add(-30 * 24 * time.Hour)
	if fromP != nil {
		from = *fromP
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, httpError(http.StatusBadRequest, compliance.ErrInvalidRange.Error(), nil)
	}
	if to.Sub(from) > compliance.MaxRange {
		return time.Time{}, time.Time{}, httpError(http.StatusBadRequest, compliance.ErrRangeTooWide.Error(), nil)
	}
	return from, to, nil
}

// complianceReportHandler handles GET /api/compliance/report.
func (s *Server) complianceReportHandler(c *echo.Context) error {
	from, to, err := complianceRange(c)
	if err != nil {
		return err
	}

	key := callerFrom(c)
	report, err := s.reports.Build(c.Request().Context(), key.TenantID, key.ID, from, to)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// complianceExportHandler handles GET /api/compliance/export/events. The
// chain is verified before the body is streamed so the verdict can ride in
// the X-Chain-Verification header.
func (s *Server) complianceExportHandler(c *echo.Context) error {
	from, to, err := complianceRange(c)
	if err != nil {
		return err
	}
	format := c.QueryParam("format")
	switch format {
	case "":
		format = "json"
	case "json", "csv":
	default:
		return httpError(http.StatusBadRequest, "invalid format: must be json or csv", nil)
	}

	key := callerFrom(c)
	ctx := c.Request().Context()

	verification, err := s.reports.VerifyChains(ctx, key.TenantID, from, to)
	if err != nil {
		return mapServiceError(err)
	}
	verdict := "verified"
	if !verification.Verified {
		verdict = "failed"
	}

	entry := &models.AuditLogEntry{
		ID:     uuid.New().String(),
		Action: "compliance_events_exported",
		KeyID:  key.ID,
		Details: map[string]any{
			"from":   from,
			"to":     to,
			"format": format,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := tenantFrom(c).AppendAuditLog(ctx, entry); err != nil {
		return mapServiceError(err)
	}

	res := c.Response()
	res.Header().Set("X-Chain-Verification", verdict)

	if format == "csv" {
		res.Header().Set("Content-Type", "text/csv; charset=utf-8")
		res.WriteHeader(http.StatusOK)
		return s.exporter.WriteEventsCSV(ctx, res, key.TenantID, from, to)
	}

	res.Header().Set("Content-Type", "application/x-ndjson")
	res.WriteHeader(http.StatusOK)
	return s.streamEventsNDJSON(c, from, to)
}

// streamEventsNDJSON pages events ascending and writes one JSON object per
// line.
func (s *Server) streamEventsNDJSON(c *echo.Context, from, to time.Time) error {
	ctx := c.Request().Context()
	ts := tenantFrom(c)
	enc := json.NewEncoder(c.Response())

	const pageSize = 1000
	for offset := 0; ; offset += pageSize {
		page, _, err := ts.QueryEvents(ctx, models.EventFilter{
			From:   &from,
			To:     &to,
			Order:  "asc",
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return err
		}
		for _, ev := range page {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
	}
}

// auditLogHandler handles GET /api/audit.
func (s *Server) auditLogHandler(c *echo.Context) error {
	limit, err := parseIntParam(c, "limit", 100)
	if err != nil {
		return err
	}
	offset, err := parseIntParam(c, "offset", 0)
	if err != nil {
		return err
	}

	entries, err := tenantFrom(c).ListAuditLog(c.Request().Context(), limit, offset)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

// exportHandler handles GET /api/export: the tenant's full portable NDJSON
// snapshot with a trailing checksum line.
func (s *Server) exportHandler(c *echo.Context) error {
	from, err := parseTimeParam(c, "from")
	if err != nil {
		return err
	}
	to, err := parseTimeParam(c, "to")
	if err != nil {
		return err
	}

	key := callerFrom(c)
	res := c.Response()
	res.Header().Set("Content-Type", "application/x-ndjson")
	res.Header().Set("Content-Disposition", `attachment; filename="agentlens-export.ndjson"`)
	res.WriteHeader(http.StatusOK)

	return s.exporter.Export(c.Request().Context(), res, key.TenantID, export.Options{From: from, To: to})
}

// importHandler handles POST /api/import: replays an NDJSON snapshot into
// the caller's tenant. Line failures are reported per-line, not fatally.
func (s *Server) importHandler(c *echo.Context) error {
	key := callerFrom(c)
	result, err := s.importer.Import(c.Request().Context(), c.Request().Body, key.TenantID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}
