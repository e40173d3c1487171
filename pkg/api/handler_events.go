package api

import (
	"errors"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/ingest"
	"github.com/agentlens/agentlens/pkg/models"
)

const defaultPageSize = 100

// ingestEventsHandler handles POST /api/events.
func (s *Server) ingestEventsHandler(c *echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return httpError(http.StatusBadRequest, "invalid request body", nil)
	}
	if len(req.Events) == 0 {
		return httpError(http.StatusBadRequest, "events must not be empty", nil)
	}

	key := callerFrom(c)
	result, err := s.pipeline.Ingest(c.Request().Context(), ingestCaller(key), req.Events)
	if err != nil {
		var rateErr *ingest.RateLimitError
		if errors.As(err, &rateErr) {
			secs := int(rateErr.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		}
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, result)
}

// listEventsHandler handles GET /api/events.
func (s *Server) listEventsHandler(c *echo.Context) error {
	f := models.EventFilter{
		SessionID: c.QueryParam("sessionId"),
		AgentID:   c.QueryParam("agentId"),
		Search:    c.QueryParam("search"),
	}

	var err error
	if f.EventTypes, err = parseEventTypes(c.QueryParam("eventType")); err != nil {
		return err
	}
	if f.Severities, err = parseSeverities(c.QueryParam("severity")); err != nil {
		return err
	}
	if f.From, err = parseTimeParam(c, "from"); err != nil {
		return err
	}
	if f.To, err = parseTimeParam(c, "to"); err != nil {
		return err
	}
	if f.Limit, err = parseIntParam(c, "limit", defaultPageSize); err != nil {
		return err
	}
	if f.Offset, err = parseIntParam(c, "offset", 0); err != nil {
		return err
	}
	switch v := c.QueryParam("order"); v {
	case "", "asc", "desc":
		f.Order = v
	default:
		return httpError(http.StatusBadRequest, "invalid order: must be asc or desc", nil)
	}

	evs, total, err := tenantFrom(c).QueryEvents(c.Request().Context(), f)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, eventsResponse{
		Events:  evs,
		Total:   total,
		HasMore: int64(f.Offset+len(evs)) < total,
	})
}

// getEventHandler handles GET /api/events/:id.
func (s *Server) getEventHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return httpError(http.StatusBadRequest, "event id is required", nil)
	}

	ev, err := tenantFrom(c).GetEvent(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, ev)
}
