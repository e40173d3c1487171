package api

import (
	"errors"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/hashchain"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/replay"
	"github.com/agentlens/agentlens/pkg/store"
)

// listSessionsHandler handles GET /api/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	f := models.SessionFilter{
		AgentID: c.QueryParam("agentId"),
	}

	if v := c.QueryParam("status"); v != "" {
		switch st := models.SessionStatus(v); st {
		case models.SessionActive, models.SessionCompleted, models.SessionError:
			f.Status = st
		default:
			return httpError(http.StatusBadRequest, "invalid status: must be active, completed, or error", nil)
		}
	}
	if v := c.QueryParam("tags"); v != "" {
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				f.Tags = append(f.Tags, tag)
			}
		}
	}

	var err error
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

	sessions, total, err := tenantFrom(c).QuerySessions(c.Request().Context(), f)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, sessionsResponse{
		Sessions: sessions,
		Total:    total,
		HasMore:  int64(f.Offset+len(sessions)) < total,
	})
}

// getSessionHandler handles GET /api/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return httpError(http.StatusBadRequest, "session id is required", nil)
	}

	sess, err := tenantFrom(c).GetSession(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

// sessionTimelineHandler handles GET /api/sessions/:id/timeline. The chain
// verdict rides inside a successful response.
func (s *Server) sessionTimelineHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return httpError(http.StatusBadRequest, "session id is required", nil)
	}

	timeline, err := tenantFrom(c).GetSessionTimeline(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}

	verdict := hashchain.VerifyChain(timeline)
	return c.JSON(http.StatusOK, timelineResponse{
		Events:     timeline,
		ChainValid: verdict.Valid,
	})
}

// sessionReplayHandler handles GET /api/sessions/:id/replay.
func (s *Server) sessionReplayHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return httpError(http.StatusBadRequest, "session id is required", nil)
	}

	opts := replay.Options{
		IncludeContext: c.QueryParam("includeContext") != "false",
	}
	var err error
	if opts.Offset, err = parseIntParam(c, "offset", 0); err != nil {
		return err
	}
	if opts.Limit, err = parseIntParam(c, "limit", s.cfg.Replay.DefaultPageSize); err != nil {
		return err
	}
	if opts.EventTypes, err = parseEventTypes(c.QueryParam("eventTypes")); err != nil {
		return err
	}

	key := callerFrom(c)

	// Only the default view (full page, no filters) is cached.
	cacheable := opts.Offset == 0 && opts.Limit == s.cfg.Replay.DefaultPageSize &&
		len(opts.EventTypes) == 0 && opts.IncludeContext
	if cacheable {
		if state, ok := s.replayCache.Get(key.TenantID, id); ok {
			return c.JSON(http.StatusOK, state)
		}
	}

	state, err := s.replays.Build(c.Request().Context(), key.TenantID, id, opts)
	if err != nil {
		return mapServiceError(err)
	}
	if cacheable {
		s.replayCache.Set(key.TenantID, id, state)
	}
	return c.JSON(http.StatusOK, state)
}

// listAgentsHandler handles GET /api/agents.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	agents, err := tenantFrom(c).ListAgents(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, agents)
}

// getAgentHandler handles GET /api/agents/:id.
func (s *Server) getAgentHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return httpError(http.StatusBadRequest, "agent id is required", nil)
	}

	ts := tenantFrom(c)
	ctx := c.Request().Context()

	agent, err := ts.GetAgent(ctx, id)
	if err != nil {
		return mapServiceError(err)
	}
	caps, err := ts.ListCapabilities(ctx, id)
	if err != nil {
		return mapServiceError(err)
	}
	trust, err := ts.GetTrustScore(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, agentDetailResponse{
		Agent:        agent,
		Capabilities: caps,
		TrustScore:   trust,
	})
}

// agentHealthHandler handles GET /api/agents/:id/health: the agent record
// plus its recorded health snapshots.
func (s *Server) agentHealthHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return httpError(http.StatusBadRequest, "agent id is required", nil)
	}

	ts := tenantFrom(c)
	agent, err := ts.GetAgent(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	scores, err := ts.ListHealthScores(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, agentHealthResponse{Agent: agent, Scores: scores})
}
