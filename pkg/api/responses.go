package api

import (
	"github.com/agentlens/agentlens/pkg/models"
)

// eventsResponse is the GET /api/events page shape.
type eventsResponse struct {
	Events  []*models.Event `json:"events"`
	Total   int64           `json:"total"`
	HasMore bool            `json:"hasMore"`
}

// sessionsResponse is the GET /api/sessions page shape.
type sessionsResponse struct {
	Sessions []*models.Session `json:"sessions"`
	Total    int64             `json:"total"`
	HasMore  bool              `json:"hasMore"`
}

// timelineResponse carries a full session timeline with its verification
// verdict. A broken chain is reported in-band, never as a request failure.
type timelineResponse struct {
	Events     []*models.Event `json:"events"`
	ChainValid bool            `json:"chainValid"`
}

// overviewResponse is the GET /api/stats/overview shape.
type overviewResponse struct {
	Stats          *models.TenantStats `json:"stats"`
	Counts         models.EventCounts  `json:"counts"`
	ActiveSessions int64               `json:"activeSessions"`
}

// agentDetailResponse is the GET /api/agents/:id shape: the agent record
// plus its discovered capabilities and rolling trust score. TrustScore is
// null until the first retention sweep scores the agent.
type agentDetailResponse struct {
	Agent        *models.Agent        `json:"agent"`
	Capabilities []*models.Capability `json:"capabilities"`
	TrustScore   *models.TrustScore   `json:"trustScore"`
}

// agentHealthResponse is the GET /api/agents/:id/health shape.
type agentHealthResponse struct {
	Agent  *models.Agent         `json:"agent"`
	Scores []*models.HealthScore `json:"scores"`
}

// HealthCheck is one component's verdict inside the /health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
