package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/compliance"
	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/events"
	"github.com/agentlens/agentlens/pkg/export"
	"github.com/agentlens/agentlens/pkg/ingest"
	"github.com/agentlens/agentlens/pkg/otlp"
	"github.com/agentlens/agentlens/pkg/replay"
	"github.com/agentlens/agentlens/pkg/retention"
	"github.com/agentlens/agentlens/pkg/store"
)

// Server is the HTTP surface: the authenticated /api group, the OTLP /v1
// group, and /health.
type Server struct {
	echo        *echo.Echo
	cfg         *config.Config
	store       store.Store
	bus         *events.Bus
	pipeline    *ingest.Pipeline
	replays     *replay.Builder
	replayCache *replay.Cache
	reports     *compliance.Builder
	exporter    *export.Exporter
	importer    *export.Importer
	receiver    *otlp.Receiver
	partitions  *retention.PartitionManager

	// dbPool is nil when running on the in-memory store.
	dbPool *pgxpool.Pool

	httpServer *http.Server
}

// Deps carries the wired services the server exposes. Receiver, Partitions,
// and DBPool are optional.
type Deps struct {
	Store       store.Store
	Bus         *events.Bus
	Pipeline    *ingest.Pipeline
	Replays     *replay.Builder
	ReplayCache *replay.Cache
	Reports     *compliance.Builder
	Exporter    *export.Exporter
	Importer    *export.Importer
	Receiver    *otlp.Receiver
	Partitions  *retention.PartitionManager
	DBPool      *pgxpool.Pool
}

// NewServer builds the echo application and registers all routes.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		echo:        echo.New(),
		cfg:         cfg,
		store:       deps.Store,
		bus:         deps.Bus,
		pipeline:    deps.Pipeline,
		replays:     deps.Replays,
		replayCache: deps.ReplayCache,
		reports:     deps.Reports,
		exporter:    deps.Exporter,
		importer:    deps.Importer,
		receiver:    deps.Receiver,
		partitions:  deps.Partitions,
		dbPool:      deps.DBPool,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)

	api := e.Group("/api", s.requireAuth)

	api.POST("/events", s.ingestEventsHandler, requireScope(ScopeWrite))
	api.GET("/events", s.listEventsHandler, requireScope(ScopeRead))
	api.GET("/events/:id", s.getEventHandler, requireScope(ScopeRead))

	api.GET("/sessions", s.listSessionsHandler, requireScope(ScopeRead))
	api.GET("/sessions/:id", s.getSessionHandler, requireScope(ScopeRead))
	api.GET("/sessions/:id/timeline", s.sessionTimelineHandler, requireScope(ScopeRead))
	api.GET("/sessions/:id/replay", s.sessionReplayHandler, requireScope(ScopeRead))

	api.GET("/agents", s.listAgentsHandler, requireScope(ScopeRead))
	api.GET("/agents/:id", s.getAgentHandler, requireScope(ScopeRead))
	api.GET("/agents/:id/health", s.agentHealthHandler, requireScope(ScopeRead))

	api.GET("/stream", s.streamHandler, requireScope(ScopeRead))

	api.GET("/stats", s.statsHandler, requireScope(ScopeRead))
	api.GET("/stats/overview", s.statsOverviewHandler, requireScope(ScopeRead))
	api.GET("/analytics", s.analyticsHandler, requireScope(ScopeRead))

	api.GET("/alerts/rules", s.listAlertRulesHandler, requireScope(ScopeRead))
	api.POST("/alerts/rules", s.createAlertRuleHandler, requireScope(ScopeManage))
	api.GET("/alerts/rules/:id", s.getAlertRuleHandler, requireScope(ScopeRead))
	api.PUT("/alerts/rules/:id", s.updateAlertRuleHandler, requireScope(ScopeManage))
	api.DELETE("/alerts/rules/:id", s.deleteAlertRuleHandler, requireScope(ScopeManage))
	api.GET("/alerts/rules/:id/history", s.alertRuleHistoryHandler, requireScope(ScopeRead))

	api.GET("/guardrails", s.listGuardrailsHandler, requireScope(ScopeRead))
	api.POST("/guardrails", s.createGuardrailHandler, requireScope(ScopeManage))
	api.DELETE("/guardrails/:id", s.deleteGuardrailHandler, requireScope(ScopeManage))

	api.GET("/config", s.getConfigHandler, requireScope(ScopeManage))
	api.PUT("/config", s.putConfigHandler, requireScope(ScopeManage))

	api.GET("/compliance/report", s.complianceReportHandler, requireScope(ScopeAudit))
	api.GET("/compliance/export/events", s.complianceExportHandler, requireScope(ScopeAudit))
	api.GET("/audit", s.auditLogHandler, requireScope(ScopeAudit))

	api.GET("/export", s.exportHandler, requireScope(ScopeManage))
	api.POST("/import", s.importHandler, requireScope(ScopeManage))

	if s.receiver != nil {
		v1 := e.Group("/v1")
		v1.POST("/traces", s.otlpTracesHandler)
		v1.POST("/metrics", s.otlpMetricsHandler)
		v1.POST("/logs", s.otlpLogsHandler)
	}
}

// Start blocks serving HTTP on addr until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
