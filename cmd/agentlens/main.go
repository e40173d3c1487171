// AgentLens server — ingests agent telemetry over HTTP and OTLP, maintains
// the tenant-scoped event store, and serves replay, live-stream, and
// compliance APIs.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/agentlens/agentlens/pkg/alerts"
	"github.com/agentlens/agentlens/pkg/api"
	"github.com/agentlens/agentlens/pkg/compliance"
	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/database"
	"github.com/agentlens/agentlens/pkg/events"
	"github.com/agentlens/agentlens/pkg/export"
	"github.com/agentlens/agentlens/pkg/ingest"
	"github.com/agentlens/agentlens/pkg/otlp"
	"github.com/agentlens/agentlens/pkg/replay"
	"github.com/agentlens/agentlens/pkg/retention"
	"github.com/agentlens/agentlens/pkg/store"
	"github.com/agentlens/agentlens/pkg/store/postgres"
	"github.com/agentlens/agentlens/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("CONFIG_FILE", ""),
		"Path to optional YAML configuration file")
	flag.Parse()

	// Load .env before reading any configuration from the environment.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment", "error", err)
	}

	slog.Info("Starting AgentLens", "version", version.Full())

	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Select the store backend
	var (
		st         store.Store
		dbClient   *database.Client
		partitions *retention.PartitionManager
	)
	switch backend := getEnv("STORE_BACKEND", "memory"); backend {
	case "postgres":
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbClient.Close()

		pgStore := postgres.New(dbClient.Pool())
		st = pgStore
		partitions = retention.NewPartitionManager(pgStore, cfg.Retention.FutureMonths)
		slog.Info("Connected to PostgreSQL database")
	case "memory":
		st = store.NewMemStore()
		slog.Info("Using in-memory store")
	default:
		slog.Error("Unknown STORE_BACKEND", "backend", backend)
		os.Exit(1)
	}

	// 3. Seed bootstrap API keys
	if len(cfg.BootstrapKeys) > 0 {
		if err := api.BootstrapKeys(ctx, st, cfg.BootstrapKeys); err != nil {
			slog.Error("Failed to seed bootstrap API keys", "error", err)
			os.Exit(1)
		}
	}

	// 4. Wire the ingestion path
	bus := events.NewBus()
	evaluator := alerts.NewEvaluator(st, bus)
	pipeline := ingest.NewPipeline(st, bus, ingest.NewRateLimiter(), evaluator, cfg.PayloadByteCap)

	// 5. Replay, export, and compliance services
	replayBuilder := replay.NewBuilder(st)
	replayCache := replay.NewCache(cfg.Replay.CacheSize, cfg.Replay.CacheTTL, cfg.Replay.MaxLLMHistory)
	exporter := export.NewExporter(st)
	importer := export.NewImporter(st)
	reports := compliance.NewBuilder(st, cfg.SigningKey)
	if cfg.SigningKey == "" {
		slog.Warn("No signing key configured; compliance reports will be unsigned")
	}

	// Drop cached replay state as soon as a session grows.
	invalidateSub := bus.Subscribe(events.TypeSessionUpdated)
	go func() {
		for msg := range invalidateSub.C {
			if msg.Session != nil {
				replayCache.Invalidate(msg.Session.TenantID, msg.Session.ID)
			}
		}
	}()

	// 6. Retention sweep (and partition maintenance on postgres)
	retentionSvc := retention.NewService(&cfg.Retention, st, partitions)
	retentionSvc.Start(ctx)
	defer retentionSvc.Stop()

	// 7. OTLP receiver
	receiver := otlp.NewReceiver(cfg.OTLP, cfg.MultiTenant, pipeline)

	// 8. HTTP server
	httpServer := api.NewServer(cfg, api.Deps{
		Store:       st,
		Bus:         bus,
		Pipeline:    pipeline,
		Replays:     replayBuilder,
		ReplayCache: replayCache,
		Reports:     reports,
		Exporter:    exporter,
		Importer:    importer,
		Receiver:    receiver,
		Partitions:  partitions,
		DBPool:      dbPool(dbClient),
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("AgentLens started successfully",
		"multi_tenant", cfg.MultiTenant,
		"retention_interval", cfg.Retention.Interval)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown
	bus.Unsubscribe(invalidateSub)

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// dbPool unwraps the pool for health checks; nil on the in-memory store.
func dbPool(c *database.Client) *pgxpool.Pool {
	if c == nil {
		return nil
	}
	return c.Pool()
}
