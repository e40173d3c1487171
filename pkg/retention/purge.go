package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
)

// TenantResult is the per-tenant outcome of one purge sweep.
type TenantResult struct {
	TenantID      string `json:"tenantId"`
	Tier          string `json:"tier"`
	EventsDeleted int64  `json:"eventsDeleted"`
	AuditDeleted  int64  `json:"auditDeleted"`
	ExpiringSoon  int64  `json:"expiringSoon"`
	Error         string `json:"error,omitempty"`
}

// Summary is the outcome of one full sweep across all tenants.
type Summary struct {
	RanAt             time.Time      `json:"ranAt"`
	Tenants           []TenantResult `json:"tenants"`
	PartitionsCreated int            `json:"partitionsCreated"`
	PartitionsDropped int            `json:"partitionsDropped"`
	PartitionError    string         `json:"partitionError,omitempty"`
}

// Service periodically enforces retention policies:
//   - Deletes events older than each tenant's cutoff
//   - Deletes audit-log rows past their own window
//   - Records per-agent health snapshots before purging
//   - Maintains month partitions when the backend supports them
//
// Tenant failures are isolated: one tenant's error never stops the sweep.
type Service struct {
	config     *config.RetentionConfig
	store      store.Store
	partitions *PartitionManager // nil when the backend does not partition
	nowFunc    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service. pm may be nil.
func NewService(cfg *config.RetentionConfig, s store.Store, pm *PartitionManager) *Service {
	return &Service{
		config:     cfg,
		store:      s,
		partitions: pm,
		nowFunc:    time.Now,
	}
}

// Start launches the background purge loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention service started",
		"interval", s.config.Interval,
		"warning_days", s.config.WarningDays)
}

// Stop signals the purge loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	summary, err := s.RunOnce(ctx)
	if err != nil {
		slog.Error("Retention: sweep failed", "error", err)
		return
	}
	var deleted int64
	for _, t := range summary.Tenants {
		deleted += t.EventsDeleted + t.AuditDeleted
	}
	if deleted > 0 || summary.PartitionsCreated > 0 || summary.PartitionsDropped > 0 {
		slog.Info("Retention: sweep complete",
			"tenants", len(summary.Tenants),
			"rows_deleted", deleted,
			"partitions_created", summary.PartitionsCreated,
			"partitions_dropped", summary.PartitionsDropped)
	}
}

// RunOnce executes a single sweep and returns its summary. Idempotent and
// safe to interrupt; a restart picks up where it left off.
func (s *Service) RunOnce(ctx context.Context) (*Summary, error) {
	now := s.nowFunc().UTC()
	summary := &Summary{RanAt: now}

	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	for _, tenantID := range tenants {
		result := s.purgeTenant(ctx, tenantID, now)
		if result.Error != "" {
			slog.Error("Retention: tenant purge failed",
				"tenant_id", tenantID, "error", result.Error)
		}
		summary.Tenants = append(summary.Tenants, result)
	}

	if s.partitions != nil {
		created, dropped, err := s.partitions.Maintain(ctx)
		summary.PartitionsCreated = created
		summary.PartitionsDropped = dropped
		if err != nil {
			summary.PartitionError = err.Error()
			slog.Error("Retention: partition maintenance failed", "error", err)
		}
	}
	return summary, nil
}

func (s *Service) purgeTenant(ctx context.Context, tenantID string, now time.Time) TenantResult {
	result := TenantResult{TenantID: tenantID}

	policy, err := ResolvePolicy(ctx, s.store, tenantID)
	if err != nil {
		result.Error = fmt.Sprintf("resolve policy: %v", err)
		return result
	}
	result.Tier = string(policy.Tier)

	cutoff := Cutoff(now, policy.EventDays)

	if s.config.WarningDays > 0 {
		warnCutoff := cutoff.AddDate(0, 0, s.config.WarningDays)
		expiring, err := s.store.CountEvents(ctx, tenantID, models.EventFilter{To: &warnCutoff})
		if err != nil {
			result.Error = fmt.Sprintf("count expiring: %v", err)
			return result
		}
		result.ExpiringSoon = expiring
		if expiring > 0 {
			slog.Warn("Retention: events approaching expiry",
				"tenant_id", tenantID, "count", expiring, "cutoff", cutoff)
		}
	}

	if err := s.recordHealthScores(ctx, tenantID, now); err != nil {
		// Snapshot failure should not block the purge itself.
		slog.Warn("Retention: health snapshot failed",
			"tenant_id", tenantID, "error", err)
	}

	deleted, err := s.store.ApplyRetention(ctx, tenantID, cutoff)
	if err != nil {
		result.Error = fmt.Sprintf("apply retention: %v", err)
		return result
	}
	result.EventsDeleted = deleted

	auditCutoff := Cutoff(now, policy.AuditDays)
	auditDeleted, err := s.store.ApplyAuditRetention(ctx, tenantID, auditCutoff)
	if err != nil {
		result.Error = fmt.Sprintf("apply audit retention: %v", err)
		return result
	}
	result.AuditDeleted = auditDeleted
	return result
}

// recordHealthScores snapshots per-agent error rate and average session cost
// so trend data survives the purge of the underlying events.
func (s *Service) recordHealthScores(ctx context.Context, tenantID string, now time.Time) error {
	agents, err := s.store.ListAgents(ctx, tenantID)
	if err != nil {
		return err
	}

	var scores []*models.HealthScore
	for _, agent := range agents {
		sessions, _, err := s.store.QuerySessions(ctx, tenantID, models.SessionFilter{
			AgentID: agent.ID,
			Limit:   10_000,
		})
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			continue
		}

		var events, errCount int64
		var cost float64
		for _, sess := range sessions {
			events += sess.EventCount
			errCount += sess.ErrorCount
			cost += sess.TotalCostUsd
		}

		score := &models.HealthScore{
			ID:           uuid.NewString(),
			TenantID:     tenantID,
			AgentID:      agent.ID,
			RecordedAt:   now,
			SessionCount: int64(len(sessions)),
			AvgCostUsd:   cost / float64(len(sessions)),
		}
		if events > 0 {
			score.ErrorRate = float64(errCount) / float64(events)
		}
		scores = append(scores, score)

		if err := s.updateTrustScore(ctx, tenantID, agent.ID, score.ErrorRate, now); err != nil {
			slog.Warn("Retention: trust score update failed",
				"tenant_id", tenantID, "agent_id", agent.ID, "error", err)
		}
	}

	if len(scores) == 0 {
		return nil
	}
	return s.store.InsertHealthScores(ctx, scores)
}

// updateTrustScore folds the latest error rate into the agent's rolling trust
// value. An exponential blend (70% history, 30% current) so a single bad
// sweep dents trust without erasing it.
func (s *Service) updateTrustScore(ctx context.Context, tenantID, agentID string, errorRate float64, now time.Time) error {
	current := 1 - errorRate
	if current < 0 {
		current = 0
	}

	score := current
	prev, err := s.store.GetTrustScore(ctx, tenantID, agentID)
	switch {
	case err == nil:
		score = 0.7*prev.Score + 0.3*current
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	return s.store.UpsertTrustScore(ctx, &models.TrustScore{
		TenantID:  tenantID,
		AgentID:   agentID,
		Score:     score,
		UpdatedAt: now,
	})
}
