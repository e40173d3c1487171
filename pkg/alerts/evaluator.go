// Package alerts evaluates tenant alert rules after each committed batch and
// records firings in alert history.
package alerts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentlens/agentlens/pkg/events"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
)

// Evaluator checks enabled rules against the trailing window whenever a
// batch commits. It consumes the store and publishes to the bus; it never
// feeds back into ingestion.
type Evaluator struct {
	store   store.Store
	bus     *events.Bus
	nowFunc func() time.Time
}

// NewEvaluator creates a rule evaluator.
func NewEvaluator(st store.Store, bus *events.Bus) *Evaluator {
	return &Evaluator{store: st, bus: bus, nowFunc: time.Now}
}

// AfterBatch runs every enabled rule whose predicate matched at least one
// event in the batch. Failures are logged and isolated per rule; alert
// evaluation never fails an ingest that already committed.
func (e *Evaluator) AfterBatch(ctx context.Context, tenantID string, batch []*models.Event) {
	rules, err := e.store.ListAlertRules(ctx, tenantID)
	if err != nil {
		slog.Error("Alerts: listing rules failed", "tenant", tenantID, "error", err)
		return
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		matched := firstMatch(rule, batch)
		if matched == nil {
			continue
		}
		e.evaluateRule(ctx, rule, matched)
	}
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule *models.AlertRule, matched *models.Event) {
	now := e.nowFunc()
	from := now.Add(-time.Duration(rule.WindowSeconds) * time.Second)

	filter := models.EventFilter{From: &from}
	if rule.EventType != nil {
		filter.EventTypes = []models.EventType{*rule.EventType}
	}
	if rule.MinSeverity != nil {
		filter.Severities = severitiesAtOrAbove(*rule.MinSeverity)
	}

	count, err := e.store.CountEvents(ctx, rule.TenantID, filter)
	if err != nil {
		slog.Error("Alerts: window count failed", "tenant", rule.TenantID, "rule", rule.ID, "error", err)
		return
	}
	if count < rule.Threshold {
		return
	}

	// Suppress re-firing while the previous firing is still inside the
	// window; one alert per crossing, not per batch.
	last, err := e.store.LatestAlertHistory(ctx, rule.TenantID, rule.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Alerts: history lookup failed", "tenant", rule.TenantID, "rule", rule.ID, "error", err)
		return
	}
	if last != nil && now.Sub(last.TriggeredAt) < time.Duration(rule.WindowSeconds)*time.Second {
		return
	}

	history := &models.AlertHistory{
		ID:          uuid.New().String(),
		TenantID:    rule.TenantID,
		RuleID:      rule.ID,
		TriggeredAt: now,
		Value:       count,
		SessionID:   matched.SessionID,
	}
	if err := e.store.InsertAlertHistory(ctx, history); err != nil {
		slog.Error("Alerts: recording firing failed", "tenant", rule.TenantID, "rule", rule.ID, "error", err)
		return
	}

	slog.Info("Alert triggered", "tenant", rule.TenantID, "rule", rule.ID, "value", count)
	e.bus.Publish(events.Message{
		Type:      events.TypeAlertTriggered,
		Timestamp: now,
		Rule:      rule,
		History:   history,
	})
}

func firstMatch(rule *models.AlertRule, batch []*models.Event) *models.Event {
	for _, ev := range batch {
		if rule.Matches(ev) {
			return ev
		}
	}
	return nil
}

func severitiesAtOrAbove(min models.Severity) []models.Severity {
	all := []models.Severity{
		models.SeverityDebug, models.SeverityInfo, models.SeverityWarn,
		models.SeverityError, models.SeverityCritical,
	}
	var out []models.Severity
	for _, s := range all {
		if models.SeverityRank(s) >= models.SeverityRank(min) {
			out = append(out, s)
		}
	}
	return out
}
