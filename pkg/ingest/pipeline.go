// Package ingest implements the event ingestion pipeline: batch validation,
// ULID assignment, hash chaining under per-session locks, tier-based rate
// limiting, and the bus emissions that follow a committed batch.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/events"
	"github.com/agentlens/agentlens/pkg/hashchain"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
)

// RateLimitError refuses a batch without consuming any budget.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// Caller identifies the authenticated producer of a batch.
type Caller struct {
	TenantID    string
	OrgID       string
	KeyID       string
	Tier        config.Tier
	KeyOverride int64 // per-key limit override, 0 = tier default
}

// Result reports a committed batch.
type Result struct {
	Inserted int      `json:"inserted"`
	IDs      []string `json:"ids"`
}

// AlertEvaluator runs rule evaluation after a committed batch. Implemented by
// pkg/alerts; declared here so the pipeline does not depend on it.
type AlertEvaluator interface {
	AfterBatch(ctx context.Context, tenantID string, batch []*models.Event)
}

// Pipeline is the ingestion engine. One instance serves all tenants.
type Pipeline struct {
	store     store.Store
	bus       *events.Bus
	locks     *SessionLocks
	limiter   *RateLimiter
	evaluator AlertEvaluator
	byteCap   int
	nowFunc   func() time.Time
}

// NewPipeline wires the ingestion engine. evaluator may be nil.
func NewPipeline(st store.Store, bus *events.Bus, limiter *RateLimiter, evaluator AlertEvaluator, byteCap int) *Pipeline {
	return &Pipeline{
		store:     st,
		bus:       bus,
		locks:     NewSessionLocks(),
		limiter:   limiter,
		evaluator: evaluator,
		byteCap:   byteCap,
		nowFunc:   time.Now,
	}
}

// Ingest validates, chains, and atomically stores a batch for one tenant.
//
// Failure semantics: validation errors and rate-limit refusals leave no
// writes and emit nothing; a store failure after lock acquisition releases
// the locks and emits nothing — the chain is unchanged because the insert is
// atomic. Bus messages go out only after the commit, in batch order.
func (p *Pipeline) Ingest(ctx context.Context, caller Caller, inputs []*models.IngestEventInput) (*Result, error) {
	if len(inputs) == 0 {
		return &Result{}, nil
	}

	var issues []Issue
	for i, in := range inputs {
		issues = append(issues, validateInput(i, in)...)
		if in.Payload == nil {
			in.Payload = map[string]any{}
		}
		capIssues, _ := capPayload(i, in.Payload, p.byteCap)
		issues = append(issues, capIssues...)
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	allowed, retryAfter := p.limiter.Allow(caller.OrgID, caller.KeyID, int64(len(inputs)), caller.Tier, caller.KeyOverride)
	if !allowed {
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}

	// Lock every session the batch touches, in sorted order so concurrent
	// batches over overlapping session sets cannot deadlock.
	sessionIDs := distinctSessions(inputs)
	releases := make([]func(), 0, len(sessionIDs))
	defer func() {
		for _, release := range releases {
			release()
		}
	}()
	for _, sid := range sessionIDs {
		releases = append(releases, p.locks.Lock(caller.TenantID, sid))
	}

	batch, err := p.buildBatch(ctx, caller.TenantID, inputs)
	if err != nil {
		return nil, err
	}

	if err := p.store.InsertEvents(ctx, caller.TenantID, batch); err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	p.emit(ctx, caller.TenantID, sessionIDs, batch)

	ids := make([]string, len(batch))
	for i, e := range batch {
		ids[i] = e.ID
	}
	return &Result{Inserted: len(batch), IDs: ids}, nil
}

// sessionTail tracks where a session's chain currently ends while a batch is
// being built.
type sessionTail struct {
	hash *string
	ts   time.Time
}

// buildBatch assigns identity and chain position to each event in arrival
// order. The tail for each session comes from earlier events in this batch
// when present, otherwise from the store. Producer timestamps that land
// before the tail are clamped to it: the timeline orders by timestamp, and a
// backdated event would otherwise sort ahead of the event it chains off.
// Ties resolve by ULID, which is monotonic per process, so a clamped event
// still reads after its predecessor.
func (p *Pipeline) buildBatch(ctx context.Context, tenantID string, inputs []*models.IngestEventInput) ([]*models.Event, error) {
	tails := make(map[string]sessionTail)

	batch := make([]*models.Event, 0, len(inputs))
	for _, in := range inputs {
		tail, seen := tails[in.SessionID]
		if !seen {
			tip, err := p.store.GetChainTip(ctx, tenantID, in.SessionID)
			if err != nil {
				return nil, fmt.Errorf("chain tip for session %s: %w", in.SessionID, err)
			}
			if tip != nil {
				h := tip.Hash
				tail = sessionTail{hash: &h, ts: tip.Timestamp}
			}
		}

		ts := p.nowFunc().UTC()
		if in.Timestamp != nil {
			ts = in.Timestamp.UTC()
		}
		if ts.Before(tail.ts) {
			ts = tail.ts
		}
		severity := in.Severity
		if severity == "" {
			severity = models.SeverityInfo
		}
		metadata := in.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}

		payloadRaw, err := hashchain.CanonicalizeValue(in.Payload)
		if err != nil {
			return nil, fmt.Errorf("canonicalize payload: %w", err)
		}
		metadataRaw, err := hashchain.CanonicalizeValue(metadata)
		if err != nil {
			return nil, fmt.Errorf("canonicalize metadata: %w", err)
		}

		e := &models.Event{
			ID:        ulid.Make().String(),
			Timestamp: ts,
			SessionID: in.SessionID,
			AgentID:   in.AgentID,
			TenantID:  tenantID,
			EventType: in.EventType,
			Severity:  severity,
			Payload:   payloadRaw,
			Metadata:  metadataRaw,
			PrevHash:  tail.hash,
		}
		e.Hash = hashchain.EventHash(e)

		h := e.Hash
		tails[in.SessionID] = sessionTail{hash: &h, ts: ts}
		batch = append(batch, e)
	}
	return batch, nil
}

// emit publishes the post-commit bus messages: event_ingested per event in
// batch order, session_updated once per touched session, then alert
// evaluation (which publishes alert_triggered on its own).
func (p *Pipeline) emit(ctx context.Context, tenantID string, sessionIDs []string, batch []*models.Event) {
	now := p.nowFunc()
	for _, e := range batch {
		p.bus.Publish(events.Message{
			Type:      events.TypeEventIngested,
			Timestamp: now,
			Event:     e.Clone(),
		})
	}

	for _, sid := range sessionIDs {
		sess, err := p.store.GetSession(ctx, tenantID, sid)
		if err != nil {
			slog.Warn("Ingest: session aggregate missing after commit",
				"tenant", tenantID, "session", sid, "error", err)
			continue
		}
		p.bus.Publish(events.Message{
			Type:      events.TypeSessionUpdated,
			Timestamp: now,
			Session:   sess,
		})
	}

	p.discoverCapabilities(ctx, tenantID, batch)

	if p.evaluator != nil {
		p.evaluator.AfterBatch(ctx, tenantID, batch)
	}
}

// discoverCapabilities registers a capability for each distinct tool an agent
// invokes. Best effort: a registry failure never fails the ingest.
func (p *Pipeline) discoverCapabilities(ctx context.Context, tenantID string, batch []*models.Event) {
	seen := make(map[string]bool)
	for _, e := range batch {
		if e.EventType != models.EventToolCall {
			continue
		}
		var payload models.ToolCallPayload
		if err := e.DecodePayload(&payload); err != nil || payload.ToolName == "" {
			continue
		}
		// Capability ids embed the agent so two agents sharing a tool keep
		// independent records.
		capID := e.AgentID + "/tool:" + payload.ToolName
		if seen[capID] {
			continue
		}
		seen[capID] = true

		err := p.store.UpsertCapability(ctx, &models.Capability{
			ID:          capID,
			TenantID:    tenantID,
			AgentID:     e.AgentID,
			Name:        payload.ToolName,
			FirstSeenAt: e.Timestamp,
		})
		if err != nil {
			slog.Warn("Ingest: capability upsert failed",
				"tenant", tenantID, "agent", e.AgentID, "tool", payload.ToolName,
				"error", err)
		}
	}
}

func distinctSessions(inputs []*models.IngestEventInput) []string {
	seen := make(map[string]bool)
	var out []string
	for _, in := range inputs {
		if !seen[in.SessionID] {
			seen[in.SessionID] = true
			out = append(out, in.SessionID)
		}
	}
	sort.Strings(out)
	return out
}
