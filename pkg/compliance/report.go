// Package compliance assembles signed, range-bounded audit reports over a
// tenant's stored events: hash-chain verification, human-oversight stats,
// incidents, cost usage, and retention posture.
package compliance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentlens/agentlens/pkg/hashchain"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/retention"
	"github.com/agentlens/agentlens/pkg/store"
	"github.com/agentlens/agentlens/pkg/version"
)

// ReportVersion is the current report format version.
const ReportVersion = 1

// MaxRange is the widest report window accepted.
const MaxRange = 365 * 24 * time.Hour

// AuditActionReportGenerated is the audit-log action written per report.
const AuditActionReportGenerated = "compliance_report_generated"

const (
	verifyPageSize = 500
	maxIncidents   = 200
)

// ErrRangeTooWide rejects report windows over MaxRange.
var ErrRangeTooWide = errors.New("report range exceeds 365 days")

// ErrInvalidRange rejects windows where from is after to.
var ErrInvalidRange = errors.New("report range start is after end")

// SystemInfo identifies the generating system.
type SystemInfo struct {
	ProductName string    `json:"productName"`
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// ChainVerification is the outcome of streaming hash-chain verification.
type ChainVerification struct {
	Verified      bool   `json:"verified"`
	TotalEvents   int64  `json:"totalEvents"`
	FailedAtIndex *int64 `json:"failedAtIndex,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ApprovalStats summarizes approval_requested outcomes in the range.
type ApprovalStats struct {
	Total             int64    `json:"total"`
	Granted           int64    `json:"granted"`
	Denied            int64    `json:"denied"`
	Expired           int64    `json:"expired"`
	AvgResponseTimeMs *float64 `json:"avgResponseTimeMs"`
}

// HumanOversight groups the oversight sections. GuardrailViolations counts
// tool calls to guarded tools whose session shows no approval request in the
// range.
type HumanOversight struct {
	ApprovalRequests    ApprovalStats `json:"approvalRequests"`
	GuardrailViolations int64         `json:"guardrailViolations"`
}

// Incident is one error/critical event or alert firing inside the range.
type Incident struct {
	EventID   string           `json:"eventId"`
	Timestamp time.Time        `json:"timestamp"`
	SessionID string           `json:"sessionId"`
	AgentID   string           `json:"agentId"`
	EventType models.EventType `json:"eventType"`
	Severity  models.Severity  `json:"severity"`
}

// CostUsage totals LLM and tracked costs in the range.
type CostUsage struct {
	TotalUsd float64            `json:"totalUsd"`
	ByAgent  map[string]float64 `json:"byAgent"`
}

// RetentionSection states the tenant's retention posture at generation time.
type RetentionSection struct {
	ChainIntact   bool       `json:"chainIntact"`
	OldestEvent   *time.Time `json:"oldestEvent"`
	RetentionDays int        `json:"retentionDays"`
}

// Report is the full signed compliance document.
type Report struct {
	Version           int               `json:"version"`
	TenantID          string            `json:"tenantId"`
	From              time.Time         `json:"from"`
	To                time.Time         `json:"to"`
	SystemInfo        SystemInfo        `json:"systemInfo"`
	ChainVerification ChainVerification `json:"chainVerification"`
	HumanOversight    HumanOversight    `json:"humanOversight"`
	Incidents         []Incident        `json:"incidents"`
	CostUsage         CostUsage         `json:"costUsage"`
	Retention         RetentionSection  `json:"retention"`

	// Signature is "hmac-sha256:" + HMAC over the report marshaled without
	// this field, or null when no signing key is configured.
	Signature *string `json:"signature"`
}

// Builder assembles reports from the raw store.
type Builder struct {
	store      store.Store
	signingKey string
	nowFunc    func() time.Time
}

// NewBuilder creates a report builder. An empty signingKey disables signing.
func NewBuilder(s store.Store, signingKey string) *Builder {
	return &Builder{store: s, signingKey: signingKey, nowFunc: time.Now}
}

// Build assembles and signs a report for [from, to], then records an
// audit-log entry naming the requesting key. The range must not exceed 365
// days.
func (b *Builder) Build(ctx context.Context, tenantID, keyID string, from, to time.Time) (*Report, error) {
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	if to.Sub(from) > MaxRange {
		return nil, ErrRangeTooWide
	}

	report := &Report{
		Version:  ReportVersion,
		TenantID: tenantID,
		From:     from.UTC(),
		To:       to.UTC(),
		SystemInfo: SystemInfo{
			ProductName: version.AppName,
			Version:     version.Full(),
			GeneratedAt: b.nowFunc().UTC(),
		},
	}

	chain, err := b.verifyChains(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("chain verification: %w", err)
	}
	report.ChainVerification = chain

	oversight, err := b.approvalStats(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("oversight stats: %w", err)
	}
	report.HumanOversight = HumanOversight{ApprovalRequests: oversight}

	violations, err := b.guardrailViolations(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("guardrail violations: %w", err)
	}
	report.HumanOversight.GuardrailViolations = violations

	incidents, err := b.collectIncidents(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("collect incidents: %w", err)
	}
	report.Incidents = incidents

	costs, err := b.costUsage(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("cost usage: %w", err)
	}
	report.CostUsage = costs

	ret, err := b.retentionSection(ctx, tenantID, chain.Verified)
	if err != nil {
		return nil, fmt.Errorf("retention section: %w", err)
	}
	report.Retention = ret

	if b.signingKey != "" {
		sig, err := b.sign(report)
		if err != nil {
			return nil, fmt.Errorf("sign report: %w", err)
		}
		report.Signature = &sig
	}

	entry := &models.AuditLogEntry{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Action:   AuditActionReportGenerated,
		KeyID:    keyID,
		Details: map[string]any{
			"from": report.From.Format(time.RFC3339),
			"to":   report.To.Format(time.RFC3339),
		},
		CreatedAt: b.nowFunc().UTC(),
	}
	if err := b.store.AppendAuditLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit log: %w", err)
	}
	return report, nil
}

// VerifyChains exposes streaming verification for the CSV export header.
func (b *Builder) VerifyChains(ctx context.Context, tenantID string, from, to time.Time) (ChainVerification, error) {
	return b.verifyChains(ctx, tenantID, from, to)
}

// verifyChains walks every session touched in the range, streaming each
// session's full timeline in pages and threading the previous page's final
// hash as the anchor of the next. The first page of each session anchors on
// null. Verification short-circuits at the first failure; the failing index
// counts events verified across the whole walk.
func (b *Builder) verifyChains(ctx context.Context, tenantID string, from, to time.Time) (ChainVerification, error) {
	result := ChainVerification{Verified: true}

	sessionIDs, err := b.sessionsInRange(ctx, tenantID, from, to)
	if err != nil {
		return ChainVerification{}, err
	}

	var globalIndex int64
	for _, sessionID := range sessionIDs {
		events, err := b.store.GetSessionTimeline(ctx, tenantID, sessionID)
		if err != nil {
			return ChainVerification{}, err
		}

		var anchor *string
		for start := 0; start < len(events); start += verifyPageSize {
			end := min(start+verifyPageSize, len(events))
			page := events[start:end]

			vr := hashchain.VerifyChainBatch(page, anchor)
			if !vr.Valid {
				failedAt := globalIndex + int64(vr.FailedAtIndex)
				result.Verified = false
				result.FailedAtIndex = &failedAt
				result.Reason = vr.Reason
				result.TotalEvents = failedAt
				return result, nil
			}
			globalIndex += int64(len(page))
			anchor = &page[len(page)-1].Hash
		}
	}
	result.TotalEvents = globalIndex
	return result, nil
}

// sessionsInRange returns the sessions whose activity overlaps [from, to):
// started before the range end, and still running or ended after the range
// start. Filtering on start time alone would skip long-running sessions that
// began before the range but kept emitting inside it.
func (b *Builder) sessionsInRange(ctx context.Context, tenantID string, from, to time.Time) ([]string, error) {
	var ids []string
	for offset := 0; ; offset += verifyPageSize {
		sessions, _, err := b.store.QuerySessions(ctx, tenantID, models.SessionFilter{
			To:    &to,
			Limit: verifyPageSize, Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		for _, s := range sessions {
			if s.EndedAt != nil && s.EndedAt.Before(from) {
				continue
			}
			ids = append(ids, s.ID)
		}
		if len(sessions) < verifyPageSize {
			break
		}
	}
	return ids, nil
}

func (b *Builder) approvalStats(ctx context.Context, tenantID string, from, to time.Time) (ApprovalStats, error) {
	stats := ApprovalStats{}

	requested := map[string]time.Time{} // requestId -> requested at
	var responseTotalMs float64
	var responses int64

	filter := models.EventFilter{
		EventTypes: []models.EventType{
			models.EventApprovalRequested,
			models.EventApprovalGranted,
			models.EventApprovalDenied,
			models.EventApprovalExpired,
		},
		From: &from, To: &to,
		Order: "asc",
	}
	err := b.forEachEvent(ctx, tenantID, filter, func(e *models.Event) {
		corr := e.CorrelationID()
		switch e.EventType {
		case models.EventApprovalRequested:
			stats.Total++
			if corr != "" {
				requested[corr] = e.Timestamp
			}
		case models.EventApprovalGranted, models.EventApprovalDenied:
			if e.EventType == models.EventApprovalGranted {
				stats.Granted++
			} else {
				stats.Denied++
			}
			if at, ok := requested[corr]; ok && corr != "" {
				responseTotalMs += float64(e.Timestamp.Sub(at).Milliseconds())
				responses++
				delete(requested, corr)
			}
		case models.EventApprovalExpired:
			stats.Expired++
		}
	})
	if err != nil {
		return ApprovalStats{}, err
	}

	if responses > 0 {
		avg := responseTotalMs / float64(responses)
		stats.AvgResponseTimeMs = &avg
	}
	return stats, nil
}

// guardrailViolations counts tool_call events against enabled
// approval-requiring guardrail rules where the calling session has no
// approval_requested event inside the range.
func (b *Builder) guardrailViolations(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	rules, err := b.store.ListGuardrailRules(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	guarded := map[string]bool{}
	for _, r := range rules {
		if r.Enabled && r.RequireApproval {
			guarded[r.ToolName] = true
		}
	}
	if len(guarded) == 0 {
		return 0, nil
	}

	approvedSessions := map[string]bool{}
	err = b.forEachEvent(ctx, tenantID, models.EventFilter{
		EventTypes: []models.EventType{models.EventApprovalRequested},
		From:       &from, To: &to,
		Order: "asc",
	}, func(e *models.Event) {
		approvedSessions[e.SessionID] = true
	})
	if err != nil {
		return 0, err
	}

	var violations int64
	err = b.forEachEvent(ctx, tenantID, models.EventFilter{
		EventTypes: []models.EventType{models.EventToolCall},
		From:       &from, To: &to,
		Order: "asc",
	}, func(e *models.Event) {
		var p models.ToolCallPayload
		if json.Unmarshal(e.Payload, &p) != nil {
			return
		}
		if guarded[p.ToolName] && !approvedSessions[e.SessionID] {
			violations++
		}
	})
	if err != nil {
		return 0, err
	}
	return violations, nil
}

func (b *Builder) collectIncidents(ctx context.Context, tenantID string, from, to time.Time) ([]Incident, error) {
	incidents := []Incident{}

	add := func(e *models.Event) {
		if len(incidents) >= maxIncidents {
			return
		}
		incidents = append(incidents, Incident{
			EventID:   e.ID,
			Timestamp: e.Timestamp,
			SessionID: e.SessionID,
			AgentID:   e.AgentID,
			EventType: e.EventType,
			Severity:  e.Severity,
		})
	}

	err := b.forEachEvent(ctx, tenantID, models.EventFilter{
		Severities: []models.Severity{models.SeverityError, models.SeverityCritical},
		From:       &from, To: &to,
		Order: "asc",
	}, add)
	if err != nil {
		return nil, err
	}

	err = b.forEachEvent(ctx, tenantID, models.EventFilter{
		EventTypes: []models.EventType{models.EventAlertTriggered},
		From:       &from, To: &to,
		Order: "asc",
	}, func(e *models.Event) {
		if e.Severity != models.SeverityError && e.Severity != models.SeverityCritical {
			add(e) // not already collected by the severity pass
		}
	})
	if err != nil {
		return nil, err
	}
	return incidents, nil
}

func (b *Builder) costUsage(ctx context.Context, tenantID string, from, to time.Time) (CostUsage, error) {
	usage := CostUsage{ByAgent: map[string]float64{}}

	err := b.forEachEvent(ctx, tenantID, models.EventFilter{
		EventTypes: []models.EventType{models.EventCostTracked, models.EventLLMResponse},
		From:       &from, To: &to,
		Order: "asc",
	}, func(e *models.Event) {
		var cost float64
		switch e.EventType {
		case models.EventCostTracked:
			var p models.CostTrackedPayload
			if json.Unmarshal(e.Payload, &p) == nil {
				cost = p.CostUsd
			}
		case models.EventLLMResponse:
			var p models.LLMResponsePayload
			if json.Unmarshal(e.Payload, &p) == nil {
				cost = p.CostUsd
			}
		}
		usage.TotalUsd += cost
		usage.ByAgent[e.AgentID] += cost
	})
	if err != nil {
		return CostUsage{}, err
	}
	return usage, nil
}

func (b *Builder) retentionSection(ctx context.Context, tenantID string, chainIntact bool) (RetentionSection, error) {
	section := RetentionSection{ChainIntact: chainIntact}

	policy, err := retention.ResolvePolicy(ctx, b.store, tenantID)
	if err != nil {
		return RetentionSection{}, err
	}
	section.RetentionDays = policy.EventDays

	oldest, _, err := b.store.QueryEvents(ctx, tenantID, models.EventFilter{Order: "asc", Limit: 1})
	if err != nil {
		return RetentionSection{}, err
	}
	if len(oldest) > 0 {
		ts := oldest[0].Timestamp
		section.OldestEvent = &ts
	}
	return section, nil
}

func (b *Builder) forEachEvent(ctx context.Context, tenantID string, f models.EventFilter, fn func(*models.Event)) error {
	f.Limit = verifyPageSize
	for offset := 0; ; offset += verifyPageSize {
		f.Offset = offset
		events, _, err := b.store.QueryEvents(ctx, tenantID, f)
		if err != nil {
			return err
		}
		for _, e := range events {
			fn(e)
		}
		if len(events) < verifyPageSize {
			return nil
		}
	}
}

// sign computes "hmac-sha256:<hex>" over the report serialized with a null
// signature field.
func (b *Builder) sign(r *Report) (string, error) {
	unsigned := *r
	unsigned.Signature = nil
	data, err := json.Marshal(&unsigned)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(b.signingKey))
	mac.Write(data)
	return "hmac-sha256:" + hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature recomputes a report's signature with the given key.
func VerifySignature(r *Report, key string) bool {
	if r.Signature == nil {
		return false
	}
	b := &Builder{signingKey: key}
	sig, err := b.sign(r)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(*r.Signature))
}
