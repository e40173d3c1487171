package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentlens/agentlens/pkg/models"
)

// MemStore is the in-memory backend. It honors the full Store contract,
// including atomic batch inserts with aggregate maintenance, and is the
// default backend for tests and single-node development.
type MemStore struct {
	mu sync.RWMutex

	// tenant → ordered event list (arrival order) + id index
	events     map[string][]*models.Event
	eventsByID map[string]map[string]*models.Event

	sessions map[string]map[string]*models.Session
	agents   map[string]map[string]*models.Agent

	alertRules   map[string]map[string]*models.AlertRule
	alertHistory map[string][]*models.AlertHistory

	auditLog map[string][]*models.AuditLogEntry
	configKV map[string]map[string]string
	apiKeys  map[string]*models.APIKey // keyed by key hash
	health   map[string][]*models.HealthScore

	capabilities map[string]map[string]*models.Capability
	trust        map[string]map[string]*models.TrustScore // tenant → agent
	guardrails   map[string]map[string]*models.GuardrailRule
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		events:       make(map[string][]*models.Event),
		eventsByID:   make(map[string]map[string]*models.Event),
		sessions:     make(map[string]map[string]*models.Session),
		agents:       make(map[string]map[string]*models.Agent),
		alertRules:   make(map[string]map[string]*models.AlertRule),
		alertHistory: make(map[string][]*models.AlertHistory),
		auditLog:     make(map[string][]*models.AuditLogEntry),
		configKV:     make(map[string]map[string]string),
		apiKeys:      make(map[string]*models.APIKey),
		health:       make(map[string][]*models.HealthScore),
		capabilities: make(map[string]map[string]*models.Capability),
		trust:        make(map[string]map[string]*models.TrustScore),
		guardrails:   make(map[string]map[string]*models.GuardrailRule),
	}
}

var _ Store = (*MemStore)(nil)

// ─── Events ───

func (m *MemStore) InsertEvents(ctx context.Context, tenantID string, events []*models.Event) error {
	// Atomicity: refuse a dead context before touching any state, so a
	// reported failure never leaves the batch behind.
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := m.eventsByID[tenantID]
	if byID == nil {
		byID = make(map[string]*models.Event)
		m.eventsByID[tenantID] = byID
	}
	for _, e := range events {
		if _, dup := byID[e.ID]; dup {
			return ErrAlreadyExists
		}
	}

	newSessions := make(map[string]bool)
	for _, e := range events {
		stored := e.Clone()
		stored.TenantID = tenantID
		m.events[tenantID] = append(m.events[tenantID], stored)
		byID[stored.ID] = stored

		sess := m.sessionLocked(tenantID, stored.SessionID)
		if sess == nil {
			sess = NewSessionFromEvent(stored)
			if m.sessions[tenantID] == nil {
				m.sessions[tenantID] = make(map[string]*models.Session)
			}
			m.sessions[tenantID][sess.ID] = sess
			newSessions[sess.ID] = true
		}
		ApplyEventToSession(sess, stored)

		m.touchAgentLocked(tenantID, stored, newSessions[stored.SessionID])
		// A session counts toward the agent once.
		newSessions[stored.SessionID] = false
	}
	return nil
}

func (m *MemStore) touchAgentLocked(tenantID string, e *models.Event, newSession bool) {
	if m.agents[tenantID] == nil {
		m.agents[tenantID] = make(map[string]*models.Agent)
	}
	a := m.agents[tenantID][e.AgentID]
	if a == nil {
		a = &models.Agent{
			ID:          e.AgentID,
			TenantID:    tenantID,
			Name:        e.AgentID,
			FirstSeenAt: e.Timestamp,
		}
		m.agents[tenantID][e.AgentID] = a
	}
	if e.Timestamp.After(a.LastSeenAt) {
		a.LastSeenAt = e.Timestamp
	}
	if e.EventType == models.EventSessionStarted {
		var p models.SessionStartedPayload
		if err := e.DecodePayload(&p); err == nil && p.AgentName != "" {
			a.Name = p.AgentName
		}
	}
	if newSession {
		a.SessionCount++
	}
}

func (m *MemStore) GetEvent(ctx context.Context, tenantID, id string) (*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.eventsByID[tenantID][id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func matchEvent(e *models.Event, f models.EventFilter) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Severities) > 0 {
		found := false
		for _, s := range f.Severities {
			if e.Severity == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.Timestamp.Before(*f.To) {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(string(e.Payload)), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

func (m *MemStore) QueryEvents(ctx context.Context, tenantID string, f models.EventFilter) ([]*models.Event, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*models.Event
	for _, e := range m.events[tenantID] {
		if matchEvent(e, f) {
			matched = append(matched, e)
		}
	}

	asc := f.Order == "asc"
	sort.SliceStable(matched, func(i, j int) bool {
		ti, tj := matched[i].Timestamp, matched[j].Timestamp
		if ti.Equal(tj) {
			// ULIDs are time-sortable; break timestamp ties by id.
			if asc {
				return matched[i].ID < matched[j].ID
			}
			return matched[i].ID > matched[j].ID
		}
		if asc {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})

	total := int64(len(matched))
	matched = paginate(matched, f.Offset, f.Limit)

	out := make([]*models.Event, len(matched))
	for i, e := range matched {
		out[i] = e.Clone()
	}
	return out, total, nil
}

func paginate[T any](list []T, offset, limit int) []T {
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}

func (m *MemStore) GetSessionTimeline(ctx context.Context, tenantID, sessionID string) ([]*models.Event, error) {
	events, _, err := m.QueryEvents(ctx, tenantID, models.EventFilter{
		SessionID: sessionID,
		Order:     "asc",
	})
	return events, err
}

func (m *MemStore) GetChainTip(ctx context.Context, tenantID, sessionID string) (*ChainTip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Newest by (timestamp, id), the same ordering GetSessionTimeline uses.
	var tip *models.Event
	for _, e := range m.events[tenantID] {
		if e.SessionID != sessionID {
			continue
		}
		if tip == nil || e.Timestamp.After(tip.Timestamp) ||
			(e.Timestamp.Equal(tip.Timestamp) && e.ID > tip.ID) {
			tip = e
		}
	}
	if tip == nil {
		return nil, nil
	}
	return &ChainTip{Hash: tip.Hash, Timestamp: tip.Timestamp}, nil
}

func (m *MemStore) CountEvents(ctx context.Context, tenantID string, f models.EventFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, e := range m.events[tenantID] {
		if matchEvent(e, f) {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) CountEventsBatch(ctx context.Context, tenantID string, f models.EventFilter) (models.EventCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c models.EventCounts
	for _, e := range m.events[tenantID] {
		if !matchEvent(e, f) {
			continue
		}
		c.Total++
		switch {
		case e.Severity == models.SeverityCritical:
			c.Critical++
		case e.Severity == models.SeverityError:
			c.Errors++
		}
		if e.EventType == models.EventToolError {
			c.ToolError++
		}
	}
	return c, nil
}

// ─── Sessions ───

func (m *MemStore) sessionLocked(tenantID, id string) *models.Session {
	return m.sessions[tenantID][id]
}

func (m *MemStore) UpsertSession(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[session.TenantID] == nil {
		m.sessions[session.TenantID] = make(map[string]*models.Session)
	}
	m.sessions[session.TenantID][session.ID] = session.Clone()
	return nil
}

func (m *MemStore) GetSession(ctx context.Context, tenantID, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[tenantID][id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemStore) QuerySessions(ctx context.Context, tenantID string, f models.SessionFilter) ([]*models.Session, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*models.Session
	for _, s := range m.sessions[tenantID] {
		if f.AgentID != "" && s.AgentID != f.AgentID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.From != nil && s.StartedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !s.StartedAt.Before(*f.To) {
			continue
		}
		if len(f.Tags) > 0 && !hasAllTags(s.Tags, f.Tags) {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	total := int64(len(matched))
	matched = paginate(matched, f.Offset, f.Limit)

	out := make([]*models.Session, len(matched))
	for i, s := range matched {
		out[i] = s.Clone()
	}
	return out, total, nil
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

// ─── Agents ───

func (m *MemStore) UpsertAgent(ctx context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.agents[agent.TenantID] == nil {
		m.agents[agent.TenantID] = make(map[string]*models.Agent)
	}
	cp := *agent
	m.agents[agent.TenantID][agent.ID] = &cp
	return nil
}

func (m *MemStore) GetAgent(ctx context.Context, tenantID, id string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[tenantID][id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemStore) ListAgents(ctx context.Context, tenantID string) ([]*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Agent, 0, len(m.agents[tenantID]))
	for _, a := range m.agents[tenantID] {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ─── Analytics / stats ───

func (m *MemStore) GetAnalytics(ctx context.Context, tenantID string, q models.AnalyticsQuery) (*models.Analytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	step := 24 * time.Hour
	if q.Granularity == "hour" {
		step = time.Hour
	}

	buckets := make(map[time.Time]*models.AnalyticsBucket)
	latencies := make(map[time.Time][]int64)
	var allLatencies []int64
	sessions := make(map[string]bool)
	agents := make(map[string]bool)
	out := &models.Analytics{}

	for _, e := range m.events[tenantID] {
		if e.Timestamp.Before(q.From) || !e.Timestamp.Before(q.To) {
			continue
		}
		if q.AgentID != "" && e.AgentID != q.AgentID {
			continue
		}
		start := e.Timestamp.UTC().Truncate(step)
		b := buckets[start]
		if b == nil {
			b = &models.AnalyticsBucket{Start: start}
			buckets[start] = b
		}

		b.EventCount++
		out.EventCount++
		sessions[e.SessionID] = true
		agents[e.AgentID] = true

		switch e.EventType {
		case models.EventToolCall:
			b.ToolCallCount++
			out.ToolCallCount++
		case models.EventLLMResponse:
			var p models.LLMResponsePayload
			if err := e.DecodePayload(&p); err == nil {
				b.TotalCostUsd += p.CostUsd
				out.TotalCostUsd += p.CostUsd
				if p.LatencyMs > 0 {
					latencies[start] = append(latencies[start], p.LatencyMs)
					allLatencies = append(allLatencies, p.LatencyMs)
				}
			}
		case models.EventCostTracked:
			var p models.CostTrackedPayload
			if err := e.DecodePayload(&p); err == nil {
				b.TotalCostUsd += p.CostUsd
				out.TotalCostUsd += p.CostUsd
			}
		}
		if e.EventType == models.EventToolError || models.SeverityRank(e.Severity) >= models.SeverityRank(models.SeverityError) {
			b.ErrorCount++
			out.ErrorCount++
		}
	}

	for start, b := range buckets {
		b.AvgLatencyMs = avgLatency(latencies[start])
		out.Buckets = append(out.Buckets, *b)
	}
	sort.Slice(out.Buckets, func(i, j int) bool { return out.Buckets[i].Start.Before(out.Buckets[j].Start) })

	out.AvgLatencyMs = avgLatency(allLatencies)
	out.UniqueSessions = int64(len(sessions))
	out.UniqueAgents = int64(len(agents))
	return out, nil
}

func avgLatency(ms []int64) float64 {
	if len(ms) == 0 {
		return 0
	}
	var sum int64
	for _, v := range ms {
		sum += v
	}
	return float64(sum) / float64(len(ms))
}

func (m *MemStore) GetStats(ctx context.Context, tenantID string) (*models.TenantStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &models.TenantStats{
		Events:   int64(len(m.events[tenantID])),
		Sessions: int64(len(m.sessions[tenantID])),
		Agents:   int64(len(m.agents[tenantID])),
	}, nil
}

// ─── Alert rules / history ───

func (m *MemStore) CreateAlertRule(ctx context.Context, rule *models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alertRules[rule.TenantID] == nil {
		m.alertRules[rule.TenantID] = make(map[string]*models.AlertRule)
	}
	if _, dup := m.alertRules[rule.TenantID][rule.ID]; dup {
		return ErrAlreadyExists
	}
	cp := *rule
	m.alertRules[rule.TenantID][rule.ID] = &cp
	return nil
}

func (m *MemStore) UpdateAlertRule(ctx context.Context, rule *models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alertRules[rule.TenantID][rule.ID]; !ok {
		return ErrNotFound
	}
	cp := *rule
	m.alertRules[rule.TenantID][rule.ID] = &cp
	return nil
}

func (m *MemStore) DeleteAlertRule(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alertRules[tenantID][id]; !ok {
		return ErrNotFound
	}
	delete(m.alertRules[tenantID], id)
	// History cascades with its rule.
	kept := m.alertHistory[tenantID][:0]
	for _, h := range m.alertHistory[tenantID] {
		if h.RuleID != id {
			kept = append(kept, h)
		}
	}
	m.alertHistory[tenantID] = kept
	return nil
}

func (m *MemStore) GetAlertRule(ctx context.Context, tenantID, id string) (*models.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.alertRules[tenantID][id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemStore) ListAlertRules(ctx context.Context, tenantID string) ([]*models.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.AlertRule, 0, len(m.alertRules[tenantID]))
	for _, r := range m.alertRules[tenantID] {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) InsertAlertHistory(ctx context.Context, h *models.AlertHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alertRules[h.TenantID][h.RuleID]; !ok {
		// Referential integrity: history requires its rule.
		return ErrNotFound
	}
	cp := *h
	m.alertHistory[h.TenantID] = append(m.alertHistory[h.TenantID], &cp)
	return nil
}

func (m *MemStore) ListAlertHistory(ctx context.Context, tenantID, ruleID string, limit int) ([]*models.AlertHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.AlertHistory
	for _, h := range m.alertHistory[tenantID] {
		if ruleID != "" && h.RuleID != ruleID {
			continue
		}
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) LatestAlertHistory(ctx context.Context, tenantID, ruleID string) (*models.AlertHistory, error) {
	list, err := m.ListAlertHistory(ctx, tenantID, ruleID, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// ─── Retention ───

func (m *MemStore) ApplyRetention(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	kept := m.events[tenantID][:0]
	for _, e := range m.events[tenantID] {
		if e.Timestamp.Before(cutoff) {
			delete(m.eventsByID[tenantID], e.ID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.events[tenantID] = kept
	return removed, nil
}

func (m *MemStore) ApplyAuditRetention(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	kept := m.auditLog[tenantID][:0]
	for _, entry := range m.auditLog[tenantID] {
		if entry.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	m.auditLog[tenantID] = kept
	return removed, nil
}

// ─── Audit log ───

func (m *MemStore) AppendAuditLog(ctx context.Context, entry *models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.auditLog[entry.TenantID] = append(m.auditLog[entry.TenantID], &cp)
	return nil
}

func (m *MemStore) ListAuditLog(ctx context.Context, tenantID string, limit, offset int) ([]*models.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.auditLog[tenantID]
	out := make([]*models.AuditLogEntry, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		cp := *list[i]
		out = append(out, &cp)
	}
	out = paginate(out, offset, limit)
	return out, nil
}

// ─── Config KV ───

func (m *MemStore) GetConfigValue(ctx context.Context, tenantID, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.configKV[tenantID][key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemStore) SetConfigValue(ctx context.Context, tenantID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configKV[tenantID] == nil {
		m.configKV[tenantID] = make(map[string]string)
	}
	m.configKV[tenantID][key] = value
	return nil
}

func (m *MemStore) ListConfigValues(ctx context.Context, tenantID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.configKV[tenantID]))
	for k, v := range m.configKV[tenantID] {
		out[k] = v
	}
	return out, nil
}

// ─── API keys ───

func (m *MemStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.apiKeys[keyHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *k
	cp.Scopes = append([]string(nil), k.Scopes...)
	return &cp, nil
}

func (m *MemStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.apiKeys[key.KeyHash]; dup {
		return ErrAlreadyExists
	}
	cp := *key
	cp.Scopes = append([]string(nil), key.Scopes...)
	m.apiKeys[key.KeyHash] = &cp
	return nil
}

// ─── Health scores ───

func (m *MemStore) InsertHealthScores(ctx context.Context, scores []*models.HealthScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range scores {
		cp := *s
		m.health[s.TenantID] = append(m.health[s.TenantID], &cp)
	}
	return nil
}

func (m *MemStore) ListHealthScores(ctx context.Context, tenantID, agentID string) ([]*models.HealthScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.HealthScore
	for _, s := range m.health[tenantID] {
		if agentID != "" && s.AgentID != agentID {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

// ─── Capabilities / trust / guardrails ───

func (m *MemStore) UpsertCapability(ctx context.Context, cap *models.Capability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capabilities[cap.TenantID] == nil {
		m.capabilities[cap.TenantID] = make(map[string]*models.Capability)
	}
	cp := *cap
	if existing, ok := m.capabilities[cap.TenantID][cap.ID]; ok {
		// First sighting wins.
		cp.FirstSeenAt = existing.FirstSeenAt
	}
	m.capabilities[cap.TenantID][cap.ID] = &cp
	return nil
}

func (m *MemStore) ListCapabilities(ctx context.Context, tenantID, agentID string) ([]*models.Capability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Capability
	for _, c := range m.capabilities[tenantID] {
		if agentID != "" && c.AgentID != agentID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) UpsertTrustScore(ctx context.Context, ts *models.TrustScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trust[ts.TenantID] == nil {
		m.trust[ts.TenantID] = make(map[string]*models.TrustScore)
	}
	cp := *ts
	m.trust[ts.TenantID][ts.AgentID] = &cp
	return nil
}

func (m *MemStore) GetTrustScore(ctx context.Context, tenantID, agentID string) (*models.TrustScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.trust[tenantID][agentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ts
	return &cp, nil
}

func (m *MemStore) CreateGuardrailRule(ctx context.Context, rule *models.GuardrailRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guardrails[rule.TenantID] == nil {
		m.guardrails[rule.TenantID] = make(map[string]*models.GuardrailRule)
	}
	if _, dup := m.guardrails[rule.TenantID][rule.ID]; dup {
		return ErrAlreadyExists
	}
	cp := *rule
	m.guardrails[rule.TenantID][rule.ID] = &cp
	return nil
}

func (m *MemStore) ListGuardrailRules(ctx context.Context, tenantID string) ([]*models.GuardrailRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.GuardrailRule, 0, len(m.guardrails[tenantID]))
	for _, r := range m.guardrails[tenantID] {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) DeleteGuardrailRule(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.guardrails[tenantID][id]; !ok {
		return ErrNotFound
	}
	delete(m.guardrails[tenantID], id)
	return nil
}

// ─── Tenants ───

func (m *MemStore) ListTenants(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	for t := range m.events {
		seen[t] = true
	}
	for t := range m.sessions {
		seen[t] = true
	}
	for t := range m.configKV {
		seen[t] = true
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}
