package ingest

import (
	"sync"
	"time"

	"github.com/agentlens/agentlens/pkg/config"
)

// windowSize is the fixed rate-limit window.
const windowSize = 60 * time.Second

type window struct {
	start time.Time
	count int64
}

// RateLimiter enforces per-key and per-org fixed-window budgets. A batch
// consumes its full event count from both counters atomically: if either
// budget would be exceeded, the batch is refused and neither counter moves.
type RateLimiter struct {
	mu      sync.Mutex
	perKey  map[string]*window
	perOrg  map[string]*window
	nowFunc func() time.Time
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		perKey:  make(map[string]*window),
		perOrg:  make(map[string]*window),
		nowFunc: time.Now,
	}
}

// Allow charges count events against the (orgID, keyID) budgets.
// keyOverride, when > 0, supersedes the tier's per-key limit. On refusal the
// returned retryAfter is the time until the tighter window resets.
func (l *RateLimiter) Allow(orgID, keyID string, count int64, tier config.Tier, keyOverride int64) (allowed bool, retryAfter time.Duration) {
	budget := config.BudgetFor(tier)
	keyLimit := budget.PerKey
	if keyOverride > 0 {
		keyLimit = keyOverride
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	kw := l.currentWindow(l.perKey, orgID+"/"+keyID, now)
	ow := l.currentWindow(l.perOrg, orgID, now)

	if kw.count+count > keyLimit {
		return false, windowRemaining(kw, now)
	}
	if ow.count+count > budget.PerOrg {
		return false, windowRemaining(ow, now)
	}

	kw.count += count
	ow.count += count
	return true, 0
}

func (l *RateLimiter) currentWindow(buckets map[string]*window, key string, now time.Time) *window {
	w := buckets[key]
	if w == nil || now.Sub(w.start) >= windowSize {
		w = &window{start: now}
		buckets[key] = w
	}
	return w
}

func windowRemaining(w *window, now time.Time) time.Duration {
	remaining := windowSize - now.Sub(w.start)
	if remaining < time.Second {
		remaining = time.Second
	}
	return remaining.Round(time.Second)
}

// Reset clears all counters. Test hook.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perKey = make(map[string]*window)
	l.perOrg = make(map[string]*window)
}

// IPRateLimiter is a single-counter fixed-window limiter keyed by client IP,
// used by the OTLP receiver.
type IPRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*window
	limit   int64
	nowFunc func() time.Time
}

// NewIPRateLimiter creates a per-IP limiter with the given per-minute limit.
func NewIPRateLimiter(perMinute int64) *IPRateLimiter {
	return &IPRateLimiter{
		buckets: make(map[string]*window),
		limit:   perMinute,
		nowFunc: time.Now,
	}
}

// Allow charges one request against the ip bucket.
func (l *IPRateLimiter) Allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	w := l.buckets[ip]
	if w == nil || now.Sub(w.start) >= windowSize {
		w = &window{start: now}
		l.buckets[ip] = w
	}
	if w.count+1 > l.limit {
		return false, windowRemaining(w, now)
	}
	w.count++
	return true, 0
}
