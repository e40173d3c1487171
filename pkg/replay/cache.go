package replay

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	key     string
	state   *ReplayState
	builtAt time.Time
}

// Cache is a bounded LRU of recent replay states with TTL expiration, keyed
// by (tenantId, sessionId). Cached states have their per-step llmHistory
// capped to bound memory; entries expire lazily on Get.
type Cache struct {
	mu            sync.Mutex
	entries       map[string]*list.Element
	order         *list.List // front = most recent
	maxEntries    int
	ttl           time.Duration
	maxLLMHistory int
}

// NewCache creates a replay cache. maxEntries and ttl bound growth;
// maxLLMHistory caps per-step history length at insert time.
func NewCache(maxEntries int, ttl time.Duration, maxLLMHistory int) *Cache {
	return &Cache{
		entries:       make(map[string]*list.Element),
		order:         list.New(),
		maxEntries:    maxEntries,
		ttl:           ttl,
		maxLLMHistory: maxLLMHistory,
	}
}

func cacheKey(tenantID, sessionID string) string {
	return tenantID + "/" + sessionID
}

// Get returns a clone of the cached state, if present and fresh.
func (c *Cache) Get(tenantID, sessionID string) (*ReplayState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[cacheKey(tenantID, sessionID)]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Since(entry.builtAt) > c.ttl {
		c.removeLocked(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.state.Clone(), true
}

// Set stores a state, evicting the least recently used entry when full.
func (c *Cache) Set(tenantID, sessionID string, state *ReplayState) {
	capped := state.Clone()
	for i := range capped.Steps {
		ctx := capped.Steps[i].Context
		if ctx != nil && len(ctx.LLMHistory) > c.maxLLMHistory {
			trimmed := *ctx
			trimmed.LLMHistory = trimmed.LLMHistory[len(trimmed.LLMHistory)-c.maxLLMHistory:]
			capped.Steps[i].Context = &trimmed
		}
	}

	key := cacheKey(tenantID, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).state = capped
		el.Value.(*cacheEntry).builtAt = time.Now()
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{key: key, state: capped, builtAt: time.Now()})
	c.entries[key] = el

	for c.order.Len() > c.maxEntries {
		c.removeLocked(c.order.Back())
	}
}

// Invalidate drops a session's cached state (called after new ingests).
func (c *Cache) Invalidate(tenantID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[cacheKey(tenantID, sessionID)]; ok {
		c.removeLocked(el)
	}
}

// Reset drops everything. Test hook.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the number of cached states.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(el)
}
