package ingest

import (
	"hash/fnv"
	"sync"
)

// lockShards bounds the session-lock map: locks live in a fixed set of
// shards, and each (tenantId, sessionId) maps to one shard-local mutex map
// entry that is created on demand and reference-counted away when idle.
const lockShards = 64

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

// SessionLocks serializes ingestion per (tenantId, sessionId). Locks across
// different sessions are independent; many sessions ingest in parallel.
type SessionLocks struct {
	shards [lockShards]lockShard
}

// NewSessionLocks creates the sharded lock map.
func NewSessionLocks() *SessionLocks {
	sl := &SessionLocks{}
	for i := range sl.shards {
		sl.shards[i].locks = make(map[string]*sessionLock)
	}
	return sl
}

func (s *SessionLocks) shardFor(key string) *lockShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%lockShards]
}

// Lock acquires the per-session mutex and returns its release function. The
// caller must invoke the release on every exit path; lifetime is bounded by
// one batch call.
func (s *SessionLocks) Lock(tenantID, sessionID string) func() {
	key := tenantID + "/" + sessionID
	shard := s.shardFor(key)

	shard.mu.Lock()
	l := shard.locks[key]
	if l == nil {
		l = &sessionLock{}
		shard.locks[key] = l
	}
	l.refs++
	shard.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			shard.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(shard.locks, key)
			}
			shard.mu.Unlock()
		})
	}
}
