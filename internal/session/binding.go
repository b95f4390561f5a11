// Package session implements Session Binding (§4.6): a session_id ->
// account_id mapping with TTL and strict-LRU capacity eviction, so repeat
// turns on the same conversation keep hitting the same upstream account and
// preserve prompt-cache affinity.
package session

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Binding is one session's current account assignment (§3 SessionBinding).
type Binding struct {
	AccountID  string
	LastUsedAt time.Time
}

// Table is a concurrency-safe, capacity- and TTL-bounded binding store.
// Eviction on capacity overflow is strict LRU by LastUsedAt (P10): the
// underlying golang-lru cache evicts the least-recently-accessed entry,
// which is exactly the smallest LastUsedAt since every read/write touches
// recency.
type Table struct {
	mu    sync.Mutex
	cache *lru.Cache[string, Binding]
	ttl   time.Duration
}

// New constructs a Table with capacity C and TTL T.
func New(capacity int, ttl time.Duration) *Table {
	if capacity <= 0 {
		capacity = 1
	}
	c, _ := lru.New[string, Binding](capacity)
	return &Table{cache: c, ttl: ttl}
}

// Lookup returns the current binding for sessionID if present and not
// expired by TTL, refreshing its LastUsedAt.
func (t *Table) Lookup(sessionID string) (Binding, bool) {
	if sessionID == "" {
		return Binding{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.cache.Get(sessionID)
	if !ok {
		return Binding{}, false
	}
	if t.ttl > 0 && time.Since(b.LastUsedAt) > t.ttl {
		t.cache.Remove(sessionID)
		return Binding{}, false
	}
	b.LastUsedAt = time.Now()
	t.cache.Add(sessionID, b)
	return b, true
}

// Bind creates or overwrites the binding for sessionID, touching
// LastUsedAt. Called on first successful dispatch and on rebind after a
// migration (§4.6 rebinding rule, P3).
func (t *Table) Bind(sessionID, accountID string) {
	if sessionID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Add(sessionID, Binding{AccountID: accountID, LastUsedAt: time.Now()})
}

// Len reports the current number of tracked bindings.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}

// SweepExpired removes bindings whose TTL has elapsed. Safe to run on a
// background timer alongside the rate-limit sweeper.
func (t *Table) SweepExpired() int {
	if t.ttl <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for _, sessionID := range t.cache.Keys() {
		b, ok := t.cache.Peek(sessionID)
		if ok && time.Since(b.LastUsedAt) > t.ttl {
			t.cache.Remove(sessionID)
			removed++
		}
	}
	return removed
}
