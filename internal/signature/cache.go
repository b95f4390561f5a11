// Package signature implements the process-wide thinking-signature cache
// (§4.1). It maps the 16-hex-character SHA-256 prefix of a thinking block's
// canonical text to the opaque signature upstream last issued for it, so a
// client replaying history can re-attach a valid thoughtSignature on every
// functionCall part.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// BypassSentinel is the documented placeholder injected on cache miss so a
// functionCall part is never sent without a thoughtSignature field (§4.1,
// §4.8). Upstream accepts it as "I have no real signature for this turn".
const BypassSentinel = "skip_thought_signature_validator"

// MinValidLen is the shortest signature upstream has ever issued; anything
// shorter is treated as noise and never cached.
const MinValidLen = 50

// Entry is one cached signature record (§3 ThinkingSignature).
type Entry struct {
	Signature    string
	ModelFamily  string
	CreatedAt    time.Time
	LastUsedAt   time.Time
}

// HashContent derives the cache key from canonical thinking-block text.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// Cache is a bounded, concurrency-safe signature store. The zero value is
// not usable; construct with New.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	maxAge  time.Duration
}

// New constructs a Cache that evicts entries older than maxAge on Sweep.
func New(maxAge time.Duration) *Cache {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &Cache{entries: make(map[string]*Entry), maxAge: maxAge}
}

// Put stores sig under hash, tagged with family. Idempotent overwrite under
// the same hash; LastUsedAt is refreshed on every call (§4.1).
func (c *Cache) Put(hash, sig, family string) {
	if hash == "" || sig == "" || len(sig) < MinValidLen {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[hash]; ok {
		existing.Signature = sig
		existing.ModelFamily = family
		existing.LastUsedAt = now
		return
	}
	c.entries[hash] = &Entry{Signature: sig, ModelFamily: family, CreatedAt: now, LastUsedAt: now}
}

// Get returns the cached signature for hash, touching LastUsedAt. The
// mapping is monotonic: only LastUsedAt mutates after insertion (§3).
func (c *Cache) Get(hash string) (string, bool) {
	if hash == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return "", false
	}
	e.LastUsedAt = time.Now()
	return e.Signature, true
}

// Resolve returns the signature for the given thinking text, falling back
// to BypassSentinel on miss so outbound functionCall parts are never left
// without a thoughtSignature (§4.1, §4.8). family is recorded on insert.
func (c *Cache) Resolve(text string) string {
	if text == "" {
		return BypassSentinel
	}
	hash := HashContent(text)
	if sig, ok := c.Get(hash); ok {
		return sig
	}
	return BypassSentinel
}

// Sweep removes entries whose LastUsedAt is older than the cache's maxAge.
// Intended to run on a background timer (§4.1, §3 lifecycle).
func (c *Cache) Sweep() int {
	cutoff := time.Now().Add(-c.maxAge)
	removed := 0
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.LastUsedAt.Before(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the current entry count, mainly for tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
