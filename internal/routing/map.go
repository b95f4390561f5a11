// Package routing implements the read-mostly RoutingMap (§3, §9): a
// sequence of pattern -> target entries supporting wildcard matching, a
// sentinel internal-background-task target, and a last-write-wins merge
// for cross-instance reconciliation (§4.13, P6).
package routing

import (
	"path"
	"sync"
	"time"
)

// Entry is one routing rule. A Tombstone marks a deleted rule that must
// still be retained (with its UpdatedAt) for the configured retention
// horizon so merges don't resurrect it (P6).
type Entry struct {
	Pattern   string
	Target    string
	UpdatedAt time.Time
	Tombstone bool
}

// Map is a concurrency-safe, read-mostly collection of routing Entries.
type Map struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New constructs an empty Map.
func New() *Map {
	return &Map{entries: make(map[string]Entry)}
}

// Set inserts or overwrites the rule for pattern, stamped with now.
func (m *Map) Set(pattern, target string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[pattern] = Entry{Pattern: pattern, Target: target, UpdatedAt: now}
}

// Delete tombstones the rule for pattern rather than removing it outright,
// so a later merge from a peer that still has the old entry does not
// resurrect it (P6: tombstones preserved for the retention horizon).
func (m *Map) Delete(pattern string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[pattern] = Entry{Pattern: pattern, UpdatedAt: now, Tombstone: true}
}

// Resolve finds the target for model, matching literal patterns first, then
// '*'-glob wildcard patterns (path.Match semantics), returning the sentinel
// internal-background-task target unmodified if matched.
func (m *Map) Resolve(model string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.entries[model]; ok && !e.Tombstone {
		return e.Target, true
	}
	for pattern, e := range m.entries {
		if e.Tombstone {
			continue
		}
		if pattern == model {
			continue // already checked above
		}
		if matched, _ := path.Match(pattern, model); matched {
			return e.Target, true
		}
	}
	return "", false
}

// Snapshot returns a defensive copy of every non-tombstoned entry, for
// /v1/models listing after routing-map rewrites (§6).
func (m *Map) Snapshot() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if !e.Tombstone {
			out = append(out, e)
		}
	}
	return out
}

// Merge performs a last-write-wins merge of remote entries into m: per
// pattern, the entry with the later UpdatedAt wins; on equal UpdatedAt a
// tombstone beats a live entry, then the lexically larger Target wins, and an
// identical entry leaves the map unchanged. Merge is commutative and
// idempotent (P6): merging the same remote state twice, or merging A∪B in
// either order, converges to the same map.
func (m *Map) Merge(remote []Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, re := range remote {
		local, ok := m.entries[re.Pattern]
		tie := ok && re.UpdatedAt.Equal(local.UpdatedAt) &&
			((re.Tombstone && !local.Tombstone) || (re.Tombstone == local.Tombstone && re.Target > local.Target))
		if !ok || re.UpdatedAt.After(local.UpdatedAt) || tie {
			m.entries[re.Pattern] = re
		}
	}
}
