package routing

import (
	"testing"
	"time"
)

func TestResolveLiteralAndWildcard(t *testing.T) {
	m := New()
	now := time.Now()
	m.Set("gemini-3-pro", "upstream-gemini-3-pro", now)
	m.Set("teamA/*", "upstream-teamA", now)

	if target, ok := m.Resolve("gemini-3-pro"); !ok || target != "upstream-gemini-3-pro" {
		t.Fatalf("Resolve(literal) = %q, %v", target, ok)
	}
	if target, ok := m.Resolve("teamA/gemini-3-pro-preview"); !ok || target != "upstream-teamA" {
		t.Fatalf("Resolve(wildcard) = %q, %v", target, ok)
	}
	if _, ok := m.Resolve("unknown-model"); ok {
		t.Fatalf("Resolve(unknown) unexpectedly matched")
	}
}

func TestMergeLastWriteWins(t *testing.T) {
	m := New()
	t0 := time.Now()
	m.Set("x", "old", t0)

	m.Merge([]Entry{{Pattern: "x", Target: "new", UpdatedAt: t0.Add(time.Second)}})
	if target, _ := m.Resolve("x"); target != "new" {
		t.Fatalf("Resolve() = %q, want \"new\" after later write wins", target)
	}

	// An older remote write must not clobber the current value.
	m.Merge([]Entry{{Pattern: "x", Target: "stale", UpdatedAt: t0}})
	if target, _ := m.Resolve("x"); target != "new" {
		t.Fatalf("Resolve() = %q, stale write should not win", target)
	}
}

func TestMergeIdempotent(t *testing.T) {
	m := New()
	now := time.Now()
	remote := []Entry{{Pattern: "x", Target: "v1", UpdatedAt: now}}
	m.Merge(remote)
	m.Merge(remote)
	if len(m.Snapshot()) != 1 {
		t.Fatalf("Snapshot() len = %d, want 1 after repeated identical merge", len(m.Snapshot()))
	}
}

func TestMergeCommutative(t *testing.T) {
	t0 := time.Now()
	a := Entry{Pattern: "x", Target: "a", UpdatedAt: t0}
	b := Entry{Pattern: "x", Target: "b", UpdatedAt: t0.Add(time.Second)}

	m1 := New()
	m1.Merge([]Entry{a})
	m1.Merge([]Entry{b})

	m2 := New()
	m2.Merge([]Entry{b})
	m2.Merge([]Entry{a})

	t1, _ := m1.Resolve("x")
	t2, _ := m2.Resolve("x")
	if t1 != t2 {
		t.Fatalf("merge order changed result: %q vs %q", t1, t2)
	}
}

func TestTombstonePreservedOnMerge(t *testing.T) {
	m := New()
	now := time.Now()
	m.Set("x", "v1", now)
	m.Delete("x", now.Add(time.Second))

	if _, ok := m.Resolve("x"); ok {
		t.Fatalf("Resolve() found tombstoned entry")
	}

	// An older remote re-add must not resurrect the tombstone.
	m.Merge([]Entry{{Pattern: "x", Target: "resurrected", UpdatedAt: now}})
	if _, ok := m.Resolve("x"); ok {
		t.Fatalf("Resolve() resurrected a tombstoned entry from a stale merge")
	}
}
