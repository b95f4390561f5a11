package ratelimit

import (
	"testing"
	"time"
)

func TestRecordShortLocksForDuration(t *testing.T) {
	tr := New(20*time.Millisecond, time.Hour)
	tr.RecordShort("a", 0)
	if !tr.IsLocked("a") {
		t.Fatalf("expected account locked immediately after RecordShort")
	}
	time.Sleep(30 * time.Millisecond)
	if tr.IsLocked("a") {
		t.Fatalf("expected lock to expire")
	}
}

func TestRecordLongOutlastsShort(t *testing.T) {
	tr := New(5*time.Millisecond, time.Hour)
	tr.RecordLong("a")
	time.Sleep(10 * time.Millisecond)
	if !tr.IsLocked("a") {
		t.Fatalf("expected long lockout to still be active")
	}
	st, ok := tr.State("a")
	if !ok || st.Reason != ReasonLong {
		t.Fatalf("State() = %+v, %v; want ReasonLong", st, ok)
	}
}

func TestRetryAfterOverridesDefault(t *testing.T) {
	tr := New(time.Hour, time.Hour)
	tr.RecordShort("a", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if tr.IsLocked("a") {
		t.Fatalf("expected explicit retryAfter to override the short default")
	}
}

func TestClearBypassesLock(t *testing.T) {
	tr := New(time.Hour, time.Hour)
	tr.RecordLong("a")
	tr.Clear("a")
	if tr.IsLocked("a") {
		t.Fatalf("expected Clear to remove lockout for operator bypass")
	}
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	tr := New(5*time.Millisecond, time.Hour)
	tr.RecordShort("expired", 0)
	tr.RecordLong("active")
	time.Sleep(10 * time.Millisecond)

	removed := tr.Sweep()
	if removed != 1 {
		t.Fatalf("Sweep() removed = %d, want 1", removed)
	}
	if !tr.IsLocked("active") {
		t.Fatalf("expected active long lockout to survive sweep")
	}
}
