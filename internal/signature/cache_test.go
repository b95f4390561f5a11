package signature

import (
	"strings"
	"testing"
	"time"
)

func validSig(tag string) string {
	return strings.Repeat("a", MinValidLen) + tag
}

func TestPutGetRoundTrip(t *testing.T) {
	c := New(time.Hour)
	hash := HashContent("some thinking text")
	c.Put(hash, validSig("1"), "claude")

	got, ok := c.Get(hash)
	if !ok || got != validSig("1") {
		t.Fatalf("Get() = %q, %v; want %q, true", got, ok, validSig("1"))
	}
}

func TestResolveMissReturnsBypassSentinel(t *testing.T) {
	c := New(time.Hour)
	if got := c.Resolve("never seen text"); got != BypassSentinel {
		t.Fatalf("Resolve() = %q, want sentinel", got)
	}
}

func TestResolveEmptyTextReturnsBypassSentinel(t *testing.T) {
	c := New(time.Hour)
	if got := c.Resolve(""); got != BypassSentinel {
		t.Fatalf("Resolve(\"\") = %q, want sentinel", got)
	}
}

func TestPutIdempotentOverwrite(t *testing.T) {
	c := New(time.Hour)
	hash := HashContent("text")
	c.Put(hash, validSig("1"), "claude")
	c.Put(hash, validSig("2"), "claude")

	got, ok := c.Get(hash)
	if !ok || got != validSig("2") {
		t.Fatalf("Get() after overwrite = %q, want %q", got, validSig("2"))
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (overwrite must not duplicate)", c.Len())
	}
}

func TestPutRejectsShortSignature(t *testing.T) {
	c := New(time.Hour)
	hash := HashContent("text")
	c.Put(hash, "short", "claude")
	if _, ok := c.Get(hash); ok {
		t.Fatalf("Get() found a signature shorter than MinValidLen")
	}
}

func TestSweepEvictsOld(t *testing.T) {
	c := New(10 * time.Millisecond)
	hash := HashContent("text")
	c.Put(hash, validSig("1"), "claude")
	time.Sleep(20 * time.Millisecond)

	if n := c.Sweep(); n != 1 {
		t.Fatalf("Sweep() removed %d, want 1", n)
	}
	if _, ok := c.Get(hash); ok {
		t.Fatalf("entry survived sweep")
	}
}
