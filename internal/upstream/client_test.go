package upstream

import (
	"testing"
	"time"
)

func TestGetClampsTimeoutBelowFloor(t *testing.T) {
	p := NewPool()
	_, clamped, err := p.Get("", 1*time.Second)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !clamped {
		t.Fatalf("clamped = false, want true for a 1s timeout below the %v floor", MinTimeout)
	}
}

func TestGetDoesNotClampAboveFloor(t *testing.T) {
	p := NewPool()
	_, clamped, err := p.Get("", 30*time.Second)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if clamped {
		t.Fatalf("clamped = true, want false for a 30s timeout")
	}
}

func TestGetReusesClientForSameKey(t *testing.T) {
	p := NewPool()
	a, _, _ := p.Get("", 10*time.Second)
	b, _, _ := p.Get("", 10*time.Second)
	if a != b {
		t.Fatalf("Get() returned distinct clients for the same (proxy, timeout) key")
	}
}

func TestGetSeparatesClientsByProxy(t *testing.T) {
	p := NewPool()
	a, _, err := p.Get("socks5://proxy-a:8080", 10*time.Second)
	if err != nil {
		t.Fatalf("Get(proxy-a) error = %v", err)
	}
	b, _, err := p.Get("socks5://proxy-b:8080", 10*time.Second)
	if err != nil {
		t.Fatalf("Get(proxy-b) error = %v", err)
	}
	if a == b {
		t.Fatalf("Get() returned the same client for two distinct proxy URLs")
	}
}

func TestGetRejectsUnparsableProxyURL(t *testing.T) {
	p := NewPool()
	_, _, err := p.Get("://not-a-url", 10*time.Second)
	if err == nil {
		t.Fatalf("Get() with an unparsable proxy URL succeeded, want error (§4.9: must not fall through to direct)")
	}
}
