package tokenstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrel-proxy/relaygate/internal/model"
)

type fakeRefresher struct {
	calls  int32
	delay  time.Duration
	result model.TokenCredential
	err    error
}

func (f *fakeRefresher) Refresh(ctx context.Context, cred model.TokenCredential) (model.TokenCredential, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return model.TokenCredential{}, f.err
	}
	return f.result, nil
}

func TestGetReturnsValidCredentialWithoutRefresh(t *testing.T) {
	fr := &fakeRefresher{}
	s := New(fr)
	s.Put(model.TokenCredential{AccountID: "a1", AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)})

	cred, err := s.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cred.AccessToken != "tok" {
		t.Fatalf("AccessToken = %q, want tok", cred.AccessToken)
	}
	if fr.calls != 0 {
		t.Fatalf("calls = %d, want 0 refreshes for a fresh credential", fr.calls)
	}
}

func TestGetRefreshesExpiredCredential(t *testing.T) {
	fr := &fakeRefresher{result: model.TokenCredential{AccountID: "a1", AccessToken: "new-tok", ExpiresAt: time.Now().Add(time.Hour)}}
	s := New(fr)
	s.Put(model.TokenCredential{AccountID: "a1", AccessToken: "old-tok", ExpiresAt: time.Now().Add(-time.Minute)})

	cred, err := s.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cred.AccessToken != "new-tok" {
		t.Fatalf("AccessToken = %q, want refreshed new-tok", cred.AccessToken)
	}
	if fr.calls != 1 {
		t.Fatalf("calls = %d, want exactly 1 refresh", fr.calls)
	}
}

func TestGetRefreshesWithinSafetyMargin(t *testing.T) {
	fr := &fakeRefresher{result: model.TokenCredential{AccountID: "a1", AccessToken: "new-tok", ExpiresAt: time.Now().Add(time.Hour)}}
	s := New(fr)
	s.Put(model.TokenCredential{AccountID: "a1", AccessToken: "old-tok", ExpiresAt: time.Now().Add(10 * time.Second)})

	cred, err := s.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cred.AccessToken != "new-tok" {
		t.Fatalf("AccessToken = %q, want refreshed since within safety margin", cred.AccessToken)
	}
}

func TestConcurrentGetSerializesRefreshPerAccount(t *testing.T) {
	fr := &fakeRefresher{delay: 20 * time.Millisecond, result: model.TokenCredential{AccountID: "a1", AccessToken: "new-tok", ExpiresAt: time.Now().Add(time.Hour)}}
	s := New(fr)
	s.Put(model.TokenCredential{AccountID: "a1", AccessToken: "old-tok", ExpiresAt: time.Now().Add(-time.Minute)})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Get(context.Background(), "a1"); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if fr.calls != 1 {
		t.Fatalf("calls = %d, want exactly 1 refresh shared across 10 concurrent callers", fr.calls)
	}
}

func TestGetUnknownAccountErrors(t *testing.T) {
	s := New(&fakeRefresher{})
	if _, err := s.Get(context.Background(), "missing"); err == nil {
		t.Fatalf("Get() for unknown account succeeded, want error")
	}
}
