package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kestrel-proxy/relaygate/internal/aimd"
	"github.com/kestrel-proxy/relaygate/internal/circuit"
	"github.com/kestrel-proxy/relaygate/internal/errs"
	"github.com/kestrel-proxy/relaygate/internal/model"
	"github.com/kestrel-proxy/relaygate/internal/ratelimit"
	"github.com/kestrel-proxy/relaygate/internal/selector"
	"github.com/kestrel-proxy/relaygate/internal/session"
	"github.com/kestrel-proxy/relaygate/internal/tokenstore"
	"github.com/kestrel-proxy/relaygate/internal/upstream"
)

type fakeRepo struct{ accounts []*model.Account }

func (f *fakeRepo) List(ctx context.Context) ([]*model.Account, error) { return f.accounts, nil }
func (f *fakeRepo) Get(ctx context.Context, id string) (*model.Account, error) {
	for _, a := range f.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}
func (f *fakeRepo) Upsert(ctx context.Context, acc *model.Account) error { return nil }
func (f *fakeRepo) UpdateQuota(ctx context.Context, accountID, family string, q model.Quota) error {
	return nil
}
func (f *fakeRepo) Delete(ctx context.Context, id string) error                     { return nil }
func (f *fakeRepo) SetProxyDisabled(ctx context.Context, id string, disabled bool) error { return nil }

type staticRefresher struct{}

func (staticRefresher) Refresh(ctx context.Context, cred model.TokenCredential) (model.TokenCredential, error) {
	cred.ExpiresAt = time.Now().Add(time.Hour)
	return cred, nil
}

func newTestDeps(t *testing.T, accounts []*model.Account, upstreamURL string) Deps {
	t.Helper()
	store := tokenstore.New(staticRefresher{})
	for _, a := range accounts {
		store.Put(model.TokenCredential{AccountID: a.ID, AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)})
	}
	return Deps{
		Repository: &fakeRepo{accounts: accounts},
		Tokens:     store,
		Selector: selector.Dependencies{
			RateLimits: ratelimit.New(5*time.Second, 10*time.Minute),
			Circuits:   circuit.New(5, 30*time.Second),
			AIMD:       aimd.New(10, 0.5, 0.8),
			Sessions:   session.New(100, time.Hour),
			Active:     selector.NewActiveCounters(),
		},
		Upstream:    upstream.NewPool(),
		UpstreamURL: upstreamURL,
		Timeout:     5 * time.Second,
		Client:      upstreamURLClient(),
	}
}

func upstreamURLClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

func oneAccount(id string) []*model.Account {
	return []*model.Account{{ID: id, Tier: model.TierPro}}
}

func TestRunSucceedsOnFirstAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hi"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	deps := newTestDeps(t, oneAccount("acct-1"), srv.URL)
	mapper := Mapper{
		ToGemini:         func(family model.ModelFamily, raw []byte) ([]byte, error) { return raw, nil },
		FromGeminiResult: func(modelName string, raw []byte) ([]byte, error) { return raw, nil },
	}

	result, err := Run(context.Background(), deps, mapper, Request{
		ModelFamily: model.FamilyOpenAI,
		ModelName:   "gpt-4o",
		Body:        []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.AccountID != "acct-1" {
		t.Fatalf("AccountID = %q, want acct-1", result.AccountID)
	}
	if result.RetryCount != 0 {
		t.Fatalf("RetryCount = %d, want 0", result.RetryCount)
	}
}

func TestRunRotatesAccountOnRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	accounts := []*model.Account{
		{ID: "acct-1", Tier: model.TierPro},
		{ID: "acct-2", Tier: model.TierPro},
	}
	deps := newTestDeps(t, accounts, srv.URL)
	mapper := Mapper{
		ToGemini:         func(family model.ModelFamily, raw []byte) ([]byte, error) { return raw, nil },
		FromGeminiResult: func(modelName string, raw []byte) ([]byte, error) { return raw, nil },
	}

	result, err := Run(context.Background(), deps, mapper, Request{
		ModelFamily: model.FamilyOpenAI,
		Body:        []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.RetryCount != 1 {
		t.Fatalf("RetryCount = %d, want 1", result.RetryCount)
	}
}

func TestRunReturnsNoEligibleAccountWhenPoolEmpty(t *testing.T) {
	deps := newTestDeps(t, nil, "http://unused")
	mapper := Mapper{
		ToGemini:         func(family model.ModelFamily, raw []byte) ([]byte, error) { return raw, nil },
		FromGeminiResult: func(modelName string, raw []byte) ([]byte, error) { return raw, nil },
	}
	_, err := Run(context.Background(), deps, mapper, Request{ModelFamily: model.FamilyOpenAI, Body: []byte(`{}`)})
	if err == nil {
		t.Fatalf("Run() error = nil, want NoEligibleAccount")
	}
	if errs.KindOf(err) != errs.NoEligibleAccount {
		t.Fatalf("KindOf(err) = %v, want NoEligibleAccount", errs.KindOf(err))
	}
}
