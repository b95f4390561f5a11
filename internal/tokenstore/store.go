// Package tokenstore manages per-account OAuth2 credentials: expiry checks
// with a safety margin, and refresh serialized per account so concurrent
// requests observe exactly one upstream refresh (§4.5, §5).
package tokenstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kestrel-proxy/relaygate/internal/model"
)

// SafetyMargin is how far ahead of actual expiry a credential is treated as
// expired, so a refresh completes before the upstream would reject it.
const SafetyMargin = 60 * time.Second

// Refresher exchanges a refresh token for a new access token. Implementations
// wrap provider-specific OAuth2 endpoints (Google, Anthropic).
type Refresher interface {
	Refresh(ctx context.Context, cred model.TokenCredential) (model.TokenCredential, error)
}

// Store holds the current credential per account and serializes refreshes.
type Store struct {
	mu    sync.RWMutex
	creds map[string]model.TokenCredential

	refresher Refresher
	group     singleflight.Group
}

// New builds a Store backed by refresher for expired-credential refreshes.
func New(refresher Refresher) *Store {
	return &Store{creds: make(map[string]model.TokenCredential), refresher: refresher}
}

// Put publishes a credential, e.g. after initial login or a successful
// refresh from another process.
func (s *Store) Put(cred model.TokenCredential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.AccountID] = cred
}

// Get returns the current credential for accountID, refreshing it first if
// it is expired (or within SafetyMargin of expiring). Concurrent callers for
// the same account share one in-flight refresh; the refreshed credential is
// published before any waiter proceeds (§5 ordering guarantee).
func (s *Store) Get(ctx context.Context, accountID string) (model.TokenCredential, error) {
	s.mu.RLock()
	cred, ok := s.creds[accountID]
	s.mu.RUnlock()
	if !ok {
		return model.TokenCredential{}, fmt.Errorf("tokenstore: no credential for account %q", accountID)
	}
	if !cred.ExpiredWithin(time.Now(), SafetyMargin) {
		return cred, nil
	}
	return s.refresh(ctx, accountID, cred)
}

func (s *Store) refresh(ctx context.Context, accountID string, stale model.TokenCredential) (model.TokenCredential, error) {
	v, err, _ := s.group.Do(accountID, func() (interface{}, error) {
		// Re-check under the singleflight key: another caller may have
		// already refreshed while we were waiting to enter this closure.
		s.mu.RLock()
		current := s.creds[accountID]
		s.mu.RUnlock()
		if !current.ExpiredWithin(time.Now(), SafetyMargin) {
			return current, nil
		}

		refreshed, err := s.refresher.Refresh(ctx, stale)
		if err != nil {
			return model.TokenCredential{}, fmt.Errorf("tokenstore: refresh account %q: %w", accountID, err)
		}
		s.mu.Lock()
		s.creds[accountID] = refreshed
		s.mu.Unlock()
		return refreshed, nil
	})
	if err != nil {
		return model.TokenCredential{}, err
	}
	return v.(model.TokenCredential), nil
}
