// Package model holds the data types shared by the dispatch pipeline: the
// account/credential view the core reads from the Account Repository, and
// the small per-account resilience records threaded through the selector.
package model

import "time"

// Tier is the account's upstream service class. Lower numeric value means
// higher selection priority (§3).
type Tier int

const (
	TierUltraBusiness Tier = 0
	TierUltra         Tier = 1
	TierPro           Tier = 2
	TierFree          Tier = 3
	TierUnknown       Tier = 4
)

// Quota tracks usage for one model family under an account's project.
type Quota struct {
	Used            int64
	Limit           int64
	ResetAt         time.Time
	ProtectedUntil  time.Time
}

// Account is the core's read-mostly view of an upstream credential holder.
// It is owned by the Account Repository; the dispatch pipeline never
// mutates it directly except through the Token Store's refresh path.
type Account struct {
	ID             string
	Email          string
	Tier           Tier
	ProjectID      string
	Quotas         map[string]Quota // keyed by model family
	ProxyDisabled  bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep-enough copy so callers can mutate Quotas without
// racing the repository's own copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Quotas != nil {
		cp.Quotas = make(map[string]Quota, len(a.Quotas))
		for k, v := range a.Quotas {
			cp.Quotas[k] = v
		}
	}
	return &cp
}

// TokenCredential is the OAuth credential attached to an Account, owned by
// the Token Store and persisted through the Account Repository.
type TokenCredential struct {
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ProjectID    string
}

// ExpiredWithin reports whether the credential expires within margin of now,
// the safety-margin check the Token Store applies before dispatch (§4.5).
func (t *TokenCredential) ExpiredWithin(now time.Time, margin time.Duration) bool {
	if t == nil || t.ExpiresAt.IsZero() {
		return true
	}
	return !t.ExpiresAt.After(now.Add(margin))
}
