// Package selector implements the Account Selector (§4.7): a deterministic,
// randomness-free algorithm choosing which account serves one request,
// folding in tier priority, session affinity, active-connection count, and
// the resilience signals (rate limit, circuit, AIMD throttle).
package selector

import (
	"errors"
	"sort"
	"sync"

	"github.com/kestrel-proxy/relaygate/internal/aimd"
	"github.com/kestrel-proxy/relaygate/internal/circuit"
	"github.com/kestrel-proxy/relaygate/internal/model"
	"github.com/kestrel-proxy/relaygate/internal/ratelimit"
	"github.com/kestrel-proxy/relaygate/internal/session"
)

// ErrNoEligibleAccount is returned when step 1-7 of the algorithm exhausts
// every candidate. Blocker names the last reason a candidate was rejected,
// for the structured 503 body (§7 NoEligibleAccount).
var ErrNoEligibleAccount = errors.New("no eligible account")

// Blocker explains why the selector could not produce a candidate.
type Blocker string

const (
	BlockerAllRateLimited Blocker = "all-rate-limited"
	BlockerAllOpen        Blocker = "all-open"
	BlockerAllSaturated   Blocker = "all-saturated"
	BlockerNone           Blocker = "none"
)

// NoEligibleAccountError carries the last-blocker diagnosis.
type NoEligibleAccountError struct {
	Blocker Blocker
}

func (e *NoEligibleAccountError) Error() string { return "no eligible account: " + string(e.Blocker) }
func (e *NoEligibleAccountError) Unwrap() error  { return ErrNoEligibleAccount }

// ActiveCounters tracks per-account in-flight request counts with
// compare-and-swap acquisition (§4.7 step 7, §3 ActiveRequestCounter).
type ActiveCounters struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewActiveCounters constructs an empty counter table.
func NewActiveCounters() *ActiveCounters {
	return &ActiveCounters{counts: make(map[string]int)}
}

// Active returns the current active-request count for accountID.
func (a *ActiveCounters) Active(accountID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[accountID]
}

// TryAcquire increments the counter iff active < cap, atomically. Returns a
// Guard on success; callers must Release it on every exit path (P1).
func (a *ActiveCounters) TryAcquire(accountID string, limit int) (*Guard, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counts[accountID] >= limit {
		return nil, false
	}
	a.counts[accountID]++
	return &Guard{counters: a, accountID: accountID}, true
}

// Guard is a scoped ActiveRequestGuard (§3, §4.7). Release is idempotent
// and safe to call from any exit path (success, error, panic recover).
type Guard struct {
	counters  *ActiveCounters
	accountID string
	released  bool
	mu        sync.Mutex
}

// Release decrements the account's active-request counter. Safe to call
// more than once.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return
	}
	g.released = true
	g.counters.mu.Lock()
	defer g.counters.mu.Unlock()
	if g.counters.counts[g.accountID] > 0 {
		g.counters.counts[g.accountID]--
	}
}

// AccountID reports which account this guard was acquired for.
func (g *Guard) AccountID() string { return g.accountID }

// Request bundles the selector's inputs for one dispatch attempt (§4.7).
type Request struct {
	SessionID     string
	ModelFamily   model.ModelFamily
	Attempted     map[string]bool
	OperatorPin   string
}

// Dependencies wires the resilience signals the selector reads.
type Dependencies struct {
	RateLimits *ratelimit.Tracker
	Circuits   *circuit.Breaker
	AIMD       *aimd.Controller
	Sessions   *session.Table
	Active     *ActiveCounters
}

// Result is what the selector hands back to the dispatcher on success.
type Result struct {
	Account         *model.Account
	RebindRequired  bool
	Guard           *Guard
}

// Select runs the §4.7 algorithm against accounts (the full known pool) and
// req. It returns a typed *NoEligibleAccountError when every candidate is
// eliminated.
func Select(deps Dependencies, accounts []*model.Account, req Request) (*Result, error) {
	blocker := BlockerNone
	existingBinding, hasBinding := (session.Binding{}), false
	if req.SessionID != "" && deps.Sessions != nil {
		existingBinding, hasBinding = deps.Sessions.Lookup(req.SessionID)
	}

	for {
		candidates, lastBlocker := eligible(deps, accounts, req)
		if len(candidates) == 0 {
			if lastBlocker == BlockerNone {
				lastBlocker = BlockerAllSaturated
			}
			return nil, &NoEligibleAccountError{Blocker: lastBlocker}
		}
		blocker = lastBlocker

		chosen := pick(deps, candidates, req, existingBinding, hasBinding)
		if chosen == nil {
			return nil, &NoEligibleAccountError{Blocker: blocker}
		}

		throttleLimit := deps.AIMD.ThrottleLimit(chosen.ID)
		guard, ok := deps.Active.TryAcquire(chosen.ID, throttleLimit)
		if !ok {
			// Step 7: acquisition failed, remove candidate and retry from step 3.
			if req.Attempted == nil {
				req.Attempted = make(map[string]bool)
			}
			req.Attempted[chosen.ID] = true
			continue
		}

		// Admission is checked last, with the active-slot guard already held,
		// so a half-open probe this call wins is guaranteed to reach attempt()
		// and resolve via RecordSuccess/RecordFailure — never left stranded in
		// probeInFlight with no dispatch to clear it.
		if deps.Circuits != nil && !deps.Circuits.Allow(chosen.ID) {
			guard.Release()
			if req.Attempted == nil {
				req.Attempted = make(map[string]bool)
			}
			req.Attempted[chosen.ID] = true
			blocker = BlockerAllOpen
			continue
		}

		rebind := hasBinding && existingBinding.AccountID != chosen.ID
		return &Result{Account: chosen, RebindRequired: rebind, Guard: guard}, nil
	}
}

// eligible builds the step-1 candidate list: not attempted, not
// proxy-disabled, not rate-limited, not circuit-open, not over the AIMD
// preemptive throttle.
//
// Circuit eligibility is checked with StateOf rather than Allow: StateOf is
// read-only and reports every HalfOpen account as a candidate, so a batch of
// concurrent requests can all see the same recovering account as eligible.
// The actual admission — exactly one probe let through, per §4.3/P4 — is
// enforced by the Allow call in Select, at the point a candidate is committed
// to, not here during list-building.
func eligible(deps Dependencies, accounts []*model.Account, req Request) ([]*model.Account, Blocker) {
	var out []*model.Account
	sawRateLimited, sawOpen, sawSaturated := false, false, false

	for _, acc := range accounts {
		if acc.ProxyDisabled {
			continue
		}
		if req.Attempted != nil && req.Attempted[acc.ID] {
			continue
		}
		isBypassedPin := req.OperatorPin != "" && acc.ID == req.OperatorPin
		if !isBypassedPin && deps.RateLimits != nil && deps.RateLimits.IsLocked(acc.ID) {
			sawRateLimited = true
			continue
		}
		if deps.Circuits != nil && deps.Circuits.StateOf(acc.ID) == circuit.Open {
			sawOpen = true
			continue
		}
		if deps.Active != nil && deps.AIMD != nil {
			limit := deps.AIMD.ThrottleLimit(acc.ID)
			if deps.Active.Active(acc.ID) >= limit {
				sawSaturated = true
				continue
			}
		}
		out = append(out, acc)
	}

	blocker := BlockerNone
	switch {
	case len(out) > 0:
		blocker = BlockerNone
	case sawRateLimited:
		blocker = BlockerAllRateLimited
	case sawOpen:
		blocker = BlockerAllOpen
	case sawSaturated:
		blocker = BlockerAllSaturated
	}
	return out, blocker
}

// pick applies steps 2-6. Per the worked scenarios in §8 (sticky
// preservation vs. ultra-overrides-sticky), sticky session affinity wins
// only when the bound account is itself a member of the highest-priority
// non-empty tier bucket; otherwise tier priority wins outright and the
// binding is rebound to the new account.
func pick(deps Dependencies, candidates []*model.Account, req Request, existing session.Binding, hasBinding bool) *model.Account {
	// Step 2: operator pin.
	if req.OperatorPin != "" {
		for _, acc := range candidates {
			if acc.ID == req.OperatorPin {
				return acc
			}
		}
	}

	// Step 3: partition by tier.
	byTier := make(map[model.Tier][]*model.Account)
	for _, acc := range candidates {
		byTier[acc.Tier] = append(byTier[acc.Tier], acc)
	}

	tiers := []model.Tier{model.TierUltraBusiness, model.TierUltra, model.TierPro, model.TierFree, model.TierUnknown}

	// Steps 4-6: highest-priority non-empty tier wins. Within that tier,
	// sticky binding takes precedence over least-active_requests; absent a
	// sticky member, break ties by smallest account.id.
	for _, tier := range tiers {
		bucket := byTier[tier]
		if len(bucket) == 0 {
			continue
		}
		if hasBinding {
			for _, acc := range bucket {
				if acc.ID == existing.AccountID {
					return acc
				}
			}
		}
		return leastActive(deps, bucket)
	}

	return nil
}

func leastActive(deps Dependencies, bucket []*model.Account) *model.Account {
	sort.SliceStable(bucket, func(i, j int) bool {
		ai, aj := bucket[i], bucket[j]
		ci, cj := deps.Active.Active(ai.ID), deps.Active.Active(aj.ID)
		if ci != cj {
			return ci < cj
		}
		return ai.ID < aj.ID
	})
	return bucket[0]
}
