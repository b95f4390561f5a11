// Package circuit implements the per-account three-state Circuit Breaker
// (§4.3): closed -> open -> half-open, tripped only by hard failures
// (connection error, 5xx, auth failure) — rate limits never trip it.
package circuit

import (
	"sync"
	"time"
)

// State is the circuit lifecycle state for one account.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Defaults per §4.3.
const (
	DefaultFailureThreshold = 5
	DefaultOpenDuration     = 30 * time.Second
)

type accountCircuit struct {
	mu                sync.Mutex
	state             State
	consecutiveFails  int
	openUntil         time.Time
	probeInFlight     bool
}

// Breaker manages circuits for a set of accounts, keyed by account_id.
type Breaker struct {
	mu               sync.Mutex
	circuits         map[string]*accountCircuit
	failureThreshold int
	openDuration     time.Duration
}

// New constructs a Breaker with the given failure threshold and open
// duration; non-positive values fall back to the spec defaults.
func New(failureThreshold int, openDuration time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if openDuration <= 0 {
		openDuration = DefaultOpenDuration
	}
	return &Breaker{
		circuits:         make(map[string]*accountCircuit),
		failureThreshold: failureThreshold,
		openDuration:     openDuration,
	}
}

func (b *Breaker) circuitFor(accountID string) *accountCircuit {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[accountID]
	if !ok {
		c = &accountCircuit{}
		b.circuits[accountID] = c
	}
	return c
}

// Allow reports whether a request may be dispatched to account right now.
// An open circuit whose openUntil has elapsed transitions to half-open and
// admits exactly one probe (§4.3, P4); further calls are refused until that
// probe resolves via RecordSuccess/RecordFailure.
func (b *Breaker) Allow(accountID string) bool {
	c := b.circuitFor(accountID)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Closed:
		return true
	case Open:
		if time.Now().Before(c.openUntil) {
			return false
		}
		c.state = HalfOpen
		c.probeInFlight = true
		return true
	case HalfOpen:
		return false // a probe is already outstanding
	default:
		return false
	}
}

// RecordSuccess closes the circuit (or keeps it closed), resetting the
// failure streak.
func (b *Breaker) RecordSuccess(accountID string) {
	c := b.circuitFor(accountID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Closed
	c.consecutiveFails = 0
	c.probeInFlight = false
}

// RecordFailure registers a hard failure. From closed, the circuit opens
// once consecutiveFails reaches the threshold. From half-open, a failed
// probe reopens the circuit for another full openDuration.
func (b *Breaker) RecordFailure(accountID string) {
	c := b.circuitFor(accountID)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case HalfOpen:
		c.state = Open
		c.openUntil = time.Now().Add(b.openDuration)
		c.probeInFlight = false
		c.consecutiveFails = b.failureThreshold
	case Closed, Open:
		c.consecutiveFails++
		if c.consecutiveFails >= b.failureThreshold {
			c.state = Open
			c.openUntil = time.Now().Add(b.openDuration)
		}
	}
}

// StateOf returns the current state of account's circuit for diagnostics
// (resilience API §6).
func (b *Breaker) StateOf(accountID string) State {
	c := b.circuitFor(accountID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Open && !time.Now().Before(c.openUntil) {
		return HalfOpen
	}
	return c.state
}

// Snapshot returns a copy of all tracked circuit states for the resilience
// and metrics API (§6 /api/resilience/circuits).
func (b *Breaker) Snapshot() map[string]State {
	b.mu.Lock()
	ids := make([]string, 0, len(b.circuits))
	for id := range b.circuits {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	out := make(map[string]State, len(ids))
	for _, id := range ids {
		out[id] = b.StateOf(id)
	}
	return out
}
