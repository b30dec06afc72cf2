// Package resilience guards outbound platform calls: a consecutive-failure
// circuit breaker, rate-limit cooldowns, a retry executor and a pacer.
//
// All state is process-local and keyed by platform. Counts are approximate
// under concurrent use of the same platform; the guards only need to be
// self-healing, not exact.
package resilience

import (
	"sync"
	"time"

	"syndicate/internal/platform"
)

// Clock returns the current time. Tests swap it for a fake.
type Clock func() time.Time

const (
	DefaultTripFailures = 5
	DefaultOpenFor      = 5 * time.Minute
)

type breakerState struct {
	fails       int
	lastFailure time.Time
	open        bool
	openUntil   time.Time
}

// Breaker opens a platform's circuit after trip consecutive failures.
//
//   - While open, IsOpen reports true until openFor has elapsed.
//   - After that the circuit is half-open: IsOpen reports false and the next
//     recorded outcome decides. Success closes it, failure reopens it.
type Breaker struct {
	mu      sync.Mutex
	m       map[platform.Platform]*breakerState
	trip    int
	openFor time.Duration
	now     Clock
}

func NewBreaker(trip int, openFor time.Duration, now Clock) *Breaker {
	if trip <= 0 {
		trip = DefaultTripFailures
	}
	if openFor <= 0 {
		openFor = DefaultOpenFor
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{m: make(map[platform.Platform]*breakerState), trip: trip, openFor: openFor, now: now}
}

func (b *Breaker) get(p platform.Platform) *breakerState {
	st := b.m[p]
	if st == nil {
		st = &breakerState{}
		b.m[p] = st
	}
	return st
}

// IsOpen reports whether calls to p must be rejected right now.
func (b *Breaker) IsOpen(p platform.Platform) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.m[p]
	if st == nil || !st.open {
		return false
	}
	return b.now().Before(st.openUntil)
}

func (b *Breaker) RecordSuccess(p platform.Platform) {
	b.mu.Lock()
	delete(b.m, p)
	b.mu.Unlock()
}

// RecordFailure counts one failure and reports whether the circuit is open
// afterwards.
func (b *Breaker) RecordFailure(p platform.Platform) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	st := b.get(p)
	st.fails++
	st.lastFailure = now
	// A failure while half-open reopens immediately.
	if st.fails >= b.trip || st.open {
		st.open = true
		st.openUntil = now.Add(b.openFor)
	}
	return st.open
}

// Reset closes p's circuit and forgets its failures.
func (b *Breaker) Reset(p platform.Platform) { b.RecordSuccess(p) }

type BreakerState struct {
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	Open        bool      `json:"open"`
	OpenUntil   time.Time `json:"open_until,omitempty"`
}

func (b *Breaker) State(p platform.Platform) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.m[p]
	if st == nil {
		return BreakerState{}
	}
	out := BreakerState{Failures: st.fails, LastFailure: st.lastFailure}
	if st.open && b.now().Before(st.openUntil) {
		out.Open = true
		out.OpenUntil = st.openUntil
	}
	return out
}
