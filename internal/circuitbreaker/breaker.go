// Package circuitbreaker suspends delivery to endpoints that keep
// failing. Each key gets its own circuit, so one dead webhook cannot
// stall notifications to the rest of the care team.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is the position of a circuit.
type State int

const (
	// StateClosed lets requests through and counts failures.
	StateClosed State = iota
	// StateOpen rejects requests until the cooldown passes.
	StateOpen
	// StateHalfOpen admits a single probe to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "elderguard",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

// circuit is the per-key record. Guarded by Breaker.mu.
type circuit struct {
	state      State
	failures   int
	lastFailed time.Time
}

// Breaker keeps one circuit per key. A circuit opens after threshold
// consecutive failures, rejects requests for the cooldown, then admits
// one probe whose outcome decides between closing and reopening.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	cooldown  time.Duration
}

// New returns a Breaker that opens a key after threshold consecutive
// failures and keeps it open for cooldown. Non-positive arguments fall
// back to 5 failures and 30 seconds.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a request for key may proceed. An open circuit
// whose cooldown has elapsed moves to half-open and admits the caller
// as the probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}

	switch c.state {
	case StateOpen:
		if time.Since(c.lastFailed) < b.cooldown {
			return false
		}
		b.moveTo(key, c, StateHalfOpen)
		return true
	case StateHalfOpen:
		// A probe is already in flight.
		return false
	}
	return true
}

// RecordSuccess clears the failure count for key and closes a half-open
// circuit whose probe just succeeded.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	if c.state == StateHalfOpen {
		b.moveTo(key, c, StateClosed)
	}
	c.failures = 0
}

// RecordFailure counts a failure for key. Reaching the threshold opens
// the circuit, and a failed half-open probe reopens it immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}

	c.failures++
	c.lastFailed = time.Now()

	switch {
	case c.state == StateHalfOpen:
		b.moveTo(key, c, StateOpen)
	case c.state == StateClosed && c.failures >= b.threshold:
		b.moveTo(key, c, StateOpen)
	}
}

// State returns the circuit state for key, StateClosed when the key has
// never failed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// moveTo records the transition. Caller holds b.mu.
func (b *Breaker) moveTo(key string, c *circuit, to State) {
	if c.state == to {
		return
	}
	stateTransitions.WithLabelValues(key, c.state.String(), to.String()).Inc()
	c.state = to
}
