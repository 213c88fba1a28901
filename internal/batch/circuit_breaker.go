package batch

import (
	"sync"
	"time"
)

// BreakerState is the state of the Flight circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// CircuitBreaker guards the Flight connection: after maxFailures consecutive
// failures it opens, and after timeout it lets a single probe through.
// Thread-safe.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	maxFailures int
	timeout     time.Duration
	lastFailure time.Time
}

func NewCircuitBreaker(maxFailures int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{state: BreakerClosed, maxFailures: maxFailures, timeout: timeout}
}

// Allow reports whether a call may proceed, moving an open breaker to
// half-open once the timeout has passed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if time.Since(cb.lastFailure) > cb.timeout {
			cb.state = BreakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// Success resets the breaker to closed.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
}

// Failure records a failed call, opening the breaker when the threshold is
// reached or when a half-open probe fails.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()
	if cb.state == BreakerHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = BreakerOpen
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
