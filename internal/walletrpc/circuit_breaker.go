package walletrpc

import (
	"log/slog"
	"sync"
	"time"

	"github.com/escrowd/coordinator/internal/config"
)

// CircuitBreaker prevents hammering a wallet node that is consecutively
// failing. It never causes a retry by itself — Client.Call still makes
// exactly one attempt — it only short-circuits that attempt with
// ErrUpstreamUnavailable while open.
//
// State machine:
//   - Closed (normal): all requests pass. On failure, increment counter.
//     If counter >= threshold -> Open.
//   - Open (tripped): all requests blocked. After cooldown elapsed -> Half-Open.
//   - Half-Open (testing): allow one request through. Success -> Closed.
//     Failure -> Open (restart cooldown).
type CircuitBreaker struct {
	mu               sync.Mutex
	state            string
	consecutiveFails int
	threshold        int
	cooldown         time.Duration
	lastFailure      time.Time
	halfOpenAllowed  int
	halfOpenCount    int
}

// NewCircuitBreaker creates a circuit breaker with the given failure
// threshold and open-state cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:           config.CircuitClosed,
		threshold:       threshold,
		cooldown:        cooldown,
		halfOpenAllowed: config.CircuitBreakerHalfOpenMax,
	}
}

// Allow reports whether a request should be attempted right now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case config.CircuitClosed:
		return true
	case config.CircuitOpen:
		if time.Since(cb.lastFailure) >= cb.cooldown {
			cb.state = config.CircuitHalfOpen
			cb.halfOpenCount = 1
			return true
		}
		return false
	case config.CircuitHalfOpen:
		if cb.halfOpenCount < cb.halfOpenAllowed {
			cb.halfOpenCount++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess resets the breaker to closed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	previous := cb.state
	cb.consecutiveFails = 0
	cb.state = config.CircuitClosed
	cb.halfOpenCount = 0

	if previous != config.CircuitClosed {
		slog.Info("wallet rpc circuit closed after success", "previousState", previous)
	}
}

// RecordFailure records a failed call, possibly tripping the breaker open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = time.Now()

	if cb.state == config.CircuitHalfOpen {
		slog.Warn("wallet rpc circuit reopened from half-open", "consecutiveFails", cb.consecutiveFails)
		cb.state = config.CircuitOpen
		cb.halfOpenCount = 0
		return
	}

	if cb.consecutiveFails >= cb.threshold {
		slog.Warn("wallet rpc circuit tripped open", "consecutiveFails", cb.consecutiveFails, "threshold", cb.threshold)
		cb.state = config.CircuitOpen
		cb.halfOpenCount = 0
	}
}

// State returns the current breaker state string.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
