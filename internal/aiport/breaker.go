package aiport

import (
	"sync"
	"time"
)

// Breaker states.
const (
	stateClosed   = "closed"
	stateOpen     = "open"
	stateHalfOpen = "half_open"
)

// breaker is a per-operation circuit breaker. It opens after a run of
// consecutive failures, stays open for a cooldown, then admits a single
// trial call. The trial's outcome decides between closing and re-opening.
type breaker struct {
	mu sync.Mutex

	failureThreshold int
	openDuration     time.Duration
	now              func() time.Time

	state        string
	failures     int
	openedAt     time.Time
	trialPending bool
}

func newBreaker(failureThreshold int, openDuration time.Duration, now func() time.Time) *breaker {
	return &breaker{
		failureThreshold: failureThreshold,
		openDuration:     openDuration,
		now:              now,
		state:            stateClosed,
	}
}

// Allow reports whether a call may proceed. In the half-open state only one
// trial call is admitted; concurrent callers are turned away until the
// trial resolves.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.openDuration {
			b.state = stateHalfOpen
			b.trialPending = true
			return true
		}
		return false
	case stateHalfOpen:
		if b.trialPending {
			return false
		}
		b.trialPending = true
		return true
	default:
		return false
	}
}

// Success records a successful call. A half-open trial success closes the
// breaker; in the closed state the failure run resets.
func (b *breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialPending = false
	b.state = stateClosed
}

// Failure records a failed call. Enough consecutive failures open the
// breaker; a half-open trial failure re-opens it immediately.
func (b *breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = b.now()
		b.trialPending = false
		return
	}

	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = stateOpen
		b.openedAt = b.now()
		b.failures = 0
	}
}

// State returns the current state label for metrics and the health endpoint.
func (b *breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen && b.now().Sub(b.openedAt) >= b.openDuration {
		return stateHalfOpen
	}
	return b.state
}
