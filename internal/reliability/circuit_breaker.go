package reliability

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("reliability: circuit breaker is open")

// State of the circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after FailureThreshold consecutive failures and
// rejects calls for Timeout, then half-opens and admits one probe call at a
// time. A probe failure re-opens the circuit; a success closes it.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           State
	failures        int
	probing         bool
	lastFailureTime time.Time

	failureThreshold int
	timeout          time.Duration
}

func NewCircuitBreaker(failureThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		timeout:          timeout,
	}
}

// Execute runs fn under the breaker. While open it fails fast with
// ErrCircuitOpen until the timeout elapses.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	admitted, probe := cb.allow()
	if !admitted {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probing = false
	}
	if err != nil {
		cb.failures++
		cb.lastFailureTime = time.Now()
		if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
			cb.state = StateOpen
		}
		return err
	}

	cb.state = StateClosed
	cb.failures = 0
	return nil
}

// State reports the current state, accounting for timeout expiry.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.timeout {
		return StateHalfOpen
	}
	return cb.state
}

// allow reports whether the call is admitted and whether it is the half-open
// probe. Only one probe is in flight at a time; while it runs, other callers
// fail fast until it resolves.
func (cb *CircuitBreaker) allow() (admitted, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailureTime) < cb.timeout {
			return false, false
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return true, true
	case StateHalfOpen:
		if cb.probing {
			return false, false
		}
		cb.probing = true
		return true, true
	default:
		return true, false
	}
}
