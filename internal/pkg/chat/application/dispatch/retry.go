package dispatch

import "time"

// BackoffPolicy schedules cycle-level redelivery. An item that has already
// failed n cycles waits Base * 2^n before it re-enters the queue; once n
// reaches MaxAttempts the item is dead-lettered instead.
type BackoffPolicy struct {
	Base        time.Duration
	MaxAttempts int
}

func NewBackoffPolicy(base time.Duration, maxAttempts int) BackoffPolicy {
	return BackoffPolicy{Base: base, MaxAttempts: maxAttempts}
}

// ShouldRetry reports whether an item with the given failure count gets
// another delivery cycle.
func (p BackoffPolicy) ShouldRetry(attempts int) bool {
	return attempts < p.MaxAttempts
}

// NextDelay returns the wait before re-enqueueing an item whose failure
// count is attempts.
func (p BackoffPolicy) NextDelay(attempts int) time.Duration {
	delay := p.Base
	for i := 0; i < attempts; i++ {
		delay *= 2
	}
	return delay
}
