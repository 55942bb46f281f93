package dispatch

import "time"

// Options tunes the dispatcher loop.
type Options struct {
	// BatchSize is the maximum number of items drained per cycle.
	// Default: 100
	BatchSize int

	// MaxConcurrency caps how many items are processed at once within a
	// cycle. Default: 10
	MaxConcurrency int

	// MaxAttempts bounds both the in-cycle delivery attempts per item and
	// the number of cycles an item may fail before it is dead-lettered.
	// Default: 3
	MaxAttempts int

	// AttemptDelay is the wait between delivery attempts inside a cycle.
	// Default: 5s
	AttemptDelay time.Duration

	// CycleDelay is the pause between cycles. Default: 100ms
	CycleDelay time.Duration

	// ErrorCooldown is the pause after a cycle-level failure (for example
	// the queue backend being unreachable). Default: 10s
	ErrorCooldown time.Duration

	// BackoffBase seeds the exponential re-enqueue backoff. Default: 5s
	BackoffBase time.Duration
}

// DefaultOptions returns the default dispatcher configuration.
func DefaultOptions() Options {
	return Options{
		BatchSize:      100,
		MaxConcurrency: 10,
		MaxAttempts:    3,
		AttemptDelay:   5 * time.Second,
		CycleDelay:     100 * time.Millisecond,
		ErrorCooldown:  10 * time.Second,
		BackoffBase:    5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = def.MaxConcurrency
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.AttemptDelay <= 0 {
		o.AttemptDelay = def.AttemptDelay
	}
	if o.CycleDelay <= 0 {
		o.CycleDelay = def.CycleDelay
	}
	if o.ErrorCooldown <= 0 {
		o.ErrorCooldown = def.ErrorCooldown
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = def.BackoffBase
	}
	return o
}
