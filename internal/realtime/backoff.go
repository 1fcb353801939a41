package realtime

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffConfig controls reconnect delays.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// MaxAttempts bounds consecutive failed attempts; 0 means unbounded.
	MaxAttempts int
}

// DefaultBackoffConfig returns the standard reconnect policy
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if c.Initial <= 0 {
		c.Initial = d.Initial
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
		if d.Max > c.Max {
			c.Max = d.Max
		}
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	return c
}

// reconnectBackoff yields deterministic exponential delays and counts
// attempts since the last successful authentication.
type reconnectBackoff struct {
	policy   *backoff.ExponentialBackOff
	max      int
	attempts int
}

func newReconnectBackoff(cfg BackoffConfig) *reconnectBackoff {
	cfg = cfg.withDefaults()
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.Initial,
		RandomizationFactor: 0,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	policy.Reset()
	return &reconnectBackoff{policy: policy, max: cfg.MaxAttempts}
}

// Next returns the delay before the next attempt, or false once the attempt
// budget is spent.
func (b *reconnectBackoff) Next() (time.Duration, bool) {
	if b.max > 0 && b.attempts >= b.max {
		return 0, false
	}
	d := b.policy.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	b.attempts++
	return d, true
}

// Reset returns to the initial delay.
func (b *reconnectBackoff) Reset() {
	b.policy.Reset()
	b.attempts = 0
}

// Attempts is the number of delays handed out since the last Reset.
func (b *reconnectBackoff) Attempts() int {
	return b.attempts
}
