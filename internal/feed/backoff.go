package feed

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultBackoffBase is the first reconnect delay after a failed attempt.
	DefaultBackoffBase = time.Second
	// DefaultBackoffMax caps the exponential reconnect delay.
	DefaultBackoffMax = 60 * time.Second
	// DefaultReconnectDelay is the fixed pause after an established stream ends.
	DefaultReconnectDelay = time.Second
)

// Backoff yields base, 2·base, 4·base, ... capped at max, with no jitter. It
// is not safe for concurrent use.
type Backoff struct {
	exp     *backoff.ExponentialBackOff
	attempt int
}

// NewBackoff creates a Backoff. Non-positive arguments fall back to the
// defaults.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if max < base {
		max = base
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.MaxInterval = max
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.Reset()
	return &Backoff{exp: exp}
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	b.attempt++
	return b.exp.NextBackOff()
}

// Reset restarts the sequence at base.
func (b *Backoff) Reset() {
	b.exp.Reset()
	b.attempt = 0
}

// Attempt returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}
