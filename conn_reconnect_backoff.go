package wsession

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultBackoffBase   = time.Second
	DefaultBackoffMax    = 30 * time.Second
	DefaultBackoffJitter = 0.25

	// MinBackoffDelay is the floor applied to every computed delay so a zero base never spins.
	MinBackoffDelay = 50 * time.Millisecond

	// maxBackoffExponent keeps base * 2^n inside int64 for any sane base.
	maxBackoffExponent = 32
)

// BackoffCalculator maps a zero-indexed reconnect attempt to the time to wait before it.
type BackoffCalculator func(attempt int) time.Duration

// BackoffPolicy computes min(Base*2^attempt, Max) plus a jitter drawn uniformly from
// [0, JitterFactor*delay].
type BackoffPolicy struct {
	Base         time.Duration
	Max          time.Duration
	JitterFactor float64

	// rand returns a float in [0, 1). Tests replace it to pin the jitter.
	rand func() float64
}

func NewBackoffPolicy(base, max time.Duration) BackoffPolicy {
	return BackoffPolicy{
		Base:         base,
		Max:          max,
		JitterFactor: DefaultBackoffJitter,
	}
}

// Delay returns the wait before reconnect attempt number attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	delay := p.ceiling(attempt)

	if p.JitterFactor > 0 {
		r := rand.Float64
		if p.rand != nil {
			r = p.rand
		}
		delay += time.Duration(r() * p.JitterFactor * float64(delay))
	}

	return delay
}

// ceiling is the delay without jitter.
func (p BackoffPolicy) ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffExponent {
		attempt = maxBackoffExponent
	}

	base := p.Base
	if base < MinBackoffDelay {
		base = MinBackoffDelay
	}
	ceil := p.Max
	if ceil < base {
		ceil = base
	}

	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(ceil) {
		return ceil
	}
	return time.Duration(delay)
}

// Calculator exposes the policy as a BackoffCalculator.
func (p BackoffPolicy) Calculator() BackoffCalculator {
	return p.Delay
}
