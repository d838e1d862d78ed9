package wsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffPolicy_ExponentialWithCeiling(t *testing.T) {
	p := NewBackoffPolicy(time.Second, 30*time.Second)
	p.JitterFactor = 0

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: time.Second},
		{attempt: 1, want: 2 * time.Second},
		{attempt: 2, want: 4 * time.Second},
		{attempt: 4, want: 16 * time.Second},
		{attempt: 5, want: 30 * time.Second},
		{attempt: 10, want: 30 * time.Second},
		{attempt: 1 << 20, want: 30 * time.Second},
		{attempt: -3, want: time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffPolicy_MonotonicBelowSaturation(t *testing.T) {
	p := NewBackoffPolicy(time.Second, 30*time.Second)

	for a := 0; a < 10; a++ {
		assert.LessOrEqual(t, p.ceiling(a), p.ceiling(a+1))
	}
}

func TestBackoffPolicy_JitterBounds(t *testing.T) {
	p := NewBackoffPolicy(time.Second, 30*time.Second)

	for a := 0; a < 64; a++ {
		for i := 0; i < 50; i++ {
			d := p.Delay(a)
			floor := p.ceiling(a)
			assert.GreaterOrEqual(t, d, floor)
			assert.LessOrEqual(t, d, time.Duration(float64(30*time.Second)*1.25))
		}
	}
}

func TestBackoffPolicy_PinnedJitter(t *testing.T) {
	p := NewBackoffPolicy(time.Second, 30*time.Second)
	p.rand = func() float64 { return 0.5 }

	assert.Equal(t, 2*time.Second+250*time.Millisecond, p.Delay(1))
	assert.Equal(t, 30*time.Second+3750*time.Millisecond, p.Delay(9))
}

func TestBackoffPolicy_NeverZero(t *testing.T) {
	p := NewBackoffPolicy(0, 0)
	p.JitterFactor = 0

	assert.Equal(t, MinBackoffDelay, p.Delay(0))
	assert.Equal(t, MinBackoffDelay, p.Delay(7))
}

func TestBackoffPolicy_Calculator(t *testing.T) {
	p := NewBackoffPolicy(100*time.Millisecond, time.Second)
	p.JitterFactor = 0

	var calc BackoffCalculator = p.Calculator()
	assert.Equal(t, 400*time.Millisecond, calc(2))
}
