package dispatch

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff configures retries of failed deliveries.
type Backoff struct {
	// MaxAttempts includes the first attempt, so the default allows five
	// retries.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// JitterFactor is the maximum jitter as a fraction of the delay. Zero
	// selects the default.
	JitterFactor float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts:    6,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     60 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.MaxAttempts < 1 {
		b.MaxAttempts = def.MaxAttempts
	}
	if b.InitialBackoff <= 0 {
		b.InitialBackoff = def.InitialBackoff
	}
	if b.MaxBackoff < b.InitialBackoff {
		b.MaxBackoff = max(def.MaxBackoff, b.InitialBackoff)
	}
	if b.BackoffFactor < 1 {
		b.BackoffFactor = def.BackoffFactor
	}
	if b.JitterFactor <= 0 || b.JitterFactor > 1 {
		b.JitterFactor = def.JitterFactor
	}
	return b
}

// Delay is the wait before the retry that follows attempt number
// attempts (1-based), jittered and capped at MaxBackoff.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	base := float64(b.InitialBackoff) * math.Pow(b.BackoffFactor, float64(attempts-1))
	if base > float64(b.MaxBackoff) {
		base = float64(b.MaxBackoff)
	}
	if b.JitterFactor > 0 {
		base += base * b.JitterFactor * (rand.Float64()*2 - 1)
	}
	delay := time.Duration(base)
	if delay > b.MaxBackoff {
		delay = b.MaxBackoff
	}
	return delay
}

// Exhausted reports whether no attempt is left after attempts.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}
