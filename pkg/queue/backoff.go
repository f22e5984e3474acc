package queue

import (
	"math/rand/v2"
	"time"
)

// BackoffFunc computes the delay before the given retry attempt (1-based).
// The curve is an operational policy choice, not a correctness requirement,
// so it is injected via WithBackoff rather than hard-coded.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff doubles the delay per attempt starting at base, capped
// at max, with up to jitterFrac (0..1) of random spread added on top to
// avoid synchronized retry storms.
func ExponentialBackoff(base, max time.Duration, jitterFrac float64) BackoffFunc {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if jitterFrac < 0 {
		jitterFrac = 0
	}
	if jitterFrac > 1 {
		jitterFrac = 1
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				d = max
				break
			}
		}
		if jitterFrac > 0 {
			d += time.Duration(rand.Float64() * jitterFrac * float64(d))
		}
		if d > max {
			d = max
		}
		return d
	}
}

// LinearBackoff grows the delay by step per attempt, capped at max.
func LinearBackoff(step, max time.Duration) BackoffFunc {
	if step <= 0 {
		step = 30 * time.Second
	}
	if max < step {
		max = step
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := time.Duration(attempt) * step
		if d > max {
			d = max
		}
		return d
	}
}

// DefaultBackoff is used when no backoff policy is configured.
func DefaultBackoff() BackoffFunc {
	return ExponentialBackoff(30*time.Second, 30*time.Minute, 0.2)
}
