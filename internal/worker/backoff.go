package worker

import (
	"math"
	"math/rand"
	"time"
)

// nextDelay computes the retry delay after the given failed attempt count:
// min(base * 2^(attempts-1), cap) plus up to jitter fraction of random
// spread. The pre-jitter delay is non-decreasing in attempts.
func nextDelay(attempts int, base, cap time.Duration, jitter float64) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = time.Second
	}
	if cap < base {
		cap = base
	}

	backoff := float64(base) * math.Pow(2, float64(attempts-1))
	if backoff > float64(cap) {
		backoff = float64(cap)
	}

	if jitter > 0 {
		backoff += backoff * jitter * rand.Float64()
	}
	return time.Duration(backoff)
}
