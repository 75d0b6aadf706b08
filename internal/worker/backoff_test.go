package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelay_DoublesUntilCap(t *testing.T) {
	base := time.Second
	cap := 60 * time.Second

	assert.Equal(t, 1*time.Second, nextDelay(1, base, cap, 0))
	assert.Equal(t, 2*time.Second, nextDelay(2, base, cap, 0))
	assert.Equal(t, 4*time.Second, nextDelay(3, base, cap, 0))
	assert.Equal(t, 32*time.Second, nextDelay(6, base, cap, 0))
	assert.Equal(t, 60*time.Second, nextDelay(7, base, cap, 0))
	assert.Equal(t, 60*time.Second, nextDelay(20, base, cap, 0))
}

func TestNextDelay_NonDecreasing(t *testing.T) {
	prev := time.Duration(0)
	for attempts := 1; attempts <= 15; attempts++ {
		d := nextDelay(attempts, time.Second, 60*time.Second, 0)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempts)
		prev = d
	}
}

func TestNextDelay_JitterStaysInRange(t *testing.T) {
	base := time.Second
	cap := 60 * time.Second
	jitter := 0.2

	for i := 0; i < 100; i++ {
		d := nextDelay(3, base, cap, jitter)
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.LessOrEqual(t, d, time.Duration(float64(4*time.Second)*1.2))
	}
}

func TestNextDelay_DegenerateInputs(t *testing.T) {
	// Zero attempts is treated as the first attempt.
	assert.Equal(t, time.Second, nextDelay(0, time.Second, time.Minute, 0))
	// A cap below base is raised to base.
	assert.Equal(t, 10*time.Second, nextDelay(1, 10*time.Second, time.Second, 0))
	// A non-positive base falls back to one second.
	assert.Equal(t, time.Second, nextDelay(1, 0, time.Minute, 0))
}
