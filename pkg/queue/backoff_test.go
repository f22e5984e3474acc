package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/jobq/pkg/queue"
)

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	t.Run("doubles without jitter", func(t *testing.T) {
		t.Parallel()
		backoff := queue.ExponentialBackoff(time.Second, time.Minute, 0)
		assert.Equal(t, time.Second, backoff(1))
		assert.Equal(t, 2*time.Second, backoff(2))
		assert.Equal(t, 4*time.Second, backoff(3))
		assert.Equal(t, 8*time.Second, backoff(4))
	})

	t.Run("caps at max", func(t *testing.T) {
		t.Parallel()
		backoff := queue.ExponentialBackoff(time.Second, 5*time.Second, 0)
		assert.Equal(t, 5*time.Second, backoff(10))
		assert.Equal(t, 5*time.Second, backoff(60))
	})

	t.Run("jitter stays within bounds", func(t *testing.T) {
		t.Parallel()
		backoff := queue.ExponentialBackoff(time.Second, time.Hour, 0.5)
		for range 100 {
			d := backoff(3)
			assert.GreaterOrEqual(t, d, 4*time.Second)
			assert.LessOrEqual(t, d, 6*time.Second)
		}
	})

	t.Run("attempt below one treated as first", func(t *testing.T) {
		t.Parallel()
		backoff := queue.ExponentialBackoff(time.Second, time.Minute, 0)
		assert.Equal(t, backoff(1), backoff(0))
		assert.Equal(t, backoff(1), backoff(-3))
	})
}

func TestLinearBackoff(t *testing.T) {
	t.Parallel()

	backoff := queue.LinearBackoff(10*time.Second, 25*time.Second)
	assert.Equal(t, 10*time.Second, backoff(1))
	assert.Equal(t, 20*time.Second, backoff(2))
	assert.Equal(t, 25*time.Second, backoff(3))
	assert.Equal(t, 25*time.Second, backoff(100))
}

func TestDefaultBackoffMonotonicUntilCap(t *testing.T) {
	t.Parallel()

	backoff := queue.DefaultBackoff()
	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		// Jitter aside, the curve never collapses below the previous base.
		assert.GreaterOrEqual(t, d, prev/2)
		prev = d
	}
}
