package pairing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowLimiter_QuotaPerWindow(t *testing.T) {
	l := newWindowLimiter(3, 30*time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.allow("a", now), "event %d within quota", i)
	}
	err := l.allow("a", now.Add(10*time.Second))
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl), "expected RateLimitError, got %v", err)
	assert.Equal(t, 20*time.Second, rl.RetryAfter)

	assert.NoError(t, l.allow("b", now), "keys are independent")

	// Denied attempts do not extend the wait.
	assert.NoError(t, l.allow("a", now.Add(30*time.Second)))
}

func TestWindowLimiter_NoOvershootAcrossWindow(t *testing.T) {
	l := newWindowLimiter(10, 10*time.Minute)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.allow("192.0.2.1", start) == nil {
			allowed++
		}
	}
	for m := 1; m <= 9; m++ {
		if l.allow("192.0.2.1", start.Add(time.Duration(m)*time.Minute)) == nil {
			allowed++
		}
	}
	assert.Equal(t, 10, allowed)

	err := l.allow("192.0.2.1", start.Add(9*time.Minute))
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, time.Minute, rl.RetryAfter)

	assert.NoError(t, l.allow("192.0.2.1", start.Add(10*time.Minute)))
}

func TestWindowLimiter_RollingLog(t *testing.T) {
	l := newWindowLimiter(2, time.Minute)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.allow("k", t0))
	require.NoError(t, l.allow("k", t0.Add(40*time.Second)))
	assert.Error(t, l.allow("k", t0.Add(50*time.Second)))
	require.NoError(t, l.allow("k", t0.Add(60*time.Second)))

	// The oldest attempt in the window is now the one at 40s.
	err := l.allow("k", t0.Add(90*time.Second))
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 10*time.Second, rl.RetryAfter)
}

func TestWindowLimiter_EvictIdle(t *testing.T) {
	l := newWindowLimiter(1, time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.allow("old", now))
	require.NoError(t, l.allow("new", now.Add(time.Minute)))
	assert.Equal(t, 2, l.size())

	assert.Equal(t, 1, l.evictIdle(now.Add(30*time.Second)))
	assert.Equal(t, 1, l.size())
}

func TestKeyedLimiter_PerInterval(t *testing.T) {
	l := perInterval(3 * time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.allow("dev", now))
	err := l.allow("dev", now.Add(time.Second))
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl), "expected RateLimitError, got %v", err)
	assert.InDelta(t, (2 * time.Second).Seconds(), rl.RetryAfter.Seconds(), 0.01)

	assert.NoError(t, l.allow("dev", now.Add(3*time.Second)))
}

func TestKeyedLimiter_EvictIdle(t *testing.T) {
	l := perInterval(time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.allow("old", now))
	require.NoError(t, l.allow("new", now.Add(time.Minute)))
	assert.Equal(t, 2, l.size())

	assert.Equal(t, 1, l.evictIdle(now.Add(30*time.Second)))
	assert.Equal(t, 1, l.size())
}

func TestRateLimitError_RetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, (&RateLimitError{RetryAfter: 10 * time.Millisecond}).RetryAfterSeconds())
	assert.Equal(t, 3, (&RateLimitError{RetryAfter: 2500 * time.Millisecond}).RetryAfterSeconds())
	assert.Equal(t, 60, (&RateLimitError{RetryAfter: time.Minute}).RetryAfterSeconds())
	assert.Contains(t, (&RateLimitError{RetryAfter: 3 * time.Second}).Error(), "3s")
}
