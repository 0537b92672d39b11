package pairing

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitError is returned when a caller exceeds a pairing limit.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

// RetryAfterSeconds rounds the hint up to whole seconds, minimum one.
func (e *RateLimitError) RetryAfterSeconds() int {
	s := int(math.Ceil(e.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// windowLimiter allows at most quota events per key in any window-long
// span. Each key keeps a ring of its last quota accepted attempts.
type windowLimiter struct {
	mu     sync.Mutex
	quota  int
	window time.Duration
	logs   map[string]*attemptLog
}

type attemptLog struct {
	times []time.Time // ring, oldest at next once full
	next  int
	seen  time.Time
}

func newWindowLimiter(quota int, window time.Duration) *windowLimiter {
	if quota < 1 {
		quota = 1
	}
	return &windowLimiter{quota: quota, window: window, logs: make(map[string]*attemptLog)}
}

// allow records an attempt for key at now, or reports how long until the
// oldest attempt in the window ages out. Denied attempts are not recorded.
func (w *windowLimiter) allow(key string, now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	l, ok := w.logs[key]
	if !ok {
		l = &attemptLog{times: make([]time.Time, 0, w.quota)}
		w.logs[key] = l
	}
	l.seen = now

	if len(l.times) < w.quota {
		l.times = append(l.times, now)
		return nil
	}
	oldest := l.times[l.next]
	if wait := oldest.Add(w.window).Sub(now); wait > 0 {
		return &RateLimitError{RetryAfter: wait}
	}
	l.times[l.next] = now
	l.next = (l.next + 1) % w.quota
	return nil
}

// evictIdle drops keys not touched since before. Callers pass a cutoff at
// least one window back, so every dropped attempt has aged out.
func (w *windowLimiter) evictIdle(before time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for key, l := range w.logs {
		if l.seen.Before(before) {
			delete(w.logs, key)
			n++
		}
	}
	return n
}

func (w *windowLimiter) size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.logs)
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// keyedLimiter keeps one token bucket per key.
type keyedLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*bucket
}

func newKeyedLimiter(limit rate.Limit, burst int) *keyedLimiter {
	if burst < 1 {
		burst = 1
	}
	return &keyedLimiter{limit: limit, burst: burst, buckets: make(map[string]*bucket)}
}

// perInterval allows one event per key every d.
func perInterval(d time.Duration) *keyedLimiter {
	return newKeyedLimiter(rate.Every(d), 1)
}

// allow spends one token for key at now. When the bucket is empty the
// reservation is given back and a *RateLimitError reports the wait.
func (k *keyedLimiter) allow(key string, now time.Time) error {
	k.mu.Lock()
	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(k.limit, k.burst)}
		k.buckets[key] = b
	}
	b.seen = now
	k.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return &RateLimitError{RetryAfter: time.Minute}
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return &RateLimitError{RetryAfter: d}
	}
	return nil
}

// evictIdle drops buckets not touched since before and returns how many
// were removed. A bucket idle that long has refilled anyway.
func (k *keyedLimiter) evictIdle(before time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for key, b := range k.buckets {
		if b.seen.Before(before) {
			delete(k.buckets, key)
			n++
		}
	}
	return n
}

func (k *keyedLimiter) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
