// Package ratelimit provides per-caller fixed-window admission control.
//
// Each caller identity owns an independent counter keyed by the current
// window index, floor(now / period). Crossing into a new window resets the
// counter before evaluation, so a burst straddling a window boundary may be
// admitted up to twice the limit within a short real-time span. That
// approximation is accepted; precise sliding-window accounting is a non-goal.
//
// Buckets live in a sharded map so unrelated callers never contend on the
// same lock; the shard lock is held only for the test-and-increment, never
// across I/O.
package ratelimit

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// shardCount is the number of independent bucket maps. Power of two so the
// shard index reduces to a mask.
const shardCount = 32

// Limiter is a fixed-window rate limiter keyed by caller identity.
// It is safe for concurrent use from multiple goroutines.
type Limiter struct {
	limit  int
	period time.Duration
	shards [shardCount]*shard

	// now is swapped out by tests to drive window rollover without sleeping.
	now func() time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	window int64
	count  int
}

// New returns a Limiter admitting at most limit calls per caller per period.
// Non-positive values are configuration mistakes and are rejected.
func New(limit int, period time.Duration) (*Limiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("ratelimit: limit must be positive, got %d", limit)
	}
	if period <= 0 {
		return nil, fmt.Errorf("ratelimit: period must be positive, got %v", period)
	}
	l := &Limiter{limit: limit, period: period, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}
	return l, nil
}

// shardFor picks the caller's shard by FNV-1a hash.
func (l *Limiter) shardFor(caller string) *shard {
	h := fnv.New32a()
	h.Write([]byte(caller))
	return l.shards[h.Sum32()%shardCount]
}

// windowIndex maps an instant onto its fixed window.
func (l *Limiter) windowIndex(t time.Time) int64 {
	return t.UnixNano() / int64(l.period)
}

// Allow reports whether the caller may proceed and, if so, consumes one slot
// from the current window. The test and the increment happen in one critical
// section, so concurrent callers can never be admitted past the limit.
func (l *Limiter) Allow(caller string) bool {
	window := l.windowIndex(l.now())
	sh := l.shardFor(caller)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[caller]
	if !ok {
		b = &bucket{window: window}
		sh.buckets[caller] = b
	}
	if b.window != window {
		// New window: reset, and take the rollover as a cheap occasion to
		// drop buckets that went stale in this shard.
		b.window = window
		b.count = 0
		l.sweepLocked(sh, window)
	}
	if b.count >= l.limit {
		return false
	}
	b.count++
	return true
}

// Remaining reports how many admissions the caller has left in the current
// window. A return of 0 means the next Allow call will reject.
func (l *Limiter) Remaining(caller string) int {
	window := l.windowIndex(l.now())
	sh := l.shardFor(caller)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[caller]
	if !ok || b.window != window {
		return l.limit
	}
	rem := l.limit - b.count
	if rem < 0 {
		return 0
	}
	return rem
}

// Limit returns the configured per-window admission count.
func (l *Limiter) Limit() int { return l.limit }

// Period returns the configured window length.
func (l *Limiter) Period() time.Duration { return l.period }

// sweepLocked removes buckets whose window predates the current one. Called
// with the shard lock held, and only when a caller rolls into a fresh window,
// so idle callers cost nothing.
func (l *Limiter) sweepLocked(sh *shard, window int64) {
	for caller, b := range sh.buckets {
		if b.window < window {
			delete(sh.buckets, caller)
		}
	}
}
