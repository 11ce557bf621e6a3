// Package ratelimit keeps one token bucket per identity.
package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"
)

type bucket struct {
	id   string
	lim  *rate.Limiter
	seen time.Time
	elem *list.Element
}

// Limiter is safe for concurrent use. Buckets idle for longer than the
// idle window are dropped by Cleanup.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	// least recently seen first
	idleOrder *list.List

	// buckets inspected by the last Cleanup
	lastScan int

	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time
	log   *slog.Logger
}

// New creates a limiter allowing perSecond tokens with the given burst.
// A non-positive perSecond disables limiting.
func New(perSecond float64, burst int, idle time.Duration, log *slog.Logger) *Limiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	log.Info("rate limiter created", "per_second", perSecond, "burst", burst, "idle", idle)

	return &Limiter{
		buckets:   make(map[string]*bucket),
		idleOrder: list.New(),
		limit:     limit,
		burst:     burst,
		idle:      idle,
		now:       time.Now,
		log:       log.With("component", "rate_limiter"),
	}
}

// WithNow swaps the time source. Used by tests.
func (l *Limiter) WithNow(now func() time.Time) *Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

func (l *Limiter) Allow(identity string) bool {
	ok, _ := l.AllowN(identity, 1)
	return ok
}

// AllowN takes n tokens from identity's bucket. When refused it returns
// the delay after which the same request would pass. Costs above the
// burst are charged as a full bucket.
func (l *Limiter) AllowN(identity string, n int) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[identity]
	if !ok {
		b = &bucket{id: identity, lim: rate.NewLimiter(l.limit, l.burst)}
		b.elem = l.idleOrder.PushBack(b)
		l.buckets[identity] = b
	} else {
		l.idleOrder.MoveToBack(b.elem)
	}
	b.seen = now

	n = min(max(n, 1), l.burst)
	if b.lim.AllowN(now, n) {
		return true, 0
	}

	r := b.lim.ReserveN(now, n)
	if !r.OK() {
		return false, time.Second
	}
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return false, wait
}

// Cleanup drops at most limit idle buckets and returns how many it
// removed. It inspects at most limit buckets, oldest first, and stops at
// the first one still in use.
func (l *Limiter) Cleanup(limit int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	removed, scanned := 0, 0
	for e := l.idleOrder.Front(); e != nil && scanned < limit; {
		b := e.Value.(*bucket)
		scanned++
		if !b.seen.Before(cutoff) {
			break
		}
		next := e.Next()
		l.idleOrder.Remove(e)
		delete(l.buckets, b.id)
		removed++
		e = next
	}
	l.lastScan = scanned
	if removed > 0 {
		l.log.Debug("idle buckets dropped", "removed", removed, "remaining", len(l.buckets))
	}
	return removed
}

// Len is the number of tracked identities.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
