package limiter

import (
	"sync"
	"time"
)

// Limiter admits at most max requests per identity within a trailing window.
// It keeps a sliding-window log of timestamps per identity rather than fixed
// buckets, so the bound holds over any trailing window, not just aligned ones.
//
// State lives only in process memory: a freshly started instance has no
// memory of prior requests, so a restart resets everyone's quota.
type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	now     func() time.Time
	buckets map[string][]time.Time
}

// New creates a limiter allowing max requests per identity per window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:     max,
		window:  window,
		now:     time.Now,
		buckets: make(map[string][]time.Time),
	}
}

// Allow reports whether identity may proceed right now. An admitted request
// consumes a slot; a denied request leaves the log pruned but otherwise
// untouched. Cost is O(k) with k bounded by max.
func (l *Limiter) Allow(identity string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.prune(l.buckets[identity], now)
	if len(stamps) >= l.max {
		l.buckets[identity] = stamps
		return false
	}
	l.buckets[identity] = append(stamps, now)
	return true
}

// Sweep drops identities whose every timestamp has aged out of the window and
// returns how many were removed. Buckets are created lazily per identity, so
// without sweeping the map grows with every distinct identity ever seen.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for identity, stamps := range l.buckets {
		kept := l.prune(stamps, now)
		if len(kept) == 0 {
			delete(l.buckets, identity)
			removed++
			continue
		}
		l.buckets[identity] = kept
	}
	return removed
}

// prune keeps only timestamps still inside the trailing window. Reuses the
// backing array; callers must store the result back.
func (l *Limiter) prune(stamps []time.Time, now time.Time) []time.Time {
	kept := stamps[:0]
	for _, ts := range stamps {
		if now.Sub(ts) < l.window {
			kept = append(kept, ts)
		}
	}
	return kept
}
