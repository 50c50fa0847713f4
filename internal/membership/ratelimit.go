// internal/membership/ratelimit.go
package membership

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const sweepEvery = time.Minute

// limiters keeps one token bucket per key. A bucket that has refilled
// completely carries no state worth keeping and is dropped on the next sweep.
type limiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
	sweepAt time.Time
}

func newLimiters(limit rate.Limit, burst int) *limiters {
	return &limiters{
		limit:   limit,
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *limiters) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.sweepAt) {
		l.sweep(now)
		l.sweepAt = now.Add(sweepEvery)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	return b.AllowN(now, 1)
}

func (l *limiters) sweep(now time.Time) {
	for key, b := range l.buckets {
		if b.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}

func (l *limiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
