package feed

import (
	"sync"
	"time"
)

// RateLimiter enforces a minimum interval between fetch attempts for the
// same (URL, name) pair. Wait blocks the calling flow; there is no
// concurrent polling to coordinate with.
type RateLimiter struct {
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time

	// Overridable for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// NewRateLimiter creates a RateLimiter with the given minimum interval
// between attempts on the same source.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		interval: interval,
		last:     make(map[string]time.Time),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Wait blocks until at least the configured interval has passed since the
// previous attempt for the same URL and subscription name, then records
// this attempt.
func (l *RateLimiter) Wait(url, name string) {
	key := url + "|" + name

	l.mu.Lock()
	prev, seen := l.last[key]
	now := l.now()
	if seen {
		if remaining := l.interval - now.Sub(prev); remaining > 0 {
			l.mu.Unlock()
			l.sleep(remaining)
			l.mu.Lock()
			now = l.now()
		}
	}
	l.last[key] = now
	l.mu.Unlock()
}
