package ws

import (
	"sync"
	"time"
)

// ipLimiter caps how many connections a single source address may open
// within a rolling window
type ipLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	hits    map[string][]time.Time
	nowFunc func() time.Time
	calls   int
}

func newIPLimiter(max int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		window:  window,
		max:     max,
		hits:    make(map[string][]time.Time),
		nowFunc: time.Now,
	}
}

// Allow records a connection attempt from ip and reports whether it is
// within the limit
func (l *ipLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%128 == 0 {
		l.pruneLocked()
	}

	now := l.nowFunc()
	cutoff := now.Add(-l.window)

	recent := l.hits[ip][:0]
	for _, t := range l.hits[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.max {
		l.hits[ip] = recent
		return false
	}

	l.hits[ip] = append(recent, now)
	return true
}

// prune drops addresses whose every recorded hit has aged out
func (l *ipLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
}

func (l *ipLimiter) pruneLocked() {
	cutoff := l.nowFunc().Add(-l.window)
	for ip, hits := range l.hits {
		keep := hits[:0]
		for _, t := range hits {
			if t.After(cutoff) {
				keep = append(keep, t)
			}
		}
		if len(keep) == 0 {
			delete(l.hits, ip)
		} else {
			l.hits[ip] = keep
		}
	}
}
