// Package ratelimit is an in-memory sliding-window limiter keyed by client.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows at most max requests per key within window.
type Limiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	max      int
	now      func() time.Time
}

func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		requests: make(map[string][]time.Time),
		window:   window,
		max:      max,
		now:      time.Now,
	}
}

// Check records one request for key unless the key is over its limit.
// It returns whether the request was rejected and the number of requests
// counted in the current window.
func (l *Limiter) Check(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	timestamps := l.requests[key]
	kept := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.max {
		l.requests[key] = kept
		return true, len(kept)
	}

	l.requests[key] = append(kept, now)
	return false, len(kept) + 1
}

// RetryAfter is the window length, the longest a rejected client waits.
func (l *Limiter) RetryAfter() time.Duration { return l.window }

// Prune drops keys with no request inside the window.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for key, timestamps := range l.requests {
		if len(timestamps) == 0 || !timestamps[len(timestamps)-1].After(cutoff) {
			delete(l.requests, key)
		}
	}
}

func (l *Limiter) keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}
