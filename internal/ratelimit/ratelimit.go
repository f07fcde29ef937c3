// Package ratelimit is a best-effort in-memory sliding-window limiter keyed
// by tg id. Like the cache it assumes a single-process deployment; a
// multi-instance setup needs a shared counter to be correct.
package ratelimit

import (
	"sync"
	"time"
)

type Limiter struct {
	mu       sync.Mutex
	requests map[int64][]time.Time

	max    int
	period time.Duration
	now    func() time.Time
}

func New(max int, period time.Duration) *Limiter {
	return &Limiter{
		requests: make(map[int64][]time.Time),
		max:      max,
		period:   period,
		now:      time.Now,
	}
}

// Allow records the request and reports whether it fits the window. A
// rejected request is not recorded, the user is told to wait instead.
func (l *Limiter) Allow(tgID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.period)

	kept := l.requests[tgID][:0]
	for _, t := range l.requests[tgID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.max {
		l.requests[tgID] = kept
		return false
	}

	l.requests[tgID] = append(kept, now)
	return true
}

// Period is the wait hint surfaced to rate-limited users.
func (l *Limiter) Period() time.Duration {
	return l.period
}
