package ratelimit

import "time"

// SetNow pins the limiter clock in tests.
func (l *Limiter) SetNow(now func() time.Time) {
	l.now = now
}
