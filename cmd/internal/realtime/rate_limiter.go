package realtime

import (
	"sync"
	"time"
)

// emitLimiter caps outbound bus emits to limit events per sliding window.
// A UI bug that loops on join or comment must not flood the server.
//
// It keeps a ring of the last "limit" admission times; a new emit is allowed
// iff the admission it would displace left the window already.
type emitLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	next   int
	window time.Duration
}

func newEmitLimiter(limit int, window time.Duration) *emitLimiter {
	if limit <= 0 {
		limit = emitLimitEvents
	}
	if window <= 0 {
		window = emitLimitWindow
	}
	return &emitLimiter{
		ring:   make([]time.Time, limit),
		window: window,
	}
}

// allow reports whether an emit at time "now" is within the budget and, if
// so, records it.
func (l *emitLimiter) allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldest := l.ring[l.next]
	if !oldest.IsZero() && now.Sub(oldest) <= l.window {
		return false
	}
	l.ring[l.next] = now
	l.next = (l.next + 1) % len(l.ring)
	return true
}
