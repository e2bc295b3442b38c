package realtime

import (
	"math/rand"
	"time"
)

// Backoff computes jittered reconnect delays. Error closes wait longer than
// clean closes so a flapping server is not hammered, and repeated attempts
// stretch the window linearly up to Cap.
type Backoff struct {
	CleanMin time.Duration
	CleanMax time.Duration
	ErrorMin time.Duration
	ErrorMax time.Duration
	Cap      time.Duration
}

// DefaultBackoff returns the production reconnect curve.
func DefaultBackoff() Backoff {
	return Backoff{
		CleanMin: 1 * time.Second,
		CleanMax: 3 * time.Second,
		ErrorMin: 2 * time.Second,
		ErrorMax: 7 * time.Second,
		Cap:      30 * time.Second,
	}
}

func (b Backoff) valid() bool {
	return b.CleanMin > 0 && b.CleanMax > b.CleanMin &&
		b.ErrorMin >= b.CleanMin && b.ErrorMax > b.ErrorMin &&
		b.Cap >= b.ErrorMax
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(cause DisconnectCause, attempt int) time.Duration {
	if !b.valid() {
		b = DefaultBackoff()
	}
	if attempt < 1 {
		attempt = 1
	}

	lo, hi := b.CleanMin, b.CleanMax
	if cause == CauseError {
		lo, hi = b.ErrorMin, b.ErrorMax
	}

	lo = minDuration(lo*time.Duration(attempt), b.Cap)
	hi = minDuration(hi*time.Duration(attempt), b.Cap)
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

func minDuration(a, d time.Duration) time.Duration {
	if a < d {
		return a
	}
	return d
}
