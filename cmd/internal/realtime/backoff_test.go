package realtime

import (
	"testing"
	"time"
)

func TestBackoff_DelayWithinBounds(t *testing.T) {
	b := DefaultBackoff()

	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 200; i++ {
			d := b.Delay(CauseClean, attempt)
			if d < b.CleanMin || d > b.Cap {
				t.Fatalf("clean delay out of bounds: attempt=%d d=%v", attempt, d)
			}

			d = b.Delay(CauseError, attempt)
			if d < b.ErrorMin || d > b.Cap {
				t.Fatalf("error delay out of bounds: attempt=%d d=%v", attempt, d)
			}
		}
	}
}

func TestBackoff_ErrorFloorAboveCleanFloor(t *testing.T) {
	b := DefaultBackoff()

	// An error close must never retry sooner than the fastest clean retry.
	for i := 0; i < 500; i++ {
		if d := b.Delay(CauseError, 1); d < b.CleanMin {
			t.Fatalf("error delay %v below clean floor %v", d, b.CleanMin)
		}
	}
}

func TestBackoff_AttemptsStretchTheWindow(t *testing.T) {
	b := DefaultBackoff()

	// By attempt 3 the clean floor has tripled.
	for i := 0; i < 500; i++ {
		if d := b.Delay(CauseClean, 3); d < 3*b.CleanMin {
			t.Fatalf("attempt 3 delay %v below scaled floor %v", d, 3*b.CleanMin)
		}
	}
}

func TestBackoff_CapHolds(t *testing.T) {
	b := DefaultBackoff()

	for i := 0; i < 500; i++ {
		if d := b.Delay(CauseError, 1000); d > b.Cap {
			t.Fatalf("delay %v exceeds cap %v", d, b.Cap)
		}
	}
}

func TestBackoff_InvalidFallsBackToDefault(t *testing.T) {
	var b Backoff // zero value is invalid

	d := b.Delay(CauseClean, 1)
	def := DefaultBackoff()
	if d < def.CleanMin || d > def.CleanMax {
		t.Fatalf("fallback delay out of default bounds: %v", d)
	}
}

func TestBackoff_ZeroAttemptTreatedAsFirst(t *testing.T) {
	b := DefaultBackoff()
	if d := b.Delay(CauseClean, 0); d < b.CleanMin || d > b.CleanMax {
		t.Fatalf("attempt 0 delay out of first-attempt bounds: %v", d)
	}
}

func TestEmitLimiter_Window(t *testing.T) {
	rl := newEmitLimiter(3, time.Second)
	now := time.Unix(1000, 0)

	for i := 0; i < 3; i++ {
		if !rl.allow(now) {
			t.Fatalf("event %d unexpectedly limited", i)
		}
	}
	if rl.allow(now) {
		t.Fatal("fourth event within window should be limited")
	}
	if !rl.allow(now.Add(time.Second + time.Millisecond)) {
		t.Fatal("event after window should be permitted")
	}
}
