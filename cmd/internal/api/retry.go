package api

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy is the single retry policy shared by the request path and the
// query-cache fetch path: one bound, one backoff curve, one retryable
// predicate, instead of ad hoc counters at each call site.
type RetryPolicy struct {
	// MaxRetries bounds re-sends after the first attempt.
	MaxRetries int

	// Backoff returns the wait before retry attempt n (1-based).
	Backoff func(attempt int) time.Duration

	// Retryable decides whether an error is worth another attempt.
	Retryable func(err error) bool
}

// DefaultRetryPolicy matches the observed production behavior: up to 2
// retries, short jittered backoff, retrying expired-token and transient
// network failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		Backoff:    JitteredBackoff(250*time.Millisecond, 2*time.Second),
		Retryable: func(err error) bool {
			var ne *NetworkError
			return errors.Is(err, ErrTokenExpired) || errors.As(err, &ne)
		},
	}
}

// JitteredBackoff returns base*attempt plus up to base of jitter, capped at ceil.
func JitteredBackoff(base, ceil time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := time.Duration(attempt)*base + time.Duration(rand.Int63n(int64(base)))
		if d > ceil {
			d = ceil
		}
		return d
	}
}

// Do runs op, retrying per the policy while Retryable reports true.
// The last error is returned when attempts are exhausted.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if werr := p.wait(ctx, attempt+1); werr != nil {
			return werr
		}
	}
}

func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	if p.Backoff == nil {
		return ctx.Err()
	}
	t := time.NewTimer(p.Backoff(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
