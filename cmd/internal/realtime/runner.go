package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"contentcrush/cmd/internal/metrics"
)

// serveFn dials and runs one connection until it drops, returning why.
type serveFn func(ctx context.Context) (DisconnectCause, error)

// reconnector is the reconnect loop shared by both transports: dial, serve,
// classify the drop, back off, repeat until Close.
type reconnector struct {
	log     *slog.Logger
	name    string
	backoff Backoff
	metrics *metrics.Metrics

	mu      sync.Mutex
	state   ConnState
	attempt int
	stop    context.CancelFunc
	done    chan struct{}
	closed  bool
}

func newReconnector(log *slog.Logger, name string, backoff Backoff, m *metrics.Metrics) *reconnector {
	if log == nil {
		log = slog.Default()
	}
	return &reconnector{
		log:     log,
		name:    name,
		backoff: backoff,
		metrics: m,
		state:   StateDisconnected,
	}
}

// State returns the current connection state.
func (r *reconnector) State() ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *reconnector) setState(s ConnState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// markOpen records a successful connect and resets the attempt counter.
func (r *reconnector) markOpen() {
	r.mu.Lock()
	r.state = StateOpen
	r.attempt = 0
	r.mu.Unlock()
	r.log.Info(r.name + ".connected")
}

// Start launches the reconnect loop. Starting an already-running or closed
// reconnector is a no-op (ErrClosed for the latter).
func (r *reconnector) Start(ctx context.Context, serve serveFn) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.stop != nil {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.stop = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.loop(runCtx, serve)
	}()
	return nil
}

func (r *reconnector) loop(ctx context.Context, serve serveFn) {
	defer r.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return
		}
		r.setState(StateConnecting)

		cause, err := serve(ctx)
		if ctx.Err() != nil {
			return
		}
		r.setState(StateDisconnected)

		r.mu.Lock()
		r.attempt++
		attempt := r.attempt
		r.mu.Unlock()

		r.metrics.IncWSReconnect(r.name, cause.String())
		delay := r.backoff.Delay(cause, attempt)
		if err != nil {
			r.log.Info(r.name+".disconnect", "cause", cause.String(), "attempt", attempt, "retry_in", delay, "err", err)
		} else {
			r.log.Info(r.name+".disconnect", "cause", cause.String(), "attempt", attempt, "retry_in", delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Close stops the loop and waits for it to exit. Idempotent.
func (r *reconnector) Close() {
	r.mu.Lock()
	if r.closed {
		done := r.done
		r.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	r.closed = true
	r.state = StateClosing
	stop := r.stop
	done := r.done
	r.mu.Unlock()

	if stop != nil {
		stop()
	}
	if done != nil {
		<-done
	}
	r.setState(StateClosed)
}
