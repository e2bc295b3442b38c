package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"contentcrush/cmd/internal/metrics"
	v1 "contentcrush/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// TokenFunc returns a fresh access token for the websocket handshake.
type TokenFunc func(ctx context.Context) (string, error)

// SocketClient maintains the raw update-event socket. Every frame is one
// flat JSON event; decoded events go straight to the registry.
type SocketClient struct {
	log      *slog.Logger
	cfg      Config
	registry *Registry
	token    TokenFunc
	http     *http.Client

	run *reconnector
}

// NewSocketClient constructs the raw-socket transport. token may be nil for
// cookie-authenticated connections (the jar on hc carries the session).
func NewSocketClient(log *slog.Logger, cfg Config, reg *Registry, token TokenFunc, hc *http.Client, m *metrics.Metrics) *SocketClient {
	if log == nil {
		log = slog.Default()
	}
	return &SocketClient{
		log:      log,
		cfg:      cfg,
		registry: reg,
		token:    token,
		http:     hc,
		run:      newReconnector(log, "socket", cfg.Backoff, m),
	}
}

// State returns the current connection state.
func (s *SocketClient) State() ConnState { return s.run.State() }

// Connect starts the connection loop. It returns immediately; delivery
// begins once the dial succeeds.
func (s *SocketClient) Connect(ctx context.Context) error {
	return s.run.Start(ctx, s.serve)
}

// Close tears the connection down permanently.
func (s *SocketClient) Close() { s.run.Close() }

func (s *SocketClient) dial(ctx context.Context) (*websocket.Conn, error) {
	h := http.Header{}
	if s.token != nil {
		tok, err := s.token(ctx)
		if err != nil {
			return nil, err
		}
		if tok != "" {
			h.Set("Authorization", "Bearer "+tok)
		}
	}

	conn, resp, err := websocket.Dial(ctx, s.cfg.socketURL(), &websocket.DialOptions{
		HTTPClient: s.http,
		HTTPHeader: h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}

func (s *SocketClient) serve(ctx context.Context) (DisconnectCause, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return CauseError, err
	}
	s.run.markOpen()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	livenessDone := make(chan struct{})
	go func() {
		defer close(livenessDone)
		s.liveness(ctx, conn)
	}()
	defer func() { cancel(); <-livenessDone }()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return classifyCloseErr(err), err
		}

		env, err := v1.ParseEnvelope(data)
		if err != nil {
			s.log.Debug("socket.frame.bad_json", "err", err)
			continue
		}
		if err := env.Validate(); err != nil {
			s.log.Debug("socket.frame.invalid", "err", err)
			continue
		}

		ev, err := v1.DecodeEvent(env)
		if err != nil {
			s.log.Debug("socket.frame.undecodable", "type", env.Type, "err", err)
			continue
		}
		s.registry.Dispatch(ev)
	}
}

// liveness pings the connection on a short poll; repeated failures force a
// reconnect rather than sitting on a half-open socket.
func (s *SocketClient) liveness(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(s.cfg.LivenessInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, s.cfg.LivenessTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()

			if err != nil {
				failures++
				s.log.Info("socket.ping.fail", "failures", failures, "err", err)
				if failures >= maxPingFailures {
					_ = conn.Close(websocket.StatusGoingAway, "liveness failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// classifyCloseErr decides whether a dropped read counts as a clean close.
func classifyCloseErr(err error) DisconnectCause {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return CauseClean
	default:
		return CauseError
	}
}
