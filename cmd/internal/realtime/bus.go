package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"contentcrush/cmd/internal/metrics"
	v1 "contentcrush/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// IdentityFunc returns the identify payload for the current session. ok is
// false when nobody is signed in; the connection then stays anonymous until
// the next reconnect.
type IdentityFunc func() (v1.IdentifyPayload, bool)

// BusClient maintains the event-bus connection: identify on connect, room
// join/leave, room comments and direct notifications. All outbound
// operations are emit-and-forget; while disconnected they are no-ops except
// that the desired room set is remembered and replayed on reconnect.
type BusClient struct {
	log      *slog.Logger
	cfg      Config
	registry *Registry
	identity IdentityFunc
	http     *http.Client
	limiter  *emitLimiter

	run *reconnector

	// writeMu serializes frame writes (emits race pong replies).
	writeMu sync.Mutex

	mu    sync.Mutex
	conn  *websocket.Conn
	rooms map[string]roomRef
}

// roomRef is one desired room membership, kept for reconnect replay.
type roomRef struct {
	joinEvent  string
	leaveEvent string
	payload    v1.RoomPayload
}

// NewBusClient constructs the event-bus transport.
func NewBusClient(log *slog.Logger, cfg Config, reg *Registry, identity IdentityFunc, hc *http.Client, m *metrics.Metrics) *BusClient {
	if log == nil {
		log = slog.Default()
	}
	return &BusClient{
		log:      log,
		cfg:      cfg,
		registry: reg,
		identity: identity,
		http:     hc,
		limiter:  newEmitLimiter(cfg.EmitLimit, cfg.EmitWindow),
		run:      newReconnector(log, "bus", cfg.Backoff, m),
		rooms:    make(map[string]roomRef),
	}
}

// State returns the current connection state.
func (b *BusClient) State() ConnState { return b.run.State() }

// Connect starts the connection loop.
func (b *BusClient) Connect(ctx context.Context) error {
	return b.run.Start(ctx, b.serve)
}

// Close tears the connection down permanently.
func (b *BusClient) Close() { b.run.Close() }

// ---- room operations ----

// JoinTask enters a task room. The membership is desired state: it survives
// reconnects until LeaveTask.
func (b *BusClient) JoinTask(taskID string) {
	b.joinRoom("task:"+taskID, roomRef{
		joinEvent:  v1.BusJoinTask,
		leaveEvent: v1.BusLeaveTask,
		payload:    v1.RoomPayload{TaskID: taskID},
	})
}

// LeaveTask leaves a task room.
func (b *BusClient) LeaveTask(taskID string) {
	b.leaveRoom("task:" + taskID)
}

// JoinProject enters a project room.
func (b *BusClient) JoinProject(projectID string) {
	b.joinRoom("project:"+projectID, roomRef{
		joinEvent:  v1.BusJoinProject,
		leaveEvent: v1.BusLeaveProject,
		payload:    v1.RoomPayload{ProjectID: projectID},
	})
}

// LeaveProject leaves a project room.
func (b *BusClient) LeaveProject(projectID string) {
	b.leaveRoom("project:" + projectID)
}

// Rooms lists the desired room keys (diagnostics).
func (b *BusClient) Rooms() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.rooms))
	for k := range b.rooms {
		out = append(out, k)
	}
	return out
}

func (b *BusClient) joinRoom(key string, ref roomRef) {
	b.mu.Lock()
	b.rooms[key] = ref
	b.mu.Unlock()
	b.emit(ref.joinEvent, ref.payload)
}

func (b *BusClient) leaveRoom(key string) {
	b.mu.Lock()
	ref, ok := b.rooms[key]
	delete(b.rooms, key)
	b.mu.Unlock()
	if ok {
		b.emit(ref.leaveEvent, ref.payload)
	}
}

// ---- messaging operations ----

// SendTaskComment publishes a comment to a task room.
func (b *BusClient) SendTaskComment(taskID, author, text string) {
	b.emit(v1.BusTaskComment, v1.CommentPayload{
		TaskID: taskID,
		Author: author,
		Text:   text,
		TS:     time.Now().UTC(),
	})
}

// SendProjectComment publishes a comment to a project room.
func (b *BusClient) SendProjectComment(projectID, author, text string) {
	b.emit(v1.BusProjectComment, v1.CommentPayload{
		ProjectID: projectID,
		Author:    author,
		Text:      text,
		TS:        time.Now().UTC(),
	})
}

// NotifyUser sends a direct notification to one user.
func (b *BusClient) NotifyUser(p v1.NotifyUserPayload) {
	b.emit(v1.BusNotifyUser, p)
}

// emit writes one event frame if the connection is open. Reports whether
// the frame left the process.
func (b *BusClient) emit(event string, args ...any) bool {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		b.log.Debug("bus.emit.skipped", "event", event, "state", b.run.State().String())
		return false
	}
	if !b.limiter.allow(time.Now()) {
		b.log.Warn("bus.emit.rate_limited", "event", event)
		return false
	}

	frame, err := encodeSIOEvent(event, args...)
	if err != nil {
		b.log.Warn("bus.emit.encode_fail", "event", event, "err", err)
		return false
	}
	if err := b.write(conn, frame); err != nil {
		b.log.Info("bus.emit.write_fail", "event", event, "err", err)
		return false
	}
	return true
}

func (b *BusClient) write(conn *websocket.Conn, frame []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.LivenessTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

// ---- connection ----

func (b *BusClient) serve(ctx context.Context) (DisconnectCause, error) {
	conn, resp, err := websocket.Dial(ctx, b.cfg.busURL(), &websocket.DialOptions{
		HTTPClient: b.http,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return CauseError, err
	}
	conn.SetReadLimit(maxFrameBytes)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	hs, err := b.handshake(ctx, conn)
	if err != nil {
		return CauseError, err
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
	}()

	b.run.markOpen()
	b.onOpen()

	return b.readLoop(ctx, conn, watchdogWindow(hs))
}

// handshake runs the open/connect exchange: open packet in, namespace
// connect out, connect ack in.
func (b *BusClient) handshake(ctx context.Context, conn *websocket.Conn) (eioHandshake, error) {
	hsCtx, cancel := context.WithTimeout(ctx, b.cfg.LivenessTimeout)
	defer cancel()

	_, frame, err := conn.Read(hsCtx)
	if err != nil {
		return eioHandshake{}, fmt.Errorf("bus handshake read: %w", err)
	}
	typ, body, err := splitEIO(frame)
	if err != nil || typ != eioOpen {
		return eioHandshake{}, fmt.Errorf("bus handshake: unexpected frame %q", frame)
	}
	hs, err := decodeHandshake(body)
	if err != nil {
		return eioHandshake{}, err
	}

	if err := conn.Write(hsCtx, websocket.MessageText, encodeSIOConnect()); err != nil {
		return eioHandshake{}, fmt.Errorf("bus connect write: %w", err)
	}

	_, frame, err = conn.Read(hsCtx)
	if err != nil {
		return eioHandshake{}, fmt.Errorf("bus connect read: %w", err)
	}
	typ, body, err = splitEIO(frame)
	if err != nil || typ != eioMessage || len(body) == 0 {
		return eioHandshake{}, fmt.Errorf("bus connect: unexpected frame %q", frame)
	}
	switch body[0] {
	case sioConnect:
		return hs, nil
	case sioConnectError:
		return eioHandshake{}, fmt.Errorf("bus connect rejected: %s", body[1:])
	default:
		return eioHandshake{}, fmt.Errorf("bus connect: unexpected packet %q", body)
	}
}

// onOpen identifies the session and replays the desired room set.
func (b *BusClient) onOpen() {
	if b.identity != nil {
		if id, ok := b.identity(); ok {
			b.emit(v1.BusIdentify, id)
		}
	}

	b.mu.Lock()
	refs := make([]roomRef, 0, len(b.rooms))
	for _, ref := range b.rooms {
		refs = append(refs, ref)
	}
	b.mu.Unlock()

	for _, ref := range refs {
		b.emit(ref.joinEvent, ref.payload)
	}
	if len(refs) > 0 {
		b.log.Info("bus.rooms.replayed", "count", len(refs))
	}
}

func (b *BusClient) readLoop(ctx context.Context, conn *websocket.Conn, watchdog time.Duration) (DisconnectCause, error) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, watchdog)
		_, frame, err := conn.Read(readCtx)
		cancel()

		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return CauseError, errors.New("bus: server ping overdue")
			}
			return classifyCloseErr(err), err
		}

		typ, body, err := splitEIO(frame)
		if err != nil {
			continue
		}

		switch typ {
		case eioPing:
			if err := b.write(conn, []byte{eioPong}); err != nil {
				return CauseError, fmt.Errorf("bus pong: %w", err)
			}
		case eioClose:
			return CauseClean, nil
		case eioMessage:
			b.handleMessage(body)
		default:
			// Upgrade/noop packets are irrelevant on a websocket-only client.
		}
	}
}

func (b *BusClient) handleMessage(body []byte) {
	if len(body) == 0 {
		return
	}
	switch body[0] {
	case sioEvent:
		name, args, err := decodeSIOEvent(body)
		if err != nil {
			b.log.Debug("bus.event.bad", "err", err)
			return
		}
		b.dispatchEvent(name, args)
	case sioDisconnect:
		b.log.Info("bus.namespace.disconnect")
	default:
	}
}

// dispatchEvent converts a bus event into the shared vocabulary and fans it
// out through the same registry the raw socket feeds.
func (b *BusClient) dispatchEvent(name string, args []json.RawMessage) {
	var payload any
	if len(args) > 0 {
		payload = args[0]
	}

	frame, err := v1.EncodeFrame(name, payload)
	if err != nil {
		// Non-object argument; surface it rather than dropping it.
		var raw json.RawMessage
		if len(args) > 0 {
			raw = args[0]
		}
		b.registry.Dispatch(v1.UnknownEvent{Type: name, Raw: raw})
		return
	}

	env, err := v1.ParseEnvelope(frame)
	if err != nil {
		b.log.Debug("bus.event.bad", "event", name, "err", err)
		return
	}
	ev, err := v1.DecodeEvent(env)
	if err != nil {
		b.log.Debug("bus.event.undecodable", "event", name, "err", err)
		return
	}
	b.registry.Dispatch(ev)
}

// watchdogWindow bounds how long the server may go silent. Engine.IO servers
// ping every PingInterval and allow PingTimeout for the reply, so anything
// beyond their sum means a dead connection.
func watchdogWindow(hs eioHandshake) time.Duration {
	d := time.Duration(hs.PingInterval+hs.PingTimeout) * time.Millisecond
	if d < 10*time.Second {
		d = 10 * time.Second
	}
	return d + 2*time.Second
}
