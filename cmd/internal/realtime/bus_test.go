package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "contentcrush/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const busOpenFrame = `0{"sid":"s1","pingInterval":25000,"pingTimeout":20000}`

// newBusServer runs a minimal event-bus endpoint: handshake, then every
// client frame lands on frames; sendCh frames go to the client.
func newBusServer(t *testing.T) (*httptest.Server, chan string, chan string) {
	t.Helper()
	frames := make(chan string, 32)
	sendCh := make(chan string, 32)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		if err := conn.Write(ctx, websocket.MessageText, []byte(busOpenFrame)); err != nil {
			return
		}
		_, connect, err := conn.Read(ctx)
		if err != nil || string(connect) != "40" {
			t.Errorf("expected namespace connect, got %q (%v)", connect, err)
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, []byte(`40{"sid":"n1"}`)); err != nil {
			return
		}

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case f := <-sendCh:
					if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
						return
					}
				}
			}
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			frames <- string(data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, frames, sendCh
}

func waitFrame(t *testing.T, frames <-chan string) string {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

func TestBusClient_IdentifyAndRoomReplay(t *testing.T) {
	srv, frames, sendCh := newBusServer(t)

	reg := NewRegistry(nil)
	got := make(chan v1.Event, 4)
	reg.Subscribe(v1.KindNewComment, func(ev v1.Event) { got <- ev })

	identity := func() (v1.IdentifyPayload, bool) {
		return v1.IdentifyPayload{UserID: "u7"}, true
	}
	b := NewBusClient(nil, testConfig(srv.URL), reg, identity, srv.Client(), nil)

	// Joined while disconnected: remembered, not sent.
	b.JoinTask("t1")
	if rooms := b.Rooms(); len(rooms) != 1 || rooms[0] != "task:t1" {
		t.Fatalf("rooms = %v", rooms)
	}

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Close()

	f := waitFrame(t, frames)
	if !strings.HasPrefix(f, `42["identify"`) || !strings.Contains(f, `"u7"`) {
		t.Fatalf("first frame = %q, want identify", f)
	}

	f = waitFrame(t, frames)
	if !strings.HasPrefix(f, `42["join-task"`) || !strings.Contains(f, `"t1"`) {
		t.Fatalf("second frame = %q, want join-task replay", f)
	}

	// Server fanout reaches the shared registry.
	sendCh <- `42["new-comment",{"task_id":"t1","author":"u2","text":"oi"}]`
	ev := waitEvent(t, got)
	c, ok := ev.(v1.CommentEvent)
	if !ok || c.Text != "oi" || c.TaskID != "t1" {
		t.Fatalf("event = %#v", ev)
	}

	b.SendTaskComment("t1", "u7", "respondendo")
	f = waitFrame(t, frames)
	if !strings.HasPrefix(f, `42["task-comment"`) || !strings.Contains(f, `"respondendo"`) {
		t.Fatalf("frame = %q, want task-comment", f)
	}

	b.LeaveTask("t1")
	f = waitFrame(t, frames)
	if !strings.HasPrefix(f, `42["leave-task"`) {
		t.Fatalf("frame = %q, want leave-task", f)
	}
	if rooms := b.Rooms(); len(rooms) != 0 {
		t.Fatalf("rooms after leave = %v", rooms)
	}
}

func TestBusClient_PongsServerPings(t *testing.T) {
	srv, frames, sendCh := newBusServer(t)

	b := NewBusClient(nil, testConfig(srv.URL), NewRegistry(nil), nil, srv.Client(), nil)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Close()

	sendCh <- "2"
	if f := waitFrame(t, frames); f != "3" {
		t.Fatalf("frame = %q, want pong", f)
	}
}

func TestBusClient_OpsWhileDisconnectedAreNoOps(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1") // nothing listens here
	b := NewBusClient(nil, cfg, NewRegistry(nil), nil, nil, nil)

	// None of these may block or panic without a connection.
	b.JoinProject("p1")
	b.SendProjectComment("p1", "u1", "hello")
	b.NotifyUser(v1.NotifyUserPayload{UserID: "u2", Title: "t", Message: "m"})
	b.LeaveProject("p1")

	if rooms := b.Rooms(); len(rooms) != 0 {
		t.Fatalf("rooms = %v", rooms)
	}
	if st := b.State(); st != StateDisconnected {
		t.Fatalf("state = %v", st)
	}
}

func TestBusClient_ProjectRoomSurvivesUntilLeave(t *testing.T) {
	srv, frames, _ := newBusServer(t)

	b := NewBusClient(nil, testConfig(srv.URL), NewRegistry(nil), nil, srv.Client(), nil)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Close()

	b.JoinProject("p3")
	f := waitFrame(t, frames)
	if !strings.HasPrefix(f, `42["join-project"`) || !strings.Contains(f, `"p3"`) {
		t.Fatalf("frame = %q, want join-project", f)
	}
	if rooms := b.Rooms(); len(rooms) != 1 || rooms[0] != "project:p3" {
		t.Fatalf("rooms = %v", rooms)
	}
}
