// Command devserver is a self-contained fake Content Crush backend for
// exercising the crush CLI locally: token auth with short-lived access
// tokens, a raw update socket and a minimal event bus.
//
// It is a development tool; nothing here is production code.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	v1 "contentcrush/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
)

func main() {
	var (
		addr      = flag.String("addr", "127.0.0.1:3000", "listen address")
		accessTTL = flag.Duration("access-ttl", 2*time.Minute, "access token lifetime (short, to exercise refresh)")
		eventGap  = flag.Duration("event-gap", 5*time.Second, "delay between synthetic update events")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	srv := newServer(log, *accessTTL, *eventGap)

	log.Info("devserver.listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, srv.routes()); err != nil {
		log.Error("devserver.serve", "err", err)
		os.Exit(1)
	}
}

type server struct {
	log      *slog.Logger
	secret   []byte
	ttl      time.Duration
	eventGap time.Duration

	mu       sync.Mutex
	users    map[string]user   // by email
	refresh  map[string]string // refresh token -> email
	nextUser int
}

type user struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	password string
}

func newServer(log *slog.Logger, ttl, eventGap time.Duration) *server {
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)

	s := &server{
		log:      log,
		secret:   secret,
		ttl:      ttl,
		eventGap: eventGap,
		users:    map[string]user{},
		refresh:  map[string]string{},
	}
	s.users["demo@crush.dev"] = user{ID: "u1", Name: "Demo", Email: "demo@crush.dev", password: "demo-pass-1"}
	s.nextUser = 2
	return s
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/capabilities", s.handleCapabilities)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/mobile-refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("GET /api/auth/me", s.handleMe)
	mux.HandleFunc("GET /api/", s.handleResource)
	mux.HandleFunc("/ws", s.handleSocket)
	mux.HandleFunc("/socket.io/", s.handleBus)
	return mux
}

// ---- auth ----

func (s *server) issue(email string) map[string]any {
	now := time.Now()
	claims := jwt.MapClaims{"sub": email, "exp": now.Add(s.ttl).Unix(), "iat": now.Unix()}
	access, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)

	rt := randomHex(16)
	s.mu.Lock()
	s.refresh[rt] = email
	s.mu.Unlock()

	return map[string]any{
		"access_token":      access,
		"access_expires_at": now.Add(s.ttl).UTC(),
		"refresh_token":     rt,
	}
}

func (s *server) authed(r *http.Request) (user, bool) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		return user{}, false
	}
	tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return user{}, false
	}
	sub, _ := tok.Claims.GetSubject()

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[sub]
	return u, ok
}

func (s *server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"token_transport": "bearer"})
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if json.NewDecoder(r.Body).Decode(&in) != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	u, ok := s.users[in.Email]
	s.mu.Unlock()
	if !ok || u.password != in.Password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": u, "session": s.issue(u.Email)})
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if json.NewDecoder(r.Body).Decode(&in) != nil || in.Email == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if _, exists := s.users[in.Email]; exists {
		s.mu.Unlock()
		w.WriteHeader(http.StatusConflict)
		return
	}
	u := user{ID: fmt.Sprintf("u%d", s.nextUser), Name: in.Name, Email: in.Email, password: in.Password}
	s.nextUser++
	s.users[in.Email] = u
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"user": u, "session": s.issue(u.Email)})
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)

	s.mu.Lock()
	email, ok := s.refresh[in.RefreshToken]
	if ok {
		delete(s.refresh, in.RefreshToken) // rotate
	}
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"session": s.issue(email)})
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authed(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

// handleResource serves canned collections so `crush get` has something to
// cache. Expired tokens get the production error body to exercise the
// refresh-and-retry path.
func (s *server) handleResource(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authed(r); !ok {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "Token inválido ou expirado"})
		return
	}

	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/"), "/")
	writeJSON(w, http.StatusOK, map[string]any{
		"collection": name,
		"items":      []map[string]any{{"id": "1", "name": name + " sample"}},
		"fetched_at": time.Now().UTC(),
	})
}

// ---- raw socket ----

func (s *server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	s.log.Info("socket.connected")

	kinds := []string{v1.KindTaskUpdated, v1.KindProjectUpdated, v1.KindNotification, v1.KindFinancialUpdated}
	i := 0
	t := time.NewTicker(s.eventGap)
	defer t.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-t.C:
		}

		var payload any
		kind := kinds[i%len(kinds)]
		if kind == v1.KindNotification {
			payload = v1.NotificationPayload{Title: "Atualização", Message: fmt.Sprintf("evento sintético #%d", i)}
		} else {
			payload = v1.ResourceUpdatedPayload{ID: fmt.Sprintf("%d", i)}
		}
		frame, _ := v1.EncodeFrame(kind, payload)

		writeCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		err := conn.Write(writeCtx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			return
		}
		i++
	}
}

// ---- event bus ----

type busConn struct {
	conn  *websocket.Conn
	mu    sync.Mutex
	rooms map[string]bool
	user  string
}

func (c *busConn) write(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, frame)
}

func (s *server) handleBus(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	ctx := r.Context()

	open := fmt.Sprintf(`0{"sid":%q,"pingInterval":25000,"pingTimeout":20000}`, randomHex(8))
	bc := &busConn{conn: conn, rooms: map[string]bool{}}
	if bc.write(ctx, []byte(open)) != nil {
		return
	}

	// Expect the namespace connect, then ack it.
	if _, f, err := conn.Read(ctx); err != nil || !strings.HasPrefix(string(f), "40") {
		return
	}
	if bc.write(ctx, []byte(fmt.Sprintf(`40{"sid":%q}`, randomHex(8)))) != nil {
		return
	}

	// Server-initiated Engine.IO pings.
	go func() {
		t := time.NewTicker(25 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if bc.write(ctx, []byte("2")) != nil {
					return
				}
			}
		}
	}()

	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			return
		}
		s.handleBusFrame(ctx, bc, frame)
	}
}

func (s *server) handleBusFrame(ctx context.Context, bc *busConn, frame []byte) {
	str := string(frame)
	switch {
	case str == "3": // pong
		return
	case strings.HasPrefix(str, "42"):
	default:
		return
	}

	var arr []json.RawMessage
	if json.Unmarshal(frame[2:], &arr) != nil || len(arr) == 0 {
		return
	}
	var name string
	if json.Unmarshal(arr[0], &name) != nil {
		return
	}

	switch name {
	case v1.BusIdentify:
		var p v1.IdentifyPayload
		if len(arr) > 1 {
			_ = json.Unmarshal(arr[1], &p)
		}
		bc.user = p.UserID
		s.log.Info("bus.identified", "user_id", p.UserID)

	case v1.BusJoinTask, v1.BusJoinProject, v1.BusLeaveTask, v1.BusLeaveProject:
		var p v1.RoomPayload
		if len(arr) > 1 {
			_ = json.Unmarshal(arr[1], &p)
		}
		key := "task:" + p.TaskID
		if p.ProjectID != "" {
			key = "project:" + p.ProjectID
		}
		joined := strings.HasPrefix(name, "join")
		bc.mu.Lock()
		if joined {
			bc.rooms[key] = true
		} else {
			delete(bc.rooms, key)
		}
		bc.mu.Unlock()
		s.log.Info("bus.room", "op", name, "room", key, "user_id", bc.user)

	case v1.BusTaskComment, v1.BusProjectComment:
		// Echo the comment back as a new-comment fanout.
		var p v1.CommentPayload
		if len(arr) > 1 {
			_ = json.Unmarshal(arr[1], &p)
		}
		echo, _ := json.Marshal([]any{v1.KindNewComment, p})
		_ = bc.write(ctx, append([]byte("42"), echo...))
		s.log.Info("bus.comment", "task_id", p.TaskID, "project_id", p.ProjectID)

	case v1.BusNotifyUser:
		s.log.Info("bus.notify", "raw", str)
	}
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "0000"
	}
	return hex.EncodeToString(b)
}
