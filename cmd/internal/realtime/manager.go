package realtime

import (
	"context"
	"log/slog"
	"net/http"

	"contentcrush/cmd/internal/metrics"
	"contentcrush/cmd/internal/querycache"
	v1 "contentcrush/contracts/realtime/v1"
)

// Manager owns both transports and the shared registry. Consumers talk to
// the Manager only; which wire carried an event is an implementation detail.
type Manager struct {
	log      *slog.Logger
	registry *Registry
	socket   *SocketClient
	bus      *BusClient
}

// NewManager wires the raw socket and the event bus onto one registry.
// hc should carry the API client's cookie jar so cookie-authenticated
// handshakes work; token covers bearer-authenticated ones.
func NewManager(log *slog.Logger, cfg Config, token TokenFunc, identity IdentityFunc, hc *http.Client, m *metrics.Metrics) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	reg := NewRegistry(log)
	return &Manager{
		log:      log,
		registry: reg,
		socket:   NewSocketClient(log, cfg, reg, token, hc, m),
		bus:      NewBusClient(log, cfg, reg, identity, hc, m),
	}, nil
}

// Connect starts both transports. Each reconnects independently.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.socket.Connect(ctx); err != nil {
		return err
	}
	return m.bus.Connect(ctx)
}

// Close shuts both transports down permanently.
func (m *Manager) Close() {
	m.socket.Close()
	m.bus.Close()
}

// States reports both connection states (diagnostics).
func (m *Manager) States() (socket, bus ConnState) {
	return m.socket.State(), m.bus.State()
}

// Subscribe registers a handler for an event kind (v1.KindWildcard for all).
func (m *Manager) Subscribe(kind string, fn Handler) func() {
	return m.registry.Subscribe(kind, fn)
}

// BindCache invalidates cache collections from update events. The returned
// func detaches the binding.
func (m *Manager) BindCache(c *querycache.Cache) func() {
	return m.registry.Subscribe(v1.KindWildcard, func(ev v1.Event) {
		if n := c.InvalidateForEvent(ev); n > 0 {
			m.log.Debug("realtime.cache.invalidated", "kind", ev.Kind(), "dropped", n)
		}
	})
}

// ---- bus passthroughs ----

func (m *Manager) JoinTask(taskID string)       { m.bus.JoinTask(taskID) }
func (m *Manager) LeaveTask(taskID string)      { m.bus.LeaveTask(taskID) }
func (m *Manager) JoinProject(projectID string) { m.bus.JoinProject(projectID) }
func (m *Manager) LeaveProject(projectID string) {
	m.bus.LeaveProject(projectID)
}
func (m *Manager) Rooms() []string { return m.bus.Rooms() }

func (m *Manager) SendTaskComment(taskID, author, text string) {
	m.bus.SendTaskComment(taskID, author, text)
}
func (m *Manager) SendProjectComment(projectID, author, text string) {
	m.bus.SendProjectComment(projectID, author, text)
}
func (m *Manager) NotifyUser(p v1.NotifyUserPayload) { m.bus.NotifyUser(p) }
