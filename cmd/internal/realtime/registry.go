package realtime

import (
	"log/slog"
	"sync"

	v1 "contentcrush/contracts/realtime/v1"
)

// Handler consumes one decoded event. Handlers run on the dispatch
// goroutine and must not block.
type Handler func(ev v1.Event)

// Registry routes decoded events to subscribers by kind. Both transports
// dispatch into the same registry.
type Registry struct {
	log *slog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

// NewRegistry constructs an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:  log,
		subs: make(map[string]map[int]Handler),
	}
}

// Subscribe registers fn for the given kind (legacy aliases normalize to
// their canonical kind; v1.KindWildcard receives everything). The returned
// func removes the subscription and is idempotent.
func (r *Registry) Subscribe(kind string, fn Handler) func() {
	if fn == nil {
		return func() {}
	}
	kind = v1.Normalize(kind)

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	if r.subs[kind] == nil {
		r.subs[kind] = make(map[int]Handler)
	}
	r.subs[kind][id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs[kind], id)
			r.mu.Unlock()
		})
	}
}

// Dispatch fans ev out to the kind's subscribers plus wildcard subscribers.
// Unknown kinds reach wildcard subscribers only.
func (r *Registry) Dispatch(ev v1.Event) {
	if ev == nil {
		return
	}
	kind := v1.Normalize(ev.Kind())

	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.subs[kind])+len(r.subs[v1.KindWildcard]))
	for _, fn := range r.subs[kind] {
		handlers = append(handlers, fn)
	}
	for _, fn := range r.subs[v1.KindWildcard] {
		handlers = append(handlers, fn)
	}
	r.mu.RUnlock()

	if _, unknown := ev.(v1.UnknownEvent); unknown {
		r.log.Debug("realtime.event.unknown", "type", ev.Kind())
	}
	for _, fn := range handlers {
		fn(ev)
	}
}
