// Package metrics exposes Prometheus instrumentation for the client core:
// request outcomes, token refreshes, retries, socket reconnects, and query
// cache effectiveness.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the instrument set shared by the api, auth, querycache, and
// realtime packages. All methods are nil-safe so instrumentation stays
// optional in tests and small tools.
type Metrics struct {
	httpRequests   *prometheus.CounterVec
	httpRetries    prometheus.Counter
	tokenRefreshes *prometheus.CounterVec
	wsReconnects   *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
}

// New builds the instrument set and registers it on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crush_http_requests_total",
			Help: "API requests by method and status class.",
		}, []string{"method", "code"}),
		httpRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crush_http_retries_total",
			Help: "Requests re-sent after an expired-token refresh.",
		}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crush_token_refresh_total",
			Help: "Session refresh exchanges by result.",
		}, []string{"result"}),
		wsReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crush_ws_reconnects_total",
			Help: "Realtime reconnect attempts by transport and close cause.",
		}, []string{"transport", "cause"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crush_querycache_hits_total",
			Help: "Query cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crush_querycache_misses_total",
			Help: "Query cache misses (stale or absent).",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crush_querycache_invalidations_total",
			Help: "Query cache entries invalidated (manual or realtime-driven).",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.httpRequests, m.httpRetries, m.tokenRefreshes,
			m.wsReconnects, m.cacheHits, m.cacheMisses, m.cacheEvictions,
		)
	}
	return m
}

// IncHTTPRequest records one completed API request.
func (m *Metrics) IncHTTPRequest(method, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, code).Inc()
}

// IncHTTPRetry records one post-refresh re-send.
func (m *Metrics) IncHTTPRetry() {
	if m == nil {
		return
	}
	m.httpRetries.Inc()
}

// IncTokenRefresh records a refresh exchange ("ok" or "fail").
func (m *Metrics) IncTokenRefresh(result string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(result).Inc()
}

// IncWSReconnect records one reconnect attempt ("raw"/"bus", "clean"/"error").
func (m *Metrics) IncWSReconnect(transport, cause string) {
	if m == nil {
		return
	}
	m.wsReconnects.WithLabelValues(transport, cause).Inc()
}

// IncCacheHit records a cache hit.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// IncCacheMiss records a cache miss.
func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// IncCacheInvalidation records n invalidated entries.
func (m *Metrics) IncCacheInvalidation(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheEvictions.Add(float64(n))
}
