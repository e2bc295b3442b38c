// Package app wires the client runtime: config, logging, the auth service,
// the query cache and the realtime manager.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"contentcrush/cmd/internal/api"
	"contentcrush/cmd/internal/auth"
	"contentcrush/cmd/internal/auth/session"
	"contentcrush/cmd/internal/metrics"
	"contentcrush/cmd/internal/querycache"
	"contentcrush/cmd/internal/realtime"
	v1 "contentcrush/contracts/realtime/v1"

	"github.com/prometheus/client_golang/prometheus"
)

// App is the client runtime. One instance per process; commands share it.
type App struct {
	cfg Config
	log Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store *session.Store
	auth  *auth.Service
	cache *querycache.Cache
	rt    *realtime.Manager

	unbindCache func()
	metricsSrv  *metricsServer
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{cfg: cfg, log: log}

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)

	store, err := session.NewStoreFromConfig(session.Config{
		Platform:    session.ParsePlatform(cfg.Platform),
		RefreshSkew: cfg.RefreshSkew,
		VaultPath:   cfg.VaultPath,
		VaultKeyHex: cfg.VaultKeyHex,
	})
	if err != nil {
		return nil, err
	}
	a.store = store

	// A persisted session from a previous run is picked up silently.
	if cfg.VaultPath != "" {
		if _, err := store.Restore(); err != nil && !errors.Is(err, session.ErrNoSession) {
			log.Warn("session.restore.fail", "err", err)
		}
	}

	svc, err := auth.NewService(cfg.BaseURL, store,
		auth.WithLogger(log),
		auth.WithMetrics(a.metrics),
		auth.WithRefreshSkew(cfg.RefreshSkew),
		auth.WithUnauthorizedHook(func() {
			log.Warn("auth.session.expired", "action", "run `crush login`")
		}),
		auth.WithSessionEndHook(func() { a.onSessionEnd() }),
	)
	if err != nil {
		return nil, err
	}
	a.auth = svc

	a.cache = querycache.New(
		querycache.WithTTL(cfg.CacheTTL),
		querycache.WithLogger(log),
		querycache.WithMetrics(a.metrics),
		querycache.WithRetryPolicy(svc.API().RetryPolicy()),
	)

	rtCfg, err := realtime.LoadConfigFromEnv(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	rt, err := realtime.NewManager(log, rtCfg, a.wsToken, a.wsIdentity, svc.API().HTTPClient(), a.metrics)
	if err != nil {
		return nil, err
	}
	a.rt = rt
	a.unbindCache = rt.BindCache(a.cache)

	if cfg.MetricsAddr != "" {
		a.metricsSrv = newMetricsServer(log, cfg.MetricsAddr, a.registry)
		a.metricsSrv.Start()
	}

	return a, nil
}

// wsToken feeds websocket handshakes, refreshing proactively so a dial never
// carries a token about to expire.
func (a *App) wsToken(ctx context.Context) (string, error) {
	if err := a.auth.EnsureFresh(ctx); err != nil {
		a.log.Debug("realtime.token.refresh.fail", "err", err)
	}
	t, ok := a.store.Current()
	if !ok {
		return "", nil // cookie transport may still authenticate the dial
	}
	return t.AccessToken, nil
}

// wsIdentity feeds the bus identify handshake.
func (a *App) wsIdentity() (v1.IdentifyPayload, bool) {
	u := a.auth.CurrentUser()
	if u == nil {
		return v1.IdentifyPayload{}, false
	}
	return v1.IdentifyPayload{UserID: u.ID, Username: u.Name}, true
}

// onSessionEnd drops everything derived from the session.
func (a *App) onSessionEnd() {
	if a.cache != nil {
		a.cache.Clear()
	}
	if a.rt != nil {
		a.rt.Close()
	}
}

// Auth returns the auth facade.
func (a *App) Auth() *auth.Service { return a.auth }

// Cache returns the query cache.
func (a *App) Cache() *querycache.Cache { return a.cache }

// Realtime returns the realtime manager.
func (a *App) Realtime() *realtime.Manager { return a.rt }

// Log returns the process logger.
func (a *App) Log() Logger { return a.log }

// GetCached reads an /api path through the query cache.
func (a *App) GetCached(ctx context.Context, path string) (json.RawMessage, error) {
	key, err := CacheKey(path)
	if err != nil {
		return nil, err
	}

	v, err := a.cache.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		res, err := a.auth.API().Get(ctx, path)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, api.ErrUnauthorized
		}
		return json.RawMessage(res.Body), nil
	})
	if err != nil {
		return nil, err
	}

	raw, ok := v.(json.RawMessage)
	if !ok {
		return nil, fmt.Errorf("cache entry for %q is not a response body", key)
	}
	return raw, nil
}

// Close shuts the runtime down. Safe to call once at process exit.
func (a *App) Close(ctx context.Context) {
	if a.unbindCache != nil {
		a.unbindCache()
	}
	if a.rt != nil {
		a.rt.Close()
	}
	if a.metricsSrv != nil {
		a.metricsSrv.Stop(ctx)
	}
}

// CacheKey maps an /api path to its cache key: "/api/tasks?status=open"
// becomes "tasks/status=open", so invalidating the "tasks" collection also
// drops filtered reads.
func CacheKey(path string) (string, error) {
	p := strings.TrimPrefix(path, "/")
	p = strings.TrimPrefix(p, "api/")
	p = strings.Trim(p, "/")
	if p == "" {
		return "", fmt.Errorf("uncacheable path: %q", path)
	}
	return strings.ReplaceAll(p, "?", "/"), nil
}
