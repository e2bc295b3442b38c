package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsServer is an opt-in local listener exposing /metrics and /healthz
// for debugging long-running watch sessions.
type metricsServer struct {
	log Logger
	srv *http.Server
}

func newMetricsServer(log Logger, addr string, reg *prometheus.Registry) *metricsServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &metricsServer{
		log: log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (m *metricsServer) Start() {
	go func() {
		m.log.Info("metrics.listening", "addr", m.srv.Addr)
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Warn("metrics.serve.fail", "err", err)
		}
	}()
}

func (m *metricsServer) Stop(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.srv.Shutdown(shutdownCtx); err != nil {
		m.log.Debug("metrics.shutdown.fail", "err", err)
	}
}
