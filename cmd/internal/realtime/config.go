package realtime

import (
	"net/url"
	"os"
	"strings"
	"time"
)

// Config defines runtime configuration for the realtime subsystem.
type Config struct {
	// BaseURL is the http(s) origin of the backend. Websocket URLs are
	// derived from it.
	BaseURL string

	// SocketPath is the raw-socket endpoint.
	SocketPath string

	// BusPath is the event-bus endpoint prefix.
	BusPath string

	// Backoff is the reconnect curve shared by both transports.
	Backoff Backoff

	// LivenessInterval is how often an open connection is pinged.
	LivenessInterval time.Duration
	// LivenessTimeout bounds each ping exchange.
	LivenessTimeout time.Duration

	// EmitLimit / EmitWindow bound outbound bus emits.
	EmitLimit  int
	EmitWindow time.Duration
}

// DefaultConfig returns production defaults for the given backend origin.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:          baseURL,
		SocketPath:       "/ws",
		BusPath:          "/socket.io/",
		Backoff:          DefaultBackoff(),
		LivenessInterval: livenessInterval,
		LivenessTimeout:  livenessTimeout,
		EmitLimit:        emitLimitEvents,
		EmitWindow:       emitLimitWindow,
	}
}

// LoadConfigFromEnv loads realtime configuration from environment variables.
//
// Optional:
//   - CRUSH_RT_SOCKET_PATH
//   - CRUSH_RT_BUS_PATH
//   - CRUSH_RT_LIVENESS_INTERVAL (Go duration)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv(baseURL string) (Config, error) {
	cfg := DefaultConfig(baseURL)

	if v := os.Getenv("CRUSH_RT_SOCKET_PATH"); v != "" {
		cfg.SocketPath = v
	}
	if v := os.Getenv("CRUSH_RT_BUS_PATH"); v != "" {
		cfg.BusPath = v
	}
	if v := os.Getenv("CRUSH_RT_LIVENESS_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.LivenessInterval = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural validity.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrConfig
	}
	if !strings.HasPrefix(c.SocketPath, "/") || !strings.HasPrefix(c.BusPath, "/") {
		return ErrConfig
	}
	if c.LivenessInterval <= 0 || c.LivenessTimeout <= 0 {
		return ErrConfig
	}
	return nil
}

// socketURL derives the ws(s) URL of the raw-socket endpoint.
func (c Config) socketURL() string {
	return toWS(c.BaseURL) + c.SocketPath
}

// busURL derives the ws(s) URL of the event-bus endpoint, handshake query
// included.
func (c Config) busURL() string {
	return toWS(c.BaseURL) + strings.TrimSuffix(c.BusPath, "/") + "/?EIO=4&transport=websocket"
}

func toWS(base string) string {
	base = strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
