package realtime

import "time"

// Transport limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 1 << 20 // 1 MiB
)

const (
	// Liveness poll defaults (overridable via config).
	livenessInterval = 5 * time.Second
	livenessTimeout  = 3 * time.Second
	maxPingFailures  = 2

	// Outbound bus emit limits (events per window).
	emitLimitEvents = 60
	emitLimitWindow = 10 * time.Second
)
