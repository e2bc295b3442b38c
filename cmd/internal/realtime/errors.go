package realtime

import "errors"

var (
	// ErrConfig indicates invalid realtime configuration.
	ErrConfig = errors.New("realtime: invalid config")

	// ErrClosed is returned when an operation races a permanent shutdown.
	ErrClosed = errors.New("realtime: closed")
)
