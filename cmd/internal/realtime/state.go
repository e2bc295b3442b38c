package realtime

// ConnState is the lifecycle state of one transport connection.
type ConnState uint8

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DisconnectCause distinguishes clean closes from transport errors; the
// reconnect backoff is more patient after errors.
type DisconnectCause uint8

const (
	CauseClean DisconnectCause = iota
	CauseError
)

func (c DisconnectCause) String() string {
	if c == CauseError {
		return "error"
	}
	return "clean"
}
