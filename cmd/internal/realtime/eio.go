package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Minimal Engine.IO v4 / Socket.IO v5 framing, websocket transport only.
// Every websocket text frame starts with one Engine.IO packet-type byte; a
// message packet ('4') carries a Socket.IO packet whose own first byte is
// the Socket.IO type. Only the default namespace is spoken.

// Engine.IO v4 packet types.
const (
	eioOpen    byte = '0'
	eioClose   byte = '1'
	eioPing    byte = '2'
	eioPong    byte = '3'
	eioMessage byte = '4'
)

// Socket.IO v5 packet types.
const (
	sioConnect      byte = '0'
	sioDisconnect   byte = '1'
	sioEvent        byte = '2'
	sioConnectError byte = '4'
)

var errEmptyFrame = errors.New("empty frame")

// eioHandshake is the open-packet body. Intervals are milliseconds.
type eioHandshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// splitEIO separates the Engine.IO type byte from the packet body.
func splitEIO(frame []byte) (byte, []byte, error) {
	if len(frame) == 0 {
		return 0, nil, errEmptyFrame
	}
	return frame[0], frame[1:], nil
}

func decodeHandshake(body []byte) (eioHandshake, error) {
	var h eioHandshake
	if err := json.Unmarshal(body, &h); err != nil {
		return eioHandshake{}, fmt.Errorf("bad handshake: %w", err)
	}
	if h.SID == "" {
		return eioHandshake{}, errors.New("handshake missing sid")
	}
	return h, nil
}

// encodeSIOConnect builds the default-namespace connect packet: "40".
func encodeSIOConnect() []byte {
	return []byte{eioMessage, sioConnect}
}

// encodeSIOEvent builds an event packet: "42[\"name\",arg1,...]".
func encodeSIOEvent(event string, args ...any) ([]byte, error) {
	arr := make([]any, 0, len(args)+1)
	arr = append(arr, event)
	arr = append(arr, args...)

	b, err := json.Marshal(arr)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(b)+2)
	out = append(out, eioMessage, sioEvent)
	return append(out, b...), nil
}

// decodeSIOEvent parses a Socket.IO packet body (the bytes after the
// Engine.IO message byte) into an event name and its raw arguments.
// An ack id between the type byte and the array is skipped.
func decodeSIOEvent(body []byte) (string, []json.RawMessage, error) {
	if len(body) == 0 || body[0] != sioEvent {
		return "", nil, fmt.Errorf("not an event packet: %q", body)
	}
	rest := body[1:]
	for len(rest) > 0 && rest[0] >= '0' && rest[0] <= '9' {
		rest = rest[1:]
	}
	if len(rest) == 0 || rest[0] != '[' {
		return "", nil, fmt.Errorf("malformed event packet: %q", body)
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(rest, &arr); err != nil {
		return "", nil, fmt.Errorf("bad event array: %w", err)
	}
	if len(arr) == 0 {
		return "", nil, errors.New("empty event array")
	}

	var name string
	if err := json.Unmarshal(arr[0], &name); err != nil {
		return "", nil, fmt.Errorf("bad event name: %w", err)
	}
	return name, arr[1:], nil
}
