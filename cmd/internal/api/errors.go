package api

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized is returned when no usable session remains after the
	// refresh path has been exhausted. The unauthorized hook has fired.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenExpired is returned when the backend kept rejecting the token
	// as expired after refresh and the retry bound was reached.
	ErrTokenExpired = errors.New("token expired")

	// ErrForbidden is returned for 403 responses without the expired marker.
	ErrForbidden = errors.New("forbidden")
)

// APIError is any other non-2xx response surfaced to the caller.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	b := strings.TrimSpace(e.Body)
	if len(b) > 200 {
		b = b[:200] + "..."
	}
	if b == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, b)
}

// NetworkError wraps transport-level failures (DNS, refused, timeouts).
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Expired-token body markers observed from the backend. The Portuguese
// variant is the canonical production message; the rest cover older builds.
var expiredMarkers = []string{
	"token inválido ou expirado",
	"token expired",
	"jwt expired",
	"invalid or expired token",
}

// isExpiredTokenBody reports whether a 403 body carries an expired marker.
func isExpiredTokenBody(body []byte) bool {
	s := strings.ToLower(string(body))
	for _, m := range expiredMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
