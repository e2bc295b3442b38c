package session

// Platform represents the client platform that owns this process.
type Platform string

const (
	// PlatformWeb is a browser-embedded session (cookie transport by default).
	PlatformWeb Platform = "web"
	// PlatformIOS is an iOS native session.
	PlatformIOS Platform = "ios"
	// PlatformAndroid is an Android native session.
	PlatformAndroid Platform = "android"
	// PlatformDesktop is a desktop (macOS/Windows/Linux) session.
	PlatformDesktop Platform = "desktop"
	// PlatformUnknown is used when the client platform is not known.
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform normalizes a configured platform string.
func ParsePlatform(s string) Platform {
	switch Platform(s) {
	case PlatformWeb, PlatformIOS, PlatformAndroid, PlatformDesktop:
		return Platform(s)
	default:
		return PlatformUnknown
	}
}

// Native reports whether the platform persists tokens locally
// instead of relying on browser cookies.
func (p Platform) Native() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformDesktop:
		return true
	default:
		return false
	}
}

// TokenTransport is how credentials travel between client and server.
type TokenTransport string

const (
	// TransportCookie keeps the refresh credential in an HTTP cookie.
	TransportCookie TokenTransport = "cookie"
	// TransportBearer sends tokens explicitly (header + refresh body).
	TransportBearer TokenTransport = "bearer"
)

// DefaultTransport is the fallback when the server does not advertise one.
func (p Platform) DefaultTransport() TokenTransport {
	if p.Native() {
		return TransportBearer
	}
	return TransportCookie
}
