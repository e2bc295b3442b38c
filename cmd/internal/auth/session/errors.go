package session

import "errors"

var (
	// ErrNoSession is returned when no token pair is held.
	ErrNoSession = errors.New("no active session")

	// ErrNoRefreshToken is returned when a refresh is requested but the store
	// holds no refresh credential (cookie-transport sessions keep it server-side).
	ErrNoRefreshToken = errors.New("no refresh token held")

	// ErrNoExpiryClaim is returned when an access token carries no usable exp claim.
	ErrNoExpiryClaim = errors.New("access token has no exp claim")

	// ErrVaultKey is returned when the vault key is missing or malformed.
	ErrVaultKey = errors.New("invalid vault key")

	// ErrVaultCorrupt is returned when the vault file fails authentication.
	// Tampered or truncated vaults are treated as absent sessions.
	ErrVaultCorrupt = errors.New("vault corrupt or tampered")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
