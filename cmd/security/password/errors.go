package password

import "errors"

// Sentinel errors callers match with errors.Is; the CLI maps them to
// user-facing messages.
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
)
