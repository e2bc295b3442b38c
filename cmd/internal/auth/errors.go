package auth

import "errors"

var (
	// ErrInvalidInput is returned when client-side validation rejects a form.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLoginFailed is returned when the backend rejects credentials.
	ErrLoginFailed = errors.New("login failed")

	// ErrRefreshFailed is returned when the refresh exchange is rejected.
	// The local session has been cleared by the time callers see this.
	ErrRefreshFailed = errors.New("session refresh failed")

	// ErrNoSession is returned for operations that need an authenticated user.
	ErrNoSession = errors.New("not signed in")
)
