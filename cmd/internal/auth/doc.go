// Package auth is the session-facing facade: login, logout, register,
// profile and password changes, and the refresh exchange the HTTP wrapper
// calls back into.
//
// Refresh is coalesced through singleflight so concurrent 401/403 handlers
// share one in-flight exchange, and the token transport (cookie vs bearer)
// is negotiated from the server's advertised capabilities instead of
// user-agent sniffing.
package auth
