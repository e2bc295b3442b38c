// Package session holds the client's copy of the Content Crush session:
// the access/refresh token pair, the platform context it was issued for,
// and the encrypted vault that persists tokens on native platforms.
//
// The store is an explicitly owned object with a single mutex-guarded
// writer; nothing in this package is module-level mutable state.
// Refresh itself (the network exchange) lives in the auth package.
package session
