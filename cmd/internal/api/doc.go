// Package api wraps HTTP access to the Content Crush REST backend.
//
// The client attaches the current access token, detects expired-token
// responses (401, and 403 bodies carrying the backend's expired marker),
// coalesces a session refresh, and retries the original request under one
// shared RetryPolicy. Unrecoverable auth failures fire the unauthorized
// hook exactly once, the CLI/app equivalent of the forced /auth redirect.
package api
