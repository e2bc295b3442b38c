// Package password provides client-side password policy validation for
// Content Crush.
//
// It pre-checks new passwords (registration, change-password) before they
// are sent to the backend, so obviously rejectable inputs fail fast with a
// stable error instead of a round trip. Hashing and verification are the
// server's job and are deliberately absent here.
package password
