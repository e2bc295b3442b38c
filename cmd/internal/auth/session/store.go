package session

import (
	"sync"
)

// Store is the single holder of the client's token pair.
//
// Concurrency guarantees:
//   - All mutation goes through one mutex; whichever refresh completes first
//     wins and later readers observe a consistent pair (never a mixed one).
//   - Current returns a copy; callers never share token memory.
type Store struct {
	mu     sync.RWMutex
	tokens Tokens

	platform  Platform
	transport TokenTransport

	vault *Vault
}

// NewStore constructs a Store for the given platform. The vault is optional;
// when present and the transport is bearer, Set/Clear mirror to it.
func NewStore(platform Platform, vault *Vault) *Store {
	return &Store{
		platform:  platform,
		transport: platform.DefaultTransport(),
		vault:     vault,
	}
}

// Platform returns the platform this store was built for.
func (s *Store) Platform() Platform {
	return s.platform
}

// Transport returns the currently negotiated token transport.
func (s *Store) Transport() TokenTransport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport
}

// SetTransport records the server-advertised token transport.
func (s *Store) SetTransport(t TokenTransport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t == TransportCookie || t == TransportBearer {
		s.transport = t
	}
}

// Current returns the held token pair and whether one exists.
func (s *Store) Current() (Tokens, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens.Empty() {
		return Tokens{}, false
	}
	return s.tokens, true
}

// Set replaces the held pair atomically and mirrors it to the vault on
// bearer transport. Vault write failures are reported but the in-memory
// pair is already committed.
func (s *Store) Set(t Tokens) error {
	t = t.WithParsedExpiry()

	s.mu.Lock()
	s.tokens = t
	mirror := s.vault != nil && s.transport == TransportBearer
	s.mu.Unlock()

	if mirror {
		return s.vault.Save(t)
	}
	return nil
}

// Clear drops the held pair and removes any persisted copy.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.tokens = Tokens{}
	v := s.vault
	s.mu.Unlock()

	if v != nil {
		return v.Clear()
	}
	return nil
}

// Restore loads a persisted pair from the vault into the store.
// Expired pairs are restored too: the refresh flow decides what to do.
func (s *Store) Restore() (Tokens, error) {
	s.mu.RLock()
	v := s.vault
	s.mu.RUnlock()

	if v == nil {
		return Tokens{}, ErrNoSession
	}

	t, err := v.Load()
	if err != nil {
		return Tokens{}, err
	}

	s.mu.Lock()
	s.tokens = t
	s.mu.Unlock()
	return t, nil
}
