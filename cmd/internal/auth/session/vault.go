package session

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// vaultRecord is the sealed JSON body.
type vaultRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	AccessExpiry time.Time `json:"access_expiry,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// Vault persists the token pair for native platforms, sealed with
// XChaCha20-Poly1305. The file layout is nonce || ciphertext.
type Vault struct {
	path string
	key  []byte
}

// NewVault builds a Vault at path with a hex-encoded 32-byte key.
func NewVault(path, keyHex string) (*Vault, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: missing vault path", ErrConfig)
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, ErrVaultKey
	}
	return &Vault{path: path, key: key}, nil
}

// NewVaultKeyHex generates a fresh random vault key (hex, 32 bytes).
func NewVaultKeyHex() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// Save seals the pair to disk. Writes are atomic (tmp + rename) so a crash
// never leaves a half-written vault.
func (v *Vault) Save(t Tokens) error {
	rec := vaultRecord{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		AccessExpiry: t.AccessExpiry,
		SavedAt:      time.Now().UTC(),
	}
	plain, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := aead.Seal(nonce, nonce, plain, nil)

	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return err
	}

	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, v.path)
}

// Load opens and authenticates the vault. A missing file returns ErrNoSession;
// an unreadable or tampered file returns ErrVaultCorrupt.
func (v *Vault) Load() (Tokens, error) {
	sealed, err := os.ReadFile(v.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Tokens{}, ErrNoSession
		}
		return Tokens{}, err
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return Tokens{}, err
	}
	if len(sealed) < aead.NonceSize() {
		return Tokens{}, ErrVaultCorrupt
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Tokens{}, ErrVaultCorrupt
	}

	var rec vaultRecord
	if err := json.Unmarshal(plain, &rec); err != nil {
		return Tokens{}, ErrVaultCorrupt
	}

	return Tokens{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		AccessExpiry: rec.AccessExpiry,
	}, nil
}

// Clear removes the vault file. Missing files are not an error.
func (v *Vault) Clear() error {
	if err := os.Remove(v.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
