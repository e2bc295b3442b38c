package session

import (
	"os"
	"time"
)

// Config defines runtime configuration for the client session subsystem.
//
// It controls the expiry skew used for proactive refresh, the platform the
// process runs as, and the vault location/key for native token persistence.
type Config struct {
	// Platform is the client platform ("web", "ios", "android", "desktop").
	Platform Platform

	// RefreshSkew is how long before access-token expiry a proactive refresh
	// is considered worthwhile. The 401/403 path remains authoritative.
	RefreshSkew time.Duration

	// VaultPath is the path of the sealed token file (native platforms only).
	VaultPath string

	// VaultKeyHex is the hex-encoded 32-byte vault key.
	VaultKeyHex string
}

// DefaultConfig returns a configuration suitable for a desktop client.
func DefaultConfig() Config {
	return Config{
		Platform:    PlatformDesktop,
		RefreshSkew: 30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional:
//   - CRUSH_PLATFORM (web|ios|android|desktop)
//   - CRUSH_REFRESH_SKEW (Go duration)
//   - CRUSH_VAULT_PATH
//   - CRUSH_VAULT_KEY_HEX (required when CRUSH_VAULT_PATH is set)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("CRUSH_PLATFORM"); v != "" {
		p := ParsePlatform(v)
		if p == PlatformUnknown {
			return Config{}, ErrConfig
		}
		cfg.Platform = p
	}

	if v := os.Getenv("CRUSH_REFRESH_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshSkew = d
	}

	cfg.VaultPath = os.Getenv("CRUSH_VAULT_PATH")
	cfg.VaultKeyHex = os.Getenv("CRUSH_VAULT_KEY_HEX")

	if cfg.VaultPath != "" && cfg.VaultKeyHex == "" {
		return Config{}, ErrConfig
	}

	return cfg, nil
}

// NewStoreFromConfig builds a Store (with vault when configured).
func NewStoreFromConfig(cfg Config) (*Store, error) {
	var vault *Vault
	if cfg.VaultPath != "" {
		v, err := NewVault(cfg.VaultPath, cfg.VaultKeyHex)
		if err != nil {
			return nil, err
		}
		vault = v
	}
	return NewStore(cfg.Platform, vault), nil
}
