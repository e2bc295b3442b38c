package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config contains all runtime configuration for the client.
//
// Sources, later wins: defaults, $XDG_CONFIG_HOME/crush/config.yaml, a local
// .env file, CRUSH_* environment variables.
type Config struct {
	BaseURL string

	LogLevel  string
	LogFormat string

	Platform    string
	VaultPath   string
	VaultKeyHex string
	RefreshSkew time.Duration

	CacheTTL time.Duration

	// MetricsAddr enables the local /metrics listener when non-empty.
	MetricsAddr string
}

// LoadConfig builds Config from file, .env and environment.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	v.SetDefault("base_url", "http://localhost:3000")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("platform", "desktop")
	v.SetDefault("vault_path", "")
	v.SetDefault("vault_key_hex", "")
	v.SetDefault("refresh_skew", 30*time.Second)
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("metrics_addr", "")

	if dir := configDir(); dir != "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config file: %w", err)
			}
		}
	}

	// Local .env overrides the file, env vars override both.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	v.SetEnvPrefix("CRUSH")
	v.AutomaticEnv()

	cfg := Config{
		BaseURL:     v.GetString("base_url"),
		LogLevel:    v.GetString("log_level"),
		LogFormat:   v.GetString("log_format"),
		Platform:    v.GetString("platform"),
		VaultPath:   v.GetString("vault_path"),
		VaultKeyHex: v.GetString("vault_key_hex"),
		RefreshSkew: v.GetDuration("refresh_skew"),
		CacheTTL:    v.GetDuration("cache_ttl"),
		MetricsAddr: v.GetString("metrics_addr"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural validity.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid base_url: %q", c.BaseURL)
	}
	if c.VaultPath != "" && c.VaultKeyHex == "" {
		return fmt.Errorf("vault_path set without vault_key_hex")
	}
	if c.RefreshSkew < 0 || c.CacheTTL < 0 {
		return fmt.Errorf("negative duration in config")
	}
	return nil
}

func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "crush")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "crush")
}
