// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for forge-go.
//
// Values come from, in order of precedence: environment variables, the TOML
// config file (~/.forge/config.toml by default), and built-in defaults.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vibeforge/forge-go/internal/util"
)

// Built-in defaults, matching the local development backends.
const (
	DefaultForgeAgentsURL = "http://localhost:8787"
	DefaultDataForgeURL   = "http://localhost:8788"
)

// Config is the complete forge-go configuration.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	Client  ClientConfig  `toml:"client"`
	Cache   CacheConfig   `toml:"cache"`
	Stream  StreamConfig  `toml:"stream"`
	Storage StorageConfig `toml:"storage"`
}

// BackendConfig holds the base URLs of the consumed services.
type BackendConfig struct {
	// ForgeAgentsURL is the base URL of the skill-invocation API.
	ForgeAgentsURL string `toml:"forge_agents_url"`
	// DataForgeURL is the base URL of the data service.
	DataForgeURL string `toml:"dataforge_url"`
}

// ClientConfig tunes the HTTP client.
type ClientConfig struct {
	// TimeoutSecs is the per-request timeout in seconds.
	TimeoutSecs int `toml:"timeout_secs"`
	// MaxRetries is the attempt budget for retryable failures.
	MaxRetries int `toml:"max_retries"`
	// RateLimitPerSec caps outgoing requests per second (0 = unlimited).
	RateLimitPerSec float64 `toml:"rate_limit_per_sec"`
	// RateLimitBurst is the burst size for the rate limiter.
	RateLimitBurst int `toml:"rate_limit_burst"`
}

// CacheConfig sizes the response caches.
type CacheConfig struct {
	SkillsMaxSize int `toml:"skills_max_size"`
	SkillsTTLSecs int `toml:"skills_ttl_secs"`
	UserMaxSize   int `toml:"user_max_size"`
	UserTTLSecs   int `toml:"user_ttl_secs"`
}

// StreamConfig tunes SSE subscriptions.
type StreamConfig struct {
	// ReconnectDelayMillis is the wait between reconnect attempts.
	ReconnectDelayMillis int `toml:"reconnect_delay_millis"`
	// MaxReconnectAttempts bounds reconnection before giving up.
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`
}

// StorageConfig locates local state (credentials, history, error log).
type StorageConfig struct {
	// Dir is the state directory (default ~/.forge).
	Dir string `toml:"dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			ForgeAgentsURL: DefaultForgeAgentsURL,
			DataForgeURL:   DefaultDataForgeURL,
		},
		Client: ClientConfig{
			TimeoutSecs:     30,
			MaxRetries:      3,
			RateLimitPerSec: 0,
			RateLimitBurst:  1,
		},
		Cache: CacheConfig{
			SkillsMaxSize: 50,
			SkillsTTLSecs: 600,
			UserMaxSize:   50,
			UserTTLSecs:   120,
		},
		Stream: StreamConfig{
			ReconnectDelayMillis: 3000,
			MaxReconnectAttempts: 5,
		},
		Storage: StorageConfig{},
	}
}

// DefaultPath returns ~/.forge/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".forge", "config.toml"), nil
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func (c *Config) applyEnv() {
	if v := os.Getenv("FORGE_AGENTS_BASE_URL"); v != "" {
		c.Backend.ForgeAgentsURL = v
	}
	if v := os.Getenv("DATAFORGE_BASE_URL"); v != "" {
		c.Backend.DataForgeURL = v
	}
	if v := os.Getenv("FORGE_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Client.TimeoutSecs = secs
		}
	}
	if v := os.Getenv("FORGE_STATE_DIR"); v != "" {
		c.Storage.Dir = v
	}
}

// Validate checks cross-field consistency and value ranges.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"backend.forge_agents_url": c.Backend.ForgeAgentsURL,
		"backend.dataforge_url":    c.Backend.DataForgeURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: %s is not a valid URL: %q", name, raw)
		}
	}
	if c.Client.TimeoutSecs <= 0 {
		return fmt.Errorf("config: client.timeout_secs must be positive, got %d", c.Client.TimeoutSecs)
	}
	if c.Client.MaxRetries <= 0 {
		return fmt.Errorf("config: client.max_retries must be positive, got %d", c.Client.MaxRetries)
	}
	if c.Client.RateLimitPerSec < 0 {
		return fmt.Errorf("config: client.rate_limit_per_sec must not be negative")
	}
	if c.Stream.MaxReconnectAttempts < 0 || c.Stream.ReconnectDelayMillis < 0 {
		return fmt.Errorf("config: stream settings must not be negative")
	}
	if c.Cache.SkillsMaxSize <= 0 || c.Cache.UserMaxSize <= 0 {
		return fmt.Errorf("config: cache sizes must be positive")
	}
	return nil
}

// Save writes cfg to path as TOML.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0o644)
}

// StateDir returns the directory for local state, defaulting to ~/.forge.
func (c *Config) StateDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".forge"), nil
}

// Timeout returns the per-request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Client.TimeoutSecs) * time.Second
}

// ReconnectDelay returns the stream reconnect delay as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Stream.ReconnectDelayMillis) * time.Millisecond
}
