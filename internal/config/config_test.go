// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.ForgeAgentsURL != DefaultForgeAgentsURL {
		t.Errorf("ForgeAgentsURL = %q", cfg.Backend.ForgeAgentsURL)
	}
	if cfg.Client.TimeoutSecs != 30 || cfg.Client.MaxRetries != 3 {
		t.Errorf("client defaults = %+v", cfg.Client)
	}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("Timeout() = %v", cfg.Timeout())
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[backend]
forge_agents_url = "https://agents.vibeforge.io"

[client]
timeout_secs = 10

[cache]
skills_ttl_secs = 60
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.ForgeAgentsURL != "https://agents.vibeforge.io" {
		t.Errorf("ForgeAgentsURL = %q", cfg.Backend.ForgeAgentsURL)
	}
	if cfg.Client.TimeoutSecs != 10 {
		t.Errorf("TimeoutSecs = %d", cfg.Client.TimeoutSecs)
	}
	// Untouched fields keep their defaults.
	if cfg.Client.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want default", cfg.Client.MaxRetries)
	}
	if cfg.Cache.SkillsTTLSecs != 60 {
		t.Errorf("SkillsTTLSecs = %d", cfg.Cache.SkillsTTLSecs)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[backend]\nforge_agents_url = \"http://from-file:1\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FORGE_AGENTS_BASE_URL", "http://from-env:2")
	t.Setenv("FORGE_TIMEOUT_SECS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.ForgeAgentsURL != "http://from-env:2" {
		t.Errorf("env override lost: %q", cfg.Backend.ForgeAgentsURL)
	}
	if cfg.Client.TimeoutSecs != 7 {
		t.Errorf("TimeoutSecs = %d", cfg.Client.TimeoutSecs)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[client]\ntimeout_secs = -5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("negative timeout should fail validation")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}

	bad := Default()
	bad.Backend.ForgeAgentsURL = "not a url"
	if err := bad.Validate(); err == nil {
		t.Error("garbage URL should fail validation")
	}

	bad = Default()
	bad.Cache.SkillsMaxSize = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero cache size should fail validation")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.Client.TimeoutSecs = 12
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Client.TimeoutSecs != 12 {
		t.Errorf("TimeoutSecs = %d after round trip", loaded.Client.TimeoutSecs)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[client]\ntimeout_secs = 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	go Watch(ctx, path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[client]\ntimeout_secs = 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Client.TimeoutSecs != 9 {
			t.Errorf("reloaded TimeoutSecs = %d", cfg.Client.TimeoutSecs)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch never delivered the reload")
	}
}
