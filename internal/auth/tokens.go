// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"log"
	"sync"
	"time"
)

// Expiry buffers. AccessToken refuses to hand out a token inside the 60s
// buffer so callers always have room to refresh before the server rejects
// it; IsExpiringSoon looks 5 minutes ahead to allow speculative refresh
// before a request rather than a reactive 401 round trip.
const (
	accessBuffer    = time.Minute
	expiryLookahead = 5 * time.Minute
)

// TokenManager holds the session tokens for one logged-in session. It is
// constructed once at application start and injected wherever credentials
// are needed; it owns all reads and writes of its Store.
type TokenManager struct {
	mu        sync.Mutex
	store     Store
	access    string
	refresh   string
	expiresAt time.Time

	now func() time.Time
}

// NewTokenManager creates a manager backed by store. Call Initialize to
// load any persisted session.
func NewTokenManager(store Store) *TokenManager {
	return &TokenManager{store: store, now: time.Now}
}

// Initialize loads persisted credentials. Load failures leave the manager
// logged out and are only logged: a missing or unreadable store must never
// prevent startup.
func (m *TokenManager) Initialize() {
	creds, err := m.store.Load()
	if err != nil {
		log.Printf("[auth] token load failed: %v", err)
		return
	}
	if creds == nil {
		return
	}
	m.mu.Lock()
	m.access = creds.AccessToken
	m.refresh = creds.RefreshToken
	m.expiresAt = creds.ExpiresAt
	m.mu.Unlock()
}

// SetTokens replaces the session wholesale and persists it. A persistence
// failure is returned to the caller: silently diverging memory from durable
// state would make the next restart log the user out unexpectedly.
func (m *TokenManager) SetTokens(access, refresh string, expiresAt time.Time) error {
	m.mu.Lock()
	m.access = access
	m.refresh = refresh
	m.expiresAt = expiresAt
	m.mu.Unlock()

	if err := m.store.Save(&Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}); err != nil {
		log.Printf("[auth] token save failed: %v", err)
		return err
	}
	return nil
}

// ClearTokens logs the session out. The in-memory state is always cleared;
// a failure to clear persisted state is only logged.
func (m *TokenManager) ClearTokens() {
	m.mu.Lock()
	m.access = ""
	m.refresh = ""
	m.expiresAt = time.Time{}
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		log.Printf("[auth] token clear failed: %v", err)
	}
}

// AccessToken returns the current access token, or "" when none is held or
// the token is within 60 seconds of expiry.
func (m *TokenManager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.access == "" {
		return ""
	}
	if !m.expiresAt.IsZero() && !m.now().Before(m.expiresAt.Add(-accessBuffer)) {
		return ""
	}
	return m.access
}

// RefreshToken returns the current refresh token, or "".
func (m *TokenManager) RefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh
}

// IsAuthenticated reports whether a usable access token is held.
func (m *TokenManager) IsAuthenticated() bool {
	return m.AccessToken() != ""
}

// IsExpiringSoon reports whether the session should be refreshed
// speculatively: true when no expiry is known or it is within 5 minutes.
func (m *TokenManager) IsExpiringSoon() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expiresAt.IsZero() {
		return true
	}
	return !m.now().Before(m.expiresAt.Add(-expiryLookahead))
}
