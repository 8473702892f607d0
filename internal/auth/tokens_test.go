// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"errors"
	"testing"
	"time"
)

// memStore is an in-memory Store with injectable failures.
type memStore struct {
	creds    *Credentials
	saveErr  error
	clearErr error
	loadErr  error
}

func (m *memStore) Load() (*Credentials, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.creds, nil
}

func (m *memStore) Save(c *Credentials) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	dup := *c
	m.creds = &dup
	return nil
}

func (m *memStore) Clear() error {
	if m.clearErr != nil {
		return m.clearErr
	}
	m.creds = nil
	return nil
}

func newTestManager(store Store, now time.Time) *TokenManager {
	m := NewTokenManager(store)
	m.now = func() time.Time { return now }
	return m
}

func TestSetAndGetTokens(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{}
	m := newTestManager(store, now)

	if m.IsAuthenticated() {
		t.Fatal("fresh manager should not be authenticated")
	}

	if err := m.SetTokens("acc", "ref", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if got := m.AccessToken(); got != "acc" {
		t.Errorf("AccessToken = %q", got)
	}
	if got := m.RefreshToken(); got != "ref" {
		t.Errorf("RefreshToken = %q", got)
	}
	if !m.IsAuthenticated() {
		t.Error("IsAuthenticated should be true")
	}
	if store.creds == nil || store.creds.AccessToken != "acc" {
		t.Error("tokens were not persisted")
	}
}

func TestAccessTokenExpiryBuffer(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(&memStore{}, now)

	// Expires in 61s: just outside the buffer, still usable.
	m.SetTokens("acc", "ref", now.Add(61*time.Second))
	if m.AccessToken() == "" {
		t.Error("token outside the buffer should be usable")
	}

	// Expires in 59s: inside the buffer, treated as expired.
	m.SetTokens("acc", "ref", now.Add(59*time.Second))
	if m.AccessToken() != "" {
		t.Error("token inside the 60s buffer must not be handed out")
	}
	if m.RefreshToken() != "ref" {
		t.Error("refresh token should remain available")
	}
	if m.IsAuthenticated() {
		t.Error("an unusable access token is not an authenticated session")
	}
}

func TestIsExpiringSoon(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(&memStore{}, now)

	if !m.IsExpiringSoon() {
		t.Error("unknown expiry should count as expiring soon")
	}

	m.SetTokens("acc", "ref", now.Add(10*time.Minute))
	if m.IsExpiringSoon() {
		t.Error("10 minutes out is not expiring soon")
	}

	m.SetTokens("acc", "ref", now.Add(4*time.Minute))
	if !m.IsExpiringSoon() {
		t.Error("4 minutes out is within the 5 minute lookahead")
	}
}

func TestSetTokensSurfacesPersistFailure(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{saveErr: errors.New("disk full")}
	m := newTestManager(store, now)

	err := m.SetTokens("acc", "ref", now.Add(time.Hour))
	if err == nil {
		t.Fatal("persist failure must be returned")
	}
	// In-memory state is still updated so the session works until restart.
	if m.AccessToken() != "acc" {
		t.Error("in-memory tokens should be set despite persist failure")
	}
}

func TestClearTokens(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{clearErr: errors.New("readonly fs")}
	m := newTestManager(store, now)

	m.SetTokens("acc", "ref", now.Add(time.Hour))
	m.ClearTokens() // clear failure is logged, not surfaced

	if m.AccessToken() != "" || m.RefreshToken() != "" {
		t.Error("in-memory tokens must be cleared even when the store fails")
	}
}

func TestInitializeLoadsPersistedSession(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{creds: &Credentials{
		AccessToken:  "persisted",
		RefreshToken: "ref",
		ExpiresAt:    now.Add(time.Hour),
	}}
	m := newTestManager(store, now)

	m.Initialize()
	if m.AccessToken() != "persisted" {
		t.Error("Initialize should hydrate from the store")
	}
}

func TestInitializeToleratesLoadFailure(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(&memStore{loadErr: errors.New("corrupt")}, now)

	m.Initialize()
	if m.IsAuthenticated() {
		t.Error("load failure should leave the manager logged out")
	}
}
