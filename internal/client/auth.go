// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/vibeforge/forge-go/internal/apierror"
)

// Auth endpoints.
const (
	loginPath   = "/api/v1/auth/login"
	refreshPath = "/api/v1/auth/refresh"
	logoutPath  = "/api/v1/auth/logout"
)

// Login exchanges credentials for a token pair and stores it in the token
// manager. Credential validation failures are not retried.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	if email == "" || password == "" {
		return nil, apierror.NewValidationError("email and password are required", "")
	}

	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("encode login request: %w", err)
	}

	var authResp AuthResponse
	err = c.withRetry(ctx, "login", func() error {
		attemptCtx, cancel := c.requestContext(ctx)
		defer cancel()

		req, err := c.newRequest(attemptCtx, http.MethodPost, loginPath, body)
		if err != nil {
			return err
		}
		resp, err := c.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return apierror.ClassifyResponse(resp)
		}
		return decodeJSON(resp, &authResp)
	})
	if err != nil {
		return nil, err
	}

	expiresAt, err := parseExpiry(authResp.ExpiresAt)
	if err != nil {
		return nil, apierror.NewValidationError("login response carried an invalid expiry", err.Error())
	}
	if err := c.tokens.SetTokens(authResp.AccessToken, authResp.RefreshToken, expiresAt); err != nil {
		return nil, err
	}
	return &authResp, nil
}

// Logout revokes the session server-side on a best-effort basis and always
// clears local credentials.
func (c *Client) Logout(ctx context.Context) {
	if token := c.tokens.AccessToken(); token != "" {
		logoutCtx, cancel := c.requestContext(ctx)
		defer cancel()
		req, err := c.newRequest(logoutCtx, http.MethodPost, logoutPath, nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+token)
			if resp, err := c.do(req); err != nil {
				log.Printf("[client] logout request failed: %v", err)
			} else {
				resp.Body.Close()
			}
		}
	}
	c.tokens.ClearTokens()
}

// IsAuthenticated reports whether a session is currently held.
func (c *Client) IsAuthenticated() bool {
	return c.tokens.IsAuthenticated()
}

// refreshAccessToken exchanges the refresh token for a new pair. Concurrent
// callers are coalesced into a single network refresh. A rejected refresh
// token invalidates the whole session, so stored credentials are cleared
// before the error is surfaced.
func (c *Client) refreshAccessToken(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		refreshToken := c.tokens.RefreshToken()
		if refreshToken == "" {
			return nil, apierror.NewAuthenticationError("no refresh token available")
		}

		body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
		if err != nil {
			return nil, fmt.Errorf("encode refresh request: %w", err)
		}

		refreshCtx, cancel := c.requestContext(ctx)
		defer cancel()

		req, err := c.newRequest(refreshCtx, http.MethodPost, refreshPath, body)
		if err != nil {
			return nil, err
		}
		resp, err := c.do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.tokens.ClearTokens()
			return nil, apierror.NewAuthenticationError("token refresh rejected, please log in again")
		}

		var authResp AuthResponse
		if err := decodeJSON(resp, &authResp); err != nil {
			return nil, err
		}
		expiresAt, err := parseExpiry(authResp.ExpiresAt)
		if err != nil {
			return nil, apierror.NewValidationError("refresh response carried an invalid expiry", err.Error())
		}
		return nil, c.tokens.SetTokens(authResp.AccessToken, authResp.RefreshToken, expiresAt)
	})
	return err
}

// parseExpiry accepts the RFC 3339 expiry stamp used by the auth endpoints.
func parseExpiry(stamp string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiry %q: %w", stamp, err)
	}
	return t, nil
}
