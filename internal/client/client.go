// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/vibeforge/forge-go/internal/apierror"
	"github.com/vibeforge/forge-go/internal/auth"
	"github.com/vibeforge/forge-go/internal/cache"
	"github.com/vibeforge/forge-go/internal/config"
)

// Client defaults.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3

	// maxResponseSize caps response bodies to prevent memory exhaustion.
	maxResponseSize = 10 * 1024 * 1024
)

// Client is the authenticated HTTP client for the ForgeAgents API.
//
// One Client is constructed at application start with an injected
// TokenManager and shared by all callers. Request bodies and responses are
// JSON; every failure surfaces as a classified *apierror.Error.
type Client struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int

	// httpClient carries no overall timeout; discrete requests are bounded
	// per-call via context. streamClient is separate so streaming responses
	// are never subject to a request deadline.
	httpClient   *http.Client
	streamClient *http.Client

	tokens  *auth.TokenManager
	limiter *rate.Limiter

	// refreshGroup coalesces concurrent refresh calls so a burst of 401s
	// triggers exactly one network refresh.
	refreshGroup singleflight.Group

	skillsCache *cache.Cache[*ListSkillsResponse]
	skillCache  *cache.Cache[*Skill]
	searchCache *cache.Cache[*ListSkillsResponse]
}

// New creates a Client from cfg and tokens.
func New(cfg *config.Config, tokens *auth.TokenManager) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetries := cfg.Client.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var limiter *rate.Limiter
	if cfg.Client.RateLimitPerSec > 0 {
		burst := cfg.Client.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Client.RateLimitPerSec), burst)
	}

	skillsTTL := time.Duration(cfg.Cache.SkillsTTLSecs) * time.Second
	userTTL := time.Duration(cfg.Cache.UserTTLSecs) * time.Second

	return &Client{
		baseURL:      strings.TrimSuffix(cfg.Backend.ForgeAgentsURL, "/"),
		timeout:      timeout,
		maxRetries:   maxRetries,
		httpClient:   &http.Client{},
		streamClient: &http.Client{},
		tokens:       tokens,
		limiter:      limiter,
		skillsCache:  cache.New[*ListSkillsResponse](cache.Options{MaxSize: cfg.Cache.SkillsMaxSize, TTL: skillsTTL}),
		skillCache:   cache.New[*Skill](cache.Options{MaxSize: cfg.Cache.SkillsMaxSize, TTL: skillsTTL}),
		searchCache:  cache.New[*ListSkillsResponse](cache.Options{MaxSize: cfg.Cache.UserMaxSize, TTL: userTTL}),
	}
}

// WithHTTPClient replaces both transports, e.g. to inject a proxy-aware
// or instrumented client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamClient = hc
	return c
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SkillsCacheStats exposes the skills-cache counters for diagnostics.
func (c *Client) SkillsCacheStats() cache.Stats {
	return c.skillsCache.GetStats()
}

// InvalidateSkillCaches drops every cached skill read, e.g. after an
// operation known to change the registry.
func (c *Client) InvalidateSkillCaches() {
	cache.NewInvalidator(c.skillsCache).InvalidateAll()
	cache.NewInvalidator(c.skillCache).InvalidateAll()
	cache.NewInvalidator(c.searchCache).InvalidateAll()
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// requestContext bounds one discrete request attempt, including reading
// its body. The caller must invoke cancel after the body is consumed.
func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// do issues one HTTP request and logs its shape and outcome. Header values
// are never logged. The request context must already carry the deadline.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	log.Printf("[client] request: %s %s (body=%t)", req.Method, req.URL, req.Body != nil)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		log.Printf("[client] error: %s %s: %v (%v)", req.Method, req.URL, err, duration)
		if req.Context().Err() == context.DeadlineExceeded {
			return nil, apierror.Classify(fmt.Errorf("request to %s timed out after %v", req.URL, c.timeout))
		}
		return nil, err
	}

	log.Printf("[client] response: %s %s: %d (%v)", req.Method, req.URL, resp.StatusCode, duration)
	return resp, nil
}

// newRequest builds a JSON request against the API base URL.
func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// readBody drains a response with the size cap applied.
func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) == maxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", maxResponseSize)
	}
	return body, nil
}

// decodeJSON reads a response body into out.
func decodeJSON(resp *http.Response, out any) error {
	body, err := readBody(resp)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// withRetry runs op under the retry budget, consulting the classifier
// between attempts. Non-retryable errors abort immediately; exhausting the
// budget surfaces the last classified error.
func (c *Client) withRetry(ctx context.Context, label string, op func() error) error {
	var lastErr *apierror.Error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}

		appErr := apierror.Classify(err)
		lastErr = appErr
		if !apierror.ShouldRetry(appErr, attempt+1, c.maxRetries) {
			return appErr
		}

		delay := apierror.RetryDelay(appErr, attempt)
		log.Printf("[client] %s failed (attempt %d/%d), retrying in %v: %v",
			label, attempt+1, c.maxRetries, delay, appErr)
		select {
		case <-ctx.Done():
			return apierror.Classify(ctx.Err())
		case <-time.After(delay):
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return apierror.NewNetworkError(fmt.Sprintf("%s failed after %d attempts", label, c.maxRetries), "")
}

// =============================================================================
// AUTHENTICATED REQUESTS
// =============================================================================

// authToken returns a usable access token, refreshing speculatively when
// the session is about to lapse.
func (c *Client) authToken(ctx context.Context) (string, error) {
	token := c.tokens.AccessToken()
	if token == "" {
		if c.tokens.IsExpiringSoon() {
			if err := c.refreshAccessToken(ctx); err != nil {
				return "", err
			}
			token = c.tokens.AccessToken()
		}
		if token == "" {
			return "", apierror.NewAuthenticationError("not authenticated")
		}
	}
	return token, nil
}

// AuthorizationHeader returns a header carrying a usable bearer token, for
// callers that manage their own connections such as event subscriptions.
func (c *Client) AuthorizationHeader(ctx context.Context) (http.Header, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

// doAuthenticated performs the full authenticated request flow and decodes
// the JSON response into out.
//
// A 401 triggers exactly one refresh-and-retry, outside the outer retry
// loop: a second consecutive 401 after a successful refresh means the
// session is invalid, and retrying would only hammer the refresh endpoint.
func (c *Client) doAuthenticated(ctx context.Context, method, path string, body []byte, out any) error {
	return c.withRetry(ctx, "API request to "+path, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		attemptCtx, cancel := c.requestContext(ctx)
		defer cancel()

		token, err := c.authToken(attemptCtx)
		if err != nil {
			return err
		}

		req, err := c.newRequest(attemptCtx, method, path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return c.retryAfterRefresh(ctx, method, path, body, out)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return apierror.ClassifyResponse(resp)
		}
		return decodeJSON(resp, out)
	})
}

// retryAfterRefresh handles the one-shot 401 path: refresh, replay the
// request once, and surface any failure as an authentication error.
func (c *Client) retryAfterRefresh(ctx context.Context, method, path string, body []byte, out any) error {
	if err := c.refreshAccessToken(ctx); err != nil {
		return apierror.NewAuthenticationError("authentication failed after token refresh")
	}

	replayCtx, cancel := c.requestContext(ctx)
	defer cancel()

	token := c.tokens.AccessToken()
	req, err := c.newRequest(replayCtx, method, path, body)
	if err != nil {
		return apierror.NewAuthenticationError("authentication failed after token refresh")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.do(req)
	if err != nil {
		return apierror.NewAuthenticationError("authentication failed after token refresh")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apierror.NewAuthenticationError("authentication failed after token refresh")
	}
	return decodeJSON(resp, out)
}
