// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/vibeforge/forge-go/internal/apierror"
	"github.com/vibeforge/forge-go/internal/cache"
)

const skillsPath = "/api/v1/bds/skills"

// streamChannelBuffer absorbs short bursts of tokens without blocking the
// reader goroutine on a slow consumer.
const streamChannelBuffer = 64

// ReadOptions tunes cached read operations.
type ReadOptions struct {
	// ForceFresh bypasses the cache entirely and stores the fetched value.
	ForceFresh bool
}

func readOpts(opts []ReadOptions) ReadOptions {
	if len(opts) > 0 {
		return opts[0]
	}
	return ReadOptions{}
}

// ListSkills returns the full skill registry. Results are served
// stale-while-revalidate from the skills cache.
func (c *Client) ListSkills(ctx context.Context, opts ...ReadOptions) (*ListSkillsResponse, error) {
	key := cache.Key(skillsPath, nil, "")
	fetch := func(ctx context.Context) (*ListSkillsResponse, error) {
		var out ListSkillsResponse
		if err := c.doAuthenticated(ctx, http.MethodGet, skillsPath, nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}

	if readOpts(opts).ForceFresh {
		fresh, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.skillsCache.Set(key, fresh)
		return fresh, nil
	}
	return cache.StaleWhileRevalidate(ctx, key, fetch, c.skillsCache, nil)
}

// GetSkill returns one skill by ID.
func (c *Client) GetSkill(ctx context.Context, skillID string, opts ...ReadOptions) (*Skill, error) {
	if skillID == "" {
		return nil, apierror.NewValidationError("skill ID is required", "")
	}

	path := skillsPath + "/" + url.PathEscape(skillID)
	key := cache.Key(path, nil, "")
	fetch := func(ctx context.Context) (*Skill, error) {
		var out Skill
		if err := c.doAuthenticated(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}

	if readOpts(opts).ForceFresh {
		fresh, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.skillCache.Set(key, fresh)
		return fresh, nil
	}
	return cache.StaleWhileRevalidate(ctx, key, fetch, c.skillCache, nil)
}

// SearchSkills performs a server-side registry search. Search results churn
// with the query, so they live in the short-TTL cache.
func (c *Client) SearchSkills(ctx context.Context, query string, opts ...ReadOptions) (*ListSkillsResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apierror.NewValidationError("search query is required", "")
	}

	path := skillsPath + "/search?q=" + url.QueryEscape(query)
	key := cache.Key(skillsPath+"/search", map[string]any{"q": query}, "")
	fetch := func(ctx context.Context) (*ListSkillsResponse, error) {
		var out ListSkillsResponse
		if err := c.doAuthenticated(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}

	if readOpts(opts).ForceFresh {
		fresh, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.searchCache.Set(key, fresh)
		return fresh, nil
	}
	return cache.StaleWhileRevalidate(ctx, key, fetch, c.searchCache, nil)
}

// InvokeSkill runs one skill synchronously and returns its result.
func (c *Client) InvokeSkill(ctx context.Context, skillID string, req *InvokeRequest) (*InvokeResponse, error) {
	if skillID == "" {
		return nil, apierror.NewValidationError("skill ID is required", "")
	}
	if req == nil || len(req.Inputs) == 0 {
		return nil, apierror.NewValidationError("invocation inputs are required", "")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode invoke request: %w", err)
	}

	path := skillsPath + "/" + url.PathEscape(skillID) + "/invoke"
	var out InvokeResponse
	if err := c.doAuthenticated(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// STREAMING INVOCATION
// =============================================================================

// InvokeSkillStreaming runs one skill with token streaming. The returned
// channel carries token events, a trailing metadata event, and at most one
// error event; it is closed when the stream ends. Cancelling ctx tears down
// the connection and closes the channel.
//
// The initial POST goes through the normal authenticated flow so connection
// failures surface as a classified error before any channel exists.
func (c *Client) InvokeSkillStreaming(ctx context.Context, skillID string, req *InvokeRequest) (<-chan StreamEvent, error) {
	if skillID == "" {
		return nil, apierror.NewValidationError("skill ID is required", "")
	}
	if req == nil || len(req.Inputs) == 0 {
		return nil, apierror.NewValidationError("invocation inputs are required", "")
	}

	token, err := c.authToken(ctx)
	if err != nil {
		return nil, apierror.Classify(err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode invoke request: %w", err)
	}

	path := skillsPath + "/" + url.PathEscape(skillID) + "/invoke?stream=true"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	log.Printf("[client] stream: POST %s", httpReq.URL)
	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, apierror.Classify(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		appErr := apierror.ClassifyResponse(resp)
		resp.Body.Close()
		return nil, appErr
	}

	events := make(chan StreamEvent, streamChannelBuffer)
	go c.readStream(ctx, resp, events)
	return events, nil
}

// readStream decodes "data:" frames off the response body into events. The
// body is closed and the channel drained-side closed on every exit path.
func (c *Client) readStream(ctx context.Context, resp *http.Response, events chan<- StreamEvent) {
	defer close(events)
	defer resp.Body.Close()

	send := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxResponseSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			log.Printf("[client] stream: skipping malformed frame: %v", err)
			continue
		}

		switch {
		case frame.Error != nil:
			appErr := apierror.ClassifyValue(*frame.Error)
			send(StreamEvent{Type: StreamEventError, Err: appErr})
			return
		case frame.Metadata != nil:
			var meta StreamingMetadata
			if err := json.Unmarshal(frame.Metadata, &meta); err != nil {
				log.Printf("[client] stream: skipping malformed metadata frame: %v", err)
				continue
			}
			if !send(StreamEvent{Type: StreamEventMetadata, Metadata: &meta}) {
				return
			}
		case frame.Token != nil:
			var tok StreamingToken
			if err := json.Unmarshal([]byte(payload), &tok); err != nil {
				log.Printf("[client] stream: skipping malformed token frame: %v", err)
				continue
			}
			if !send(StreamEvent{Type: StreamEventToken, Token: &tok}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		send(StreamEvent{Type: StreamEventError, Err: apierror.Classify(err)})
	}
}
