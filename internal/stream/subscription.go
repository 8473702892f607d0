// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/vibeforge/forge-go/internal/apierror"
)

// Reconnection defaults.
const (
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
)

// Named events carried on the wire. Payloads are envelopes of the shape
// {type, data, timestamp}.
const (
	eventChunk      = "chunk"
	eventStageStart = "stage_start"
	eventStageEnd   = "stage_end"
	eventComplete   = "complete"
	eventError      = "error"
)

// Options configures a subscription. Nil callbacks are simply not invoked.
type Options struct {
	OnChunk      func(content string)
	OnStageStart func(stage string)
	OnStageEnd   func(stage string, output json.RawMessage)
	OnComplete   func(result json.RawMessage)
	OnError      func(err *apierror.Error)

	// Header is attached to every connection attempt (e.g. Authorization).
	Header http.Header

	// DisableReconnect turns off automatic reconnection.
	DisableReconnect     bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// envelope is the JSON payload of every named event.
type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// Manager owns every live subscription so they can be closed as a group at
// shutdown. The HTTP client must have no overall timeout: SSE connections
// stay open indefinitely and are bounded only by reconnect exhaustion.
type Manager struct {
	client *http.Client

	mu     sync.Mutex
	active map[*Subscription]struct{}
}

// NewManager creates a subscription manager. A nil client gets a dedicated
// timeout-free one.
func NewManager(client *http.Client) *Manager {
	if client == nil {
		client = &http.Client{}
	}
	return &Manager{client: client, active: make(map[*Subscription]struct{})}
}

// Subscribe opens an SSE connection to url and dispatches its events to the
// callbacks in opts. The returned subscription is live until Close, a
// complete event, or reconnect exhaustion.
func (m *Manager) Subscribe(ctx context.Context, url string, opts Options) *Subscription {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		mgr:    m,
		url:    url,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}

	m.mu.Lock()
	m.active[s] = struct{}{}
	m.mu.Unlock()

	go s.connect()
	return s
}

// CloseAll closes every live subscription.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.active))
	for s := range m.active {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// ActiveCount returns the number of live subscriptions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) remove(s *Subscription) {
	m.mu.Lock()
	delete(m.active, s)
	m.mu.Unlock()
}

// Subscription wraps one live SSE connection.
//
// The flags are mutated by the reader goroutine and by the caller's
// Pause/Resume/Close; the mutex is never held across a callback, so Close
// is safe to call from inside any handler, including OnComplete.
type Subscription struct {
	mgr  *Manager
	url  string
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	paused         bool
	closed         bool
	connected      bool
	attempts       int
	dropped        int
	reconnectTimer *time.Timer
}

// Dropped returns how many events were discarded while paused or closed.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// IsActive reports whether the subscription still has (or is establishing)
// a transport connection.
func (s *Subscription) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// IsConnected reports whether a transport connection is currently open,
// as opposed to being established or awaiting a reconnect.
func (s *Subscription) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

// IsPaused reports whether event dispatch is suspended.
func (s *Subscription) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Pause suspends event dispatch without tearing down the transport. Events
// arriving while paused are dropped, not buffered.
func (s *Subscription) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables event dispatch.
func (s *Subscription) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Close tears down the subscription: pending reconnects are cancelled, the
// transport is released, and no callback fires after Close returns control
// to the event loop. Close is idempotent.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.paused = false
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.mgr.remove(s)
}

// connect establishes the transport and runs the read loop, scheduling
// reconnects on transport failure.
func (s *Subscription) connect() {
	if !s.IsActive() {
		return
	}

	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.url, nil)
	if err != nil {
		s.fail(apierror.Classify(err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for name, vals := range s.opts.Header {
		for _, v := range vals {
			req.Header.Add(name, v)
		}
	}

	resp, err := s.mgr.client.Do(req)
	if err != nil {
		s.transportError()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		s.transportError()
		return
	}

	// Successful connection forgives prior failures.
	s.mu.Lock()
	s.attempts = 0
	s.connected = true
	s.mu.Unlock()

	s.readLoop(resp.Body)
}

// readLoop dispatches events until the stream ends or the subscription
// closes.
func (s *Subscription) readLoop(body io.Reader) {
	r := NewReader(body)
	for {
		ev, err := r.Next()
		if err != nil {
			if s.IsActive() {
				s.transportError()
			}
			return
		}
		s.dispatch(ev)
		if !s.IsActive() {
			return
		}
	}
}

// dispatch routes one event to its callback. Paused or closed
// subscriptions drop events silently; missed events are not replayed.
func (s *Subscription) dispatch(ev *Event) {
	if ev.Type == eventError {
		s.transportError()
		return
	}

	s.mu.Lock()
	drop := s.paused || s.closed
	if drop {
		s.dropped++
	}
	s.mu.Unlock()
	if drop {
		return
	}

	var env envelope
	if err := json.Unmarshal(ev.Data, &env); err != nil {
		log.Printf("[stream] failed to parse %s event: %v", ev.Type, err)
		return
	}

	switch ev.Type {
	case eventChunk:
		var payload struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			log.Printf("[stream] failed to parse chunk payload: %v", err)
			return
		}
		if payload.Content != "" && s.opts.OnChunk != nil {
			s.opts.OnChunk(payload.Content)
		}

	case eventStageStart:
		var payload struct {
			Stage string `json:"stage"`
		}
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			log.Printf("[stream] failed to parse stage_start payload: %v", err)
			return
		}
		if payload.Stage != "" && s.opts.OnStageStart != nil {
			s.opts.OnStageStart(payload.Stage)
		}

	case eventStageEnd:
		var payload struct {
			Stage  string          `json:"stage"`
			Output json.RawMessage `json:"output"`
		}
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			log.Printf("[stream] failed to parse stage_end payload: %v", err)
			return
		}
		if payload.Stage != "" && s.opts.OnStageEnd != nil {
			s.opts.OnStageEnd(payload.Stage, payload.Output)
		}

	case eventComplete:
		// Completion always ends the subscription, even when the payload
		// is malformed or the callback panics.
		defer s.Close()
		var payload struct {
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			log.Printf("[stream] failed to parse complete payload: %v", err)
			return
		}
		if s.opts.OnComplete != nil {
			s.opts.OnComplete(payload.Result)
		}
	}
}

// transportError schedules a reconnect, or fails permanently once the
// attempt budget is spent.
func (s *Subscription) transportError() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.connected = false

	if !s.opts.DisableReconnect && s.attempts < s.opts.MaxReconnectAttempts {
		s.attempts++
		attempt := s.attempts
		s.reconnectTimer = time.AfterFunc(s.opts.ReconnectDelay, s.connect)
		s.mu.Unlock()
		log.Printf("[stream] reconnecting %s (attempt %d/%d)", s.url, attempt, s.opts.MaxReconnectAttempts)
		return
	}
	s.mu.Unlock()

	s.fail(apierror.NewNetworkError("Stream connection error", s.url))
}

// fail surfaces a permanent error and closes the subscription.
func (s *Subscription) fail(err *apierror.Error) {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.mu.Unlock()
	if alreadyClosed {
		return
	}
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
	s.Close()
}
