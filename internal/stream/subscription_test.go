// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vibeforge/forge-go/internal/apierror"
)

// sseWriter emits well-formed named events to an SSE response.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(t *testing.T, w http.ResponseWriter) *sseWriter {
	t.Helper()
	f, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("response writer is not a flusher")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, f: f}
}

func (s *sseWriter) emit(eventType string, payload any) {
	data, _ := json.Marshal(payload)
	env, _ := json.Marshal(map[string]any{
		"type":      eventType,
		"data":      json.RawMessage(data),
		"timestamp": "2025-06-01T12:00:00Z",
	})
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, env)
	s.f.Flush()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSubscriptionDispatchesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		sse := newSSEWriter(t, w)
		sse.emit("stage_start", map[string]string{"stage": "analyze"})
		sse.emit("chunk", map[string]string{"content": "hello "})
		sse.emit("chunk", map[string]string{"content": "world"})
		sse.emit("stage_end", map[string]any{"stage": "analyze", "output": map[string]int{"n": 1}})
		sse.emit("complete", map[string]any{"result": map[string]string{"status": "ok"}})
	}))
	defer srv.Close()

	var mu sync.Mutex
	var chunks []string
	var stages []string
	completed := make(chan json.RawMessage, 1)

	mgr := NewManager(srv.Client())
	sub := mgr.Subscribe(context.Background(), srv.URL, Options{
		DisableReconnect: true,
		OnChunk: func(content string) {
			mu.Lock()
			chunks = append(chunks, content)
			mu.Unlock()
		},
		OnStageStart: func(stage string) {
			mu.Lock()
			stages = append(stages, "start:"+stage)
			mu.Unlock()
		},
		OnStageEnd: func(stage string, output json.RawMessage) {
			mu.Lock()
			stages = append(stages, "end:"+stage)
			mu.Unlock()
		},
		OnComplete: func(result json.RawMessage) {
			completed <- result
		},
		OnError: func(err *apierror.Error) {
			t.Errorf("unexpected error: %v", err)
		},
	})

	select {
	case result := <-completed:
		var payload struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(result, &payload); err != nil || payload.Status != "ok" {
			t.Errorf("complete payload = %s (%v)", result, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("complete never fired")
	}

	waitFor(t, func() bool { return !sub.IsActive() }, "subscription should close after complete")

	mu.Lock()
	defer mu.Unlock()
	if got := chunks; len(got) != 2 || got[0] != "hello " || got[1] != "world" {
		t.Errorf("chunks = %v", got)
	}
	if len(stages) != 2 || stages[0] != "start:analyze" || stages[1] != "end:analyze" {
		t.Errorf("stages = %v", stages)
	}
	if mgr.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after completion", mgr.ActiveCount())
	}
}

func TestSubscriptionPauseDropsEvents(t *testing.T) {
	release := make(chan struct{})
	resumed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse := newSSEWriter(t, w)
		sse.emit("chunk", map[string]string{"content": "before"})
		<-release
		sse.emit("chunk", map[string]string{"content": "while-paused"})
		<-resumed
		sse.emit("complete", map[string]any{"result": nil})
	}))
	defer srv.Close()

	var mu sync.Mutex
	var chunks []string
	first := make(chan struct{}, 1)
	completed := make(chan struct{})

	mgr := NewManager(srv.Client())
	sub := mgr.Subscribe(context.Background(), srv.URL, Options{
		DisableReconnect: true,
		OnChunk: func(content string) {
			mu.Lock()
			chunks = append(chunks, content)
			mu.Unlock()
			select {
			case first <- struct{}{}:
			default:
			}
		},
		OnComplete: func(json.RawMessage) { close(completed) },
	})

	<-first
	sub.Pause()
	if !sub.IsPaused() {
		t.Fatal("IsPaused = false after Pause")
	}
	close(release)

	waitFor(t, func() bool { return sub.Dropped() == 1 }, "paused event should be dropped")

	sub.Resume()
	if sub.IsPaused() {
		t.Fatal("IsPaused = true after Resume")
	}
	close(resumed)

	// Completion arrives after resume, so it must be dispatched.
	<-completed

	mu.Lock()
	defer mu.Unlock()
	if len(chunks) != 1 || chunks[0] != "before" {
		t.Errorf("chunks = %v, paused events must be dropped", chunks)
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse := newSSEWriter(t, w)
		sse.emit("chunk", map[string]string{"content": "x"})
		<-r.Context().Done()
	}))
	defer srv.Close()

	mgr := NewManager(srv.Client())
	sub := mgr.Subscribe(context.Background(), srv.URL, Options{DisableReconnect: true})
	waitFor(t, func() bool { return mgr.ActiveCount() == 1 }, "subscription should register")

	sub.Close()
	sub.Close()
	if sub.IsActive() {
		t.Error("closed subscription reports active")
	}
	if mgr.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after Close", mgr.ActiveCount())
	}
}

func TestSubscriptionCloseFromCallback(t *testing.T) {
	start := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse := newSSEWriter(t, w)
		<-start
		sse.emit("chunk", map[string]string{"content": "first"})
		sse.emit("chunk", map[string]string{"content": "second"})
	}))
	defer srv.Close()

	var mu sync.Mutex
	var chunks []string
	var sub *Subscription

	mgr := NewManager(srv.Client())
	sub = mgr.Subscribe(context.Background(), srv.URL, Options{
		DisableReconnect: true,
		OnChunk: func(content string) {
			mu.Lock()
			chunks = append(chunks, content)
			mu.Unlock()
			sub.Close() // closing from inside a handler must not deadlock
		},
	})
	close(start)

	waitFor(t, func() bool { return !sub.IsActive() }, "subscription never closed")

	mu.Lock()
	defer mu.Unlock()
	if len(chunks) != 1 {
		t.Errorf("chunks = %v, events after Close must be dropped", chunks)
	}
}

func TestSubscriptionFailsAfterReconnectBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	failed := make(chan *apierror.Error, 1)
	mgr := NewManager(srv.Client())
	sub := mgr.Subscribe(context.Background(), srv.URL, Options{
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 2,
		OnError:              func(err *apierror.Error) { failed <- err },
	})

	select {
	case err := <-failed:
		if err.Category != apierror.CategoryNetwork {
			t.Errorf("Category = %s, want NETWORK", err.Category)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnError never fired")
	}

	waitFor(t, func() bool { return !sub.IsActive() }, "subscription should close after failure")
	// Initial attempt plus two reconnects.
	if got := hits.Load(); got != 3 {
		t.Errorf("connection attempts = %d, want 3", got)
	}
}

func TestSubscriptionReconnectsAndRecovers(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		sse := newSSEWriter(t, w)
		sse.emit("complete", map[string]any{"result": nil})
	}))
	defer srv.Close()

	completed := make(chan struct{})
	mgr := NewManager(srv.Client())
	mgr.Subscribe(context.Background(), srv.URL, Options{
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 5,
		OnComplete:           func(json.RawMessage) { close(completed) },
		OnError: func(err *apierror.Error) {
			t.Errorf("unexpected error: %v", err)
		},
	})

	select {
	case <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never recovered")
	}
	if hits.Load() != 2 {
		t.Errorf("connection attempts = %d, want 2", hits.Load())
	}
}

func TestManagerCloseAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		newSSEWriter(t, w)
		<-r.Context().Done()
	}))
	defer srv.Close()

	mgr := NewManager(srv.Client())
	for i := 0; i < 3; i++ {
		mgr.Subscribe(context.Background(), srv.URL, Options{DisableReconnect: true})
	}
	waitFor(t, func() bool { return mgr.ActiveCount() == 3 }, "subscriptions should register")

	mgr.CloseAll()
	if mgr.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after CloseAll", mgr.ActiveCount())
	}
}
