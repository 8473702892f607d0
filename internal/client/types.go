// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import "encoding/json"

// Skill access levels.
const (
	AccessPublic  = "PUBLIC"
	AccessBDSOnly = "BDS_ONLY"
)

// Skill describes one invocable skill in the registry.
type Skill struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Section       string                `json:"section"`
	Description   string                `json:"description"`
	Inputs        map[string]SkillInput `json:"inputs"`
	Access        string                `json:"access"`
	Category      string                `json:"category"`
	Tags          []string              `json:"tags"`
	EstimatedCost CostRange             `json:"estimatedCost"`
}

// SkillInput declares one named input a skill accepts.
type SkillInput struct {
	Type        string `json:"type"` // string, number, boolean, array, object
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// CostRange bounds the expected cost of one invocation.
type CostRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AuthResponse is returned by login and refresh.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"` // RFC 3339
}

// ListSkillsResponse is the payload of the skills listing endpoints.
type ListSkillsResponse struct {
	Skills []Skill `json:"skills"`
	Total  int     `json:"total"`
}

// InvokeRequest is the body of a skill invocation.
type InvokeRequest struct {
	Inputs  map[string]any `json:"inputs"`
	Options *InvokeOptions `json:"options,omitempty"`
}

// InvokeOptions tunes model selection for one invocation.
type InvokeOptions struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// InvokeResponse is the result of a synchronous invocation.
type InvokeResponse struct {
	SessionID string         `json:"sessionId"`
	Status    string         `json:"status"` // success or error
	Output    *string        `json:"output"`
	Error     *string        `json:"error"`
	Metadata  InvokeMetadata `json:"metadata"`
}

// InvokeMetadata carries accounting details of an invocation.
type InvokeMetadata struct {
	SessionID  string  `json:"sessionId"`
	SkillID    string  `json:"skillId"`
	SkillName  string  `json:"skillName"`
	Model      string  `json:"model"`
	TokensUsed int     `json:"tokensUsed"`
	Cost       float64 `json:"cost"`
	Latency    float64 `json:"latency"` // seconds
	Timestamp  string  `json:"timestamp"`
}

// StreamEventType discriminates events produced by a streaming invocation.
type StreamEventType string

const (
	StreamEventToken    StreamEventType = "token"
	StreamEventMetadata StreamEventType = "metadata"
	StreamEventError    StreamEventType = "error"
)

// StreamEvent is one element of a streaming invocation.
type StreamEvent struct {
	Type StreamEventType
	// Token is set for token events.
	Token *StreamingToken
	// Metadata is set for metadata events.
	Metadata *StreamingMetadata
	// Err is set for error events and terminal failures.
	Err error
}

// StreamingToken is one generated token frame.
type StreamingToken struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	Done      bool   `json:"done"`
}

// StreamingMetadata is the trailing accounting frame of a stream.
type StreamingMetadata struct {
	SessionID  string  `json:"sessionId"`
	SkillID    string  `json:"skillId"`
	SkillName  string  `json:"skillName"`
	Model      string  `json:"model"`
	TokensUsed int     `json:"tokensUsed"`
	Cost       float64 `json:"cost"`
	Latency    float64 `json:"latency"`
	Timestamp  string  `json:"timestamp"`
}

// streamFrame is the raw JSON of one "data:" line; exactly one of the
// fields is expected to be present.
type streamFrame struct {
	Token    *string         `json:"token"`
	Metadata json.RawMessage `json:"metadata"`
	Error    *string         `json:"error"`
}
