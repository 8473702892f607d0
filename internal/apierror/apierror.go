// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apierror defines the error taxonomy shared by every component
// that talks to the ForgeAgents backend.
//
// All raw failures (transport errors, non-OK responses, decode failures)
// are converted into *Error exactly once, at the boundary where they occur.
// Code above that boundary only ever sees classified errors and can make
// retry decisions from the Category and Retryable fields alone.
package apierror

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category identifies the class of failure.
type Category string

const (
	CategoryNetwork        Category = "NETWORK"
	CategoryAPI            Category = "API"
	CategoryValidation     Category = "VALIDATION"
	CategoryAuthentication Category = "AUTHENTICATION"
	CategoryAuthorization  Category = "AUTHORIZATION"
	CategoryNotFound       Category = "NOT_FOUND"
	CategoryRateLimit      Category = "RATE_LIMIT"
	CategoryServer         Category = "SERVER"
	CategoryTimeout        Category = "TIMEOUT"
	CategoryUnknown        Category = "UNKNOWN"
)

// Severity grades how badly a failure degrades the caller. It is carried
// for presentation purposes only; control flow never branches on it.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Error is a classified application error.
//
// Message is diagnostic; UserMessage is safe to show to a person.
// RetryAfter, when non-zero, is the server- or classifier-suggested wait
// before the next attempt.
type Error struct {
	ID          string
	Category    Category
	Severity    Severity
	Message     string
	UserMessage string
	Details     string
	StatusCode  int
	Timestamp   time.Time
	Context     map[string]string
	Retryable   bool
	RetryAfter  time.Duration

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap returns the original error this one was classified from, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// newID returns a fresh error identifier, unique per construction.
func newID() string {
	return "err_" + uuid.NewString()
}

// NewNetworkError reports a transport-level failure.
func NewNetworkError(message, details string) *Error {
	return &Error{
		ID:          newID(),
		Category:    CategoryNetwork,
		Severity:    SeverityHigh,
		Message:     message,
		UserMessage: "Network error. Please check your connection.",
		Details:     details,
		Timestamp:   time.Now(),
		Retryable:   true,
		RetryAfter:  5 * time.Second,
	}
}

// NewValidationError reports rejected input. Never retryable.
func NewValidationError(message, details string) *Error {
	return &Error{
		ID:          newID(),
		Category:    CategoryValidation,
		Severity:    SeverityLow,
		Message:     message,
		UserMessage: message,
		Details:     details,
		Timestamp:   time.Now(),
		Retryable:   false,
	}
}

// NewAuthenticationError reports a failed or missing login.
func NewAuthenticationError(message string) *Error {
	return &Error{
		ID:          newID(),
		Category:    CategoryAuthentication,
		Severity:    SeverityHigh,
		Message:     message,
		UserMessage: "Authentication required. Please log in.",
		Timestamp:   time.Now(),
		Retryable:   false,
	}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(resource string) *Error {
	return &Error{
		ID:          newID(),
		Category:    CategoryNotFound,
		Severity:    SeverityMedium,
		Message:     resource + " not found",
		UserMessage: resource + " not found.",
		Timestamp:   time.Now(),
		Retryable:   false,
	}
}
