// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Default retry hints per failure class.
const (
	defaultRateLimitWait = 60 * time.Second
	defaultServerWait    = 10 * time.Second
	defaultNetworkWait   = 5 * time.Second
	defaultTransientWait = 3 * time.Second
)

// Classify converts any error into exactly one *Error.
//
// An already-classified error is copied with a fresh ID and timestamp; its
// remaining fields are preserved. Everything else is mapped by inspecting
// the error chain and, as a last resort, the message text.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		dup := *appErr
		dup.ID = newID()
		dup.Timestamp = time.Now()
		return &dup
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return timeoutError(err)
		}
		return &Error{
			ID:          newID(),
			Category:    CategoryNetwork,
			Severity:    SeverityHigh,
			Message:     err.Error(),
			UserMessage: "Network connection error. Please check your internet connection.",
			Timestamp:   time.Now(),
			Retryable:   true,
			RetryAfter:  defaultNetworkWait,
			cause:       err,
		}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"):
		return timeoutError(err)
	case strings.Contains(lower, "not found") || strings.Contains(lower, "404"):
		return &Error{
			ID:          newID(),
			Category:    CategoryNotFound,
			Severity:    SeverityMedium,
			Message:     msg,
			UserMessage: "Resource not found.",
			Timestamp:   time.Now(),
			Retryable:   false,
			cause:       err,
		}
	}

	return &Error{
		ID:          newID(),
		Category:    CategoryUnknown,
		Severity:    SeverityMedium,
		Message:     msg,
		UserMessage: "An unexpected error occurred. Please try again.",
		Timestamp:   time.Now(),
		Retryable:   true,
		RetryAfter:  defaultTransientWait,
		cause:       err,
	}
}

// ClassifyValue classifies a non-error value, mirroring Classify for data
// surfaced through channels or recovered panics.
func ClassifyValue(v any) *Error {
	switch val := v.(type) {
	case nil:
		return nil
	case error:
		return Classify(val)
	case string:
		return &Error{
			ID:          newID(),
			Category:    CategoryUnknown,
			Severity:    SeverityLow,
			Message:     val,
			UserMessage: val,
			Timestamp:   time.Now(),
			Retryable:   true,
		}
	default:
		dump, _ := json.Marshal(v)
		return &Error{
			ID:          newID(),
			Category:    CategoryUnknown,
			Severity:    SeverityMedium,
			Message:     "Unknown error",
			UserMessage: "An unexpected error occurred. Please try again.",
			Details:     string(dump),
			Timestamp:   time.Now(),
			Retryable:   true,
		}
	}
}

// ClassifyResponse maps a non-OK HTTP response to an *Error. The response
// body is not consumed; only status and headers are inspected.
func ClassifyResponse(resp *http.Response) *Error {
	e := &Error{
		ID:         newID(),
		StatusCode: resp.StatusCode,
		Details:    resp.Status,
		Timestamp:  time.Now(),
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		e.Category = CategoryValidation
		e.Severity = SeverityLow
		e.Message = "Invalid request"
		e.UserMessage = "Invalid input. Please check your data and try again."

	case resp.StatusCode == http.StatusUnauthorized:
		e.Category = CategoryAuthentication
		e.Severity = SeverityHigh
		e.Message = "Authentication required"
		e.UserMessage = "You need to log in to access this resource."

	case resp.StatusCode == http.StatusForbidden:
		e.Category = CategoryAuthorization
		e.Severity = SeverityHigh
		e.Message = "Access forbidden"
		e.UserMessage = "You don't have permission to access this resource."

	case resp.StatusCode == http.StatusNotFound:
		e.Category = CategoryNotFound
		e.Severity = SeverityMedium
		e.Message = "Resource not found"
		e.UserMessage = "The requested resource was not found."

	case resp.StatusCode == http.StatusTooManyRequests:
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		e.Category = CategoryRateLimit
		e.Severity = SeverityMedium
		e.Message = "Rate limit exceeded"
		e.UserMessage = fmt.Sprintf("Too many requests. Please wait %d seconds and try again.",
			int(wait.Round(time.Second)/time.Second))
		e.Retryable = true
		e.RetryAfter = wait

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		e.Category = CategoryAPI
		e.Severity = SeverityMedium
		e.Message = fmt.Sprintf("Client error: %d", resp.StatusCode)
		e.UserMessage = "Request failed. Please check your input and try again."

	case resp.StatusCode >= 500:
		e.Category = CategoryServer
		e.Severity = SeverityHigh
		e.Message = fmt.Sprintf("Server error: %d", resp.StatusCode)
		e.UserMessage = "Server error. Please try again later."
		e.Retryable = true
		e.RetryAfter = defaultServerWait

	default:
		e.Category = CategoryAPI
		e.Severity = SeverityMedium
		e.Message = fmt.Sprintf("HTTP error: %d", resp.StatusCode)
		e.UserMessage = "Request failed. Please try again."
		e.Retryable = true
	}

	return e
}

// parseRetryAfter interprets a Retry-After header as either delta-seconds
// or an HTTP date. Unparseable or absent values fall back to one minute.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return defaultRateLimitWait
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return defaultRateLimitWait
}

func timeoutError(cause error) *Error {
	return &Error{
		ID:          newID(),
		Category:    CategoryTimeout,
		Severity:    SeverityMedium,
		Message:     cause.Error(),
		UserMessage: "Request timed out. Please try again.",
		Timestamp:   time.Now(),
		Retryable:   true,
		RetryAfter:  defaultTransientWait,
		cause:       cause,
	}
}
