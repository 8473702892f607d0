// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package apierror

import "time"

// Backoff bounds for RetryDelay.
const (
	backoffBase = time.Second
	backoffMax  = 30 * time.Second
)

// ShouldRetry reports whether another attempt is worthwhile.
//
// Validation, authentication, authorization, and not-found failures are
// never retried, regardless of the Retryable flag: repeating the same
// request cannot change their outcome.
func ShouldRetry(e *Error, attempt, maxAttempts int) bool {
	if e == nil || attempt >= maxAttempts || !e.Retryable {
		return false
	}
	switch e.Category {
	case CategoryValidation, CategoryAuthentication, CategoryAuthorization, CategoryNotFound:
		return false
	}
	return true
}

// RetryDelay returns the wait before the next attempt: the error's own
// RetryAfter hint when present, else exponential backoff capped at 30s.
func RetryDelay(e *Error, attempt int) time.Duration {
	if e != nil && e.RetryAfter > 0 {
		return e.RetryAfter
	}
	d := backoffBase << uint(attempt)
	if d > backoffMax || d <= 0 {
		return backoffMax
	}
	return d
}
