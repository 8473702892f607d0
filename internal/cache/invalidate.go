// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"regexp"
	"strings"
)

// Invalidator removes groups of related entries from a cache, typically
// after a write makes cached reads stale.
type Invalidator[V any] struct {
	cache *Cache[V]
}

// NewInvalidator wraps c.
func NewInvalidator[V any](c *Cache[V]) *Invalidator[V] {
	return &Invalidator[V]{cache: c}
}

// InvalidatePattern deletes every key matching a glob-style pattern where
// "*" matches any run of characters, e.g. "/skills*". Returns the number
// of keys removed.
func (inv *Invalidator[V]) InvalidatePattern(pattern string) int {
	re, err := regexp.Compile("^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$")
	if err != nil {
		return 0
	}
	removed := 0
	for _, key := range inv.cache.Keys() {
		if re.MatchString(key) {
			if inv.cache.Delete(key) {
				removed++
			}
		}
	}
	return removed
}

// InvalidateContaining deletes every key containing substr.
func (inv *Invalidator[V]) InvalidateContaining(substr string) int {
	removed := 0
	for _, key := range inv.cache.Keys() {
		if strings.Contains(key, substr) {
			if inv.cache.Delete(key) {
				removed++
			}
		}
	}
	return removed
}

// InvalidateAll clears the cache.
func (inv *Invalidator[V]) InvalidateAll() {
	inv.cache.Clear()
}
