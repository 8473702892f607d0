// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"context"
	"log"
)

// StaleWhileRevalidate returns the cached value for key immediately when
// one exists, kicking off fetch in the background to refresh the cache; a
// failed background fetch is logged and dropped, never surfaced. On a cold
// cache it awaits fetch, stores the result, and returns it.
//
// The caller observes exactly one value per call, and the cache converges
// on the freshest successful fetch.
func StaleWhileRevalidate[V any](
	ctx context.Context,
	key string,
	fetch func(context.Context) (V, error),
	c *Cache[V],
	onRevalidate func(V),
) (V, error) {
	if cached, ok := c.Get(key); ok {
		go func() {
			fresh, err := fetch(ctx)
			if err != nil {
				log.Printf("[cache] revalidation failed for %q: %v", key, err)
				return
			}
			c.Set(key, fresh)
			if onRevalidate != nil {
				onRevalidate(fresh)
			}
		}()
		return cached, nil
	}

	fresh, err := fetch(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, fresh)
	return fresh, nil
}
