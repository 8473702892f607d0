// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Key builds a deterministic cache key from an endpoint, optional request
// parameters, and an optional user scope. Parameters are serialized sorted
// by name, so two equal maps always produce the same key.
//
//	Key("/skills", map[string]any{"b": 2, "a": 1}, "u1")
//	  == "/skills|user:u1|a=1&b=2"
func Key(endpoint string, params map[string]any, userID string) string {
	parts := []string{endpoint}

	if userID != "" {
		parts = append(parts, "user:"+userID)
	}

	if len(params) > 0 {
		names := make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}
		sort.Strings(names)

		pairs := make([]string, 0, len(names))
		for _, name := range names {
			encoded, err := json.Marshal(params[name])
			if err != nil {
				encoded = []byte(fmt.Sprintf("%v", params[name]))
			}
			pairs = append(pairs, name+"="+string(encoded))
		}
		parts = append(parts, strings.Join(pairs, "&"))
	}

	return strings.Join(parts, "|")
}
