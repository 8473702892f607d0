// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package skills provides an in-process view of the skill registry with
// client-side filtering and search.
package skills

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/vibeforge/forge-go/internal/client"
)

// Loader fetches the full registry. In production this is a closure over
// client.ListSkills.
type Loader func(ctx context.Context) (*client.ListSkillsResponse, error)

// Registry memoizes one registry load and answers filter queries locally.
// The first call that needs data performs the load; concurrent callers
// share it. Reset discards the snapshot so the next call reloads.
type Registry struct {
	load Loader

	mu     sync.Mutex
	loaded bool
	skills []client.Skill
	byID   map[string]client.Skill
}

// NewRegistry creates a Registry backed by load.
func NewRegistry(load Loader) *Registry {
	return &Registry{load: load}
}

// ensure loads the snapshot if it is not already held.
func (r *Registry) ensure(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}

	resp, err := r.load(ctx)
	if err != nil {
		return err
	}

	r.skills = make([]client.Skill, len(resp.Skills))
	copy(r.skills, resp.Skills)
	sort.Slice(r.skills, func(i, j int) bool { return r.skills[i].Name < r.skills[j].Name })

	r.byID = make(map[string]client.Skill, len(r.skills))
	for _, s := range r.skills {
		r.byID[s.ID] = s
	}
	r.loaded = true
	return nil
}

// All returns every skill, sorted by name.
func (r *Registry) All(ctx context.Context) ([]client.Skill, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]client.Skill, len(r.skills))
	copy(out, r.skills)
	return out, nil
}

// Get returns the skill with the given ID, or false when unknown.
func (r *Registry) Get(ctx context.Context, id string) (client.Skill, bool, error) {
	if err := r.ensure(ctx); err != nil {
		return client.Skill{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok, nil
}

// BySection returns skills belonging to the given dashboard section.
func (r *Registry) BySection(ctx context.Context, section string) ([]client.Skill, error) {
	return r.filter(ctx, func(s client.Skill) bool {
		return strings.EqualFold(s.Section, section)
	})
}

// ByCategory returns skills in the given category.
func (r *Registry) ByCategory(ctx context.Context, category string) ([]client.Skill, error) {
	return r.filter(ctx, func(s client.Skill) bool {
		return strings.EqualFold(s.Category, category)
	})
}

// Public returns skills available without BDS membership.
func (r *Registry) Public(ctx context.Context) ([]client.Skill, error) {
	return r.filter(ctx, func(s client.Skill) bool {
		return s.Access == client.AccessPublic
	})
}

// BDSOnly returns skills restricted to BDS members.
func (r *Registry) BDSOnly(ctx context.Context) ([]client.Skill, error) {
	return r.filter(ctx, func(s client.Skill) bool {
		return s.Access == client.AccessBDSOnly
	})
}

// Search matches query case-insensitively against skill names,
// descriptions and tags.
func (r *Registry) Search(ctx context.Context, query string) ([]client.Skill, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return r.All(ctx)
	}
	return r.filter(ctx, func(s client.Skill) bool {
		if strings.Contains(strings.ToLower(s.Name), q) ||
			strings.Contains(strings.ToLower(s.Description), q) {
			return true
		}
		for _, tag := range s.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				return true
			}
		}
		return false
	})
}

func (r *Registry) filter(ctx context.Context, keep func(client.Skill) bool) ([]client.Skill, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []client.Skill
	for _, s := range r.skills {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Reset discards the memoized snapshot.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
	r.skills = nil
	r.byID = nil
}
