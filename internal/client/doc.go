// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client implements the authenticated ForgeAgents API client.
//
// All requests flow through a single pipeline: rate limiting, token
// acquisition with speculative refresh, a bounded per-request timeout, a
// one-shot 401 refresh-and-retry, and classification of every failure into
// an *apierror.Error. Registry reads are cached stale-while-revalidate;
// skill invocation is available synchronously or as a token stream.
package client
