// Copyright 2026 © The Erpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache is the Redis-backed response cache. A cache failure is
// never fatal: lookups degrade to a miss and stores are best-effort.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erpilot-ai/erpilot/pkg/core"
	"github.com/erpilot-ai/erpilot/pkg/telemetry"
)

const keyPrefix = "erpilot:response:"

// Manager reads and writes cached responses.
type Manager struct {
	client  redis.UniversalClient
	ttl     time.Duration
	logger  *slog.Logger
	metrics *telemetry.PipelineMetrics
}

// New creates a cache manager over the given Redis client.
func New(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger, metrics *telemetry.PipelineMetrics) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{client: client, ttl: ttl, logger: logger, metrics: metrics}
}

// Key derives the cache key for a query. The role is part of the key so one
// role's answer can never serve another role, the question is normalized so
// trivially different phrasings share an entry, and image bytes participate
// via their digest.
func Key(q core.Query) string {
	h := sha256.New()
	h.Write([]byte(q.Role))
	h.Write([]byte{0})
	h.Write([]byte(normalize(q.Question)))
	if q.ImageRef != "" {
		img := sha256.Sum256([]byte(q.ImageRef))
		h.Write([]byte{0})
		h.Write(img[:])
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// normalize lowercases and collapses interior whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Get returns the cached response for the query, or nil on miss. Any cache
// failure (connection, corrupt entry) is logged and reported as a miss.
func (m *Manager) Get(ctx context.Context, q core.Query) *core.Response {
	data, err := m.client.Get(ctx, Key(q)).Bytes()
	if err == redis.Nil {
		m.metrics.RecordCacheLookup(ctx, "miss")
		return nil
	}
	if err != nil {
		m.logger.WarnContext(ctx, "cache lookup failed, treating as miss", "error", err)
		m.metrics.RecordCacheLookup(ctx, "bypass")
		return nil
	}

	var resp core.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		m.logger.WarnContext(ctx, "corrupt cache entry, treating as miss", "error", err)
		m.metrics.RecordCacheLookup(ctx, "bypass")
		return nil
	}

	m.metrics.RecordCacheLookup(ctx, "hit")
	resp.Cached = true
	return &resp
}

// Set stores a response under the query's key with the configured TTL.
// Failures are logged and swallowed.
func (m *Manager) Set(ctx context.Context, q core.Query, resp *core.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to marshal response for cache", "error", err)
		return
	}
	if err := m.client.Set(ctx, Key(q), data, m.ttl).Err(); err != nil {
		m.logger.WarnContext(ctx, "cache store failed", "error", err)
	}
}
