// Copyright 2026 The Flowmesh Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache is the gateway to the shared Redis cache holding serialized
// execution plans. Writes retry with exponential backoff because a plan that
// never reaches the cache leaves the flow unstartable; reads are single-shot
// because the traversal path treats a miss as an answer, not a failure.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
	"github.com/flowmesh/flowmesh/internal/log"
)

// Commander is the subset of redis.Client commands the gateway needs.
// *redis.Client satisfies it; tests substitute fakes built with
// redis.NewStatusResult and friends.
type Commander interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Gateway reads and writes entries in one named cache map. Entries are
// keyed "<map>:<key>" in Redis.
type Gateway struct {
	client     Commander
	mapName    string
	maxRetries int
	retryDelay time.Duration
	ttl        time.Duration
	logger     *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTTL sets an expiry on written entries. Zero means no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(g *Gateway) { g.ttl = ttl }
}

// WithRetry overrides the write retry budget and initial delay.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(g *Gateway) {
		g.maxRetries = maxRetries
		g.retryDelay = delay
	}
}

// New creates a Gateway over the given map name.
func New(client Commander, mapName string, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		client:     client,
		mapName:    mapName,
		maxRetries: 5,
		retryDelay: 200 * time.Millisecond,
		logger:     log.WithComponent(logger, "cache"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) redisKey(key string) string {
	return g.mapName + ":" + key
}

// Put stores a value under key, retrying with exponential backoff until the
// write succeeds or the retry budget is exhausted.
func (g *Gateway) Put(ctx context.Context, key string, value []byte) error {
	delay := g.retryDelay
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			g.logger.Warn("cache write retry",
				slog.String("map", g.mapName),
				slog.String("key", key),
				slog.Int("attempt", attempt),
				log.Error(lastErr),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &flowmesherrors.CacheError{Op: "put", Map: g.mapName, Key: key, Cause: ctx.Err()}
			}
			delay *= 2
		}

		lastErr = g.client.Set(ctx, g.redisKey(key), value, g.ttl).Err()
		if lastErr == nil {
			return nil
		}
	}

	return &flowmesherrors.CacheError{Op: "put", Map: g.mapName, Key: key, Cause: lastErr}
}

// Get returns the value stored under key. A missing entry returns a
// not-found error; callers that treat absence as normal check the kind.
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := g.client.Get(ctx, g.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &flowmesherrors.NotFoundError{Resource: g.mapName, ID: key}
		}
		return nil, &flowmesherrors.CacheError{Op: "get", Map: g.mapName, Key: key, Cause: err}
	}
	return data, nil
}

// Remove deletes the entry under key. Removing an absent entry is not an
// error.
func (g *Gateway) Remove(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.redisKey(key)).Err(); err != nil {
		return &flowmesherrors.CacheError{Op: "remove", Map: g.mapName, Key: key, Cause: err}
	}
	return nil
}
