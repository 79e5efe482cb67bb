// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package ratelimit caps how many passcodes one address can be sent per
// time window, using a fixed-window counter in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rl:otp:"

// Limiter counts events per key. A nil *Limiter allows everything.
type Limiter struct {
	client *redis.Client
	window time.Duration
	max    int64
}

// New creates a limiter allowing limit events per key within window.
func New(client *redis.Client, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Limiter{client: client, window: window, max: int64(limit)}
}

// NewFromURL connects to the Redis server at url. An empty url yields a
// nil limiter.
func NewFromURL(url string, limit int, window time.Duration) (*Limiter, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return New(redis.NewClient(opts), limit, window), nil
}

// Allow records one event for key and reports whether it is within the
// limit. Redis errors allow the event.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l == nil {
		return true
	}

	redisKey := keyPrefix + key
	cnt, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		slog.Warn("rate_limit_unavailable", "error", err)
		return true
	}
	if cnt == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			slog.Warn("rate_limit_expire_failed", "error", err)
		}
	}

	return cnt <= l.max
}

// Close releases the Redis connection.
func (l *Limiter) Close() error {
	if l == nil {
		return nil
	}
	return l.client.Close()
}
