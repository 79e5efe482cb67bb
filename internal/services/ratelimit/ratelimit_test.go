// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/services/ratelimit"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, limit int, window time.Duration) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	l := ratelimit.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), limit, window)
	t.Cleanup(func() {
		_ = l.Close()
	})
	return l, mr
}

func TestAllow_WithinLimit(t *testing.T) {
	l, _ := setup(t, 3, time.Minute)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "alice@vu.edu.pk"))
	assert.True(t, l.Allow(ctx, "alice@vu.edu.pk"))
	assert.True(t, l.Allow(ctx, "alice@vu.edu.pk"))
	assert.False(t, l.Allow(ctx, "alice@vu.edu.pk"))

	assert.True(t, l.Allow(ctx, "bob@vu.edu.pk"), "keys are counted separately")
}

func TestAllow_WindowExpires(t *testing.T) {
	l, mr := setup(t, 1, time.Minute)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "alice@vu.edu.pk"))
	require.False(t, l.Allow(ctx, "alice@vu.edu.pk"))

	mr.FastForward(time.Minute + time.Second)

	assert.True(t, l.Allow(ctx, "alice@vu.edu.pk"))
}

func TestAllow_SetsExpiry(t *testing.T) {
	l, mr := setup(t, 5, 15*time.Minute)

	l.Allow(context.Background(), "alice@vu.edu.pk")

	assert.Equal(t, 15*time.Minute, mr.TTL("rl:otp:alice@vu.edu.pk"))
}

func TestAllow_FailsOpen(t *testing.T) {
	l, mr := setup(t, 1, time.Minute)
	mr.Close()

	assert.True(t, l.Allow(context.Background(), "alice@vu.edu.pk"))
	assert.True(t, l.Allow(context.Background(), "alice@vu.edu.pk"))
}

func TestNilLimiterAllows(t *testing.T) {
	var l *ratelimit.Limiter

	assert.True(t, l.Allow(context.Background(), "alice@vu.edu.pk"))
	assert.NoError(t, l.Close())
}

func TestNewFromURL(t *testing.T) {
	l, err := ratelimit.NewFromURL("", 5, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, l)

	_, err = ratelimit.NewFromURL("://bad", 5, time.Minute)
	require.Error(t, err)

	mr := miniredis.RunT(t)
	l, err = ratelimit.NewFromURL("redis://"+mr.Addr(), 1, time.Minute)
	require.NoError(t, err)
	defer func() {
		_ = l.Close()
	}()
	assert.True(t, l.Allow(context.Background(), "alice@vu.edu.pk"))
	assert.False(t, l.Allow(context.Background(), "alice@vu.edu.pk"))
}
