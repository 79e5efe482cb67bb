// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package session_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/config"
	"codeberg.org/oliverandrich/student-portal/internal/services/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hashKey  = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	blockKey = "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"
)

func newManager(t *testing.T, secure bool, customize ...func(*config.SessionConfig)) *session.Manager {
	t.Helper()
	cfg := &config.SessionConfig{
		CookieName: "_portal_session",
		MaxAge:     3600,
		HashKey:    hashKey,
	}
	for _, fn := range customize {
		fn(cfg)
	}
	mgr, err := session.NewManager(cfg, secure)
	require.NoError(t, err)
	return mgr
}

func requestWith(cookie *http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/user", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

func TestNewManager_KeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		hash    string
		block   string
		wantErr string
	}{
		{"hash only", hashKey, "", ""},
		{"hash and block", hashKey, blockKey, ""},
		{"generated hash", "", "", ""},
		{"hash not hex", "not-hex", "", "invalid session hash key"},
		{"hash too short", "0123456789abcdef", "", "must be 32 bytes"},
		{"block not hex", hashKey, "not-hex", "invalid session block key"},
		{"block too short", hashKey, "0123456789abcdef", "must be 32 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, err := session.NewManager(&config.SessionConfig{
				CookieName: "_portal_session",
				MaxAge:     3600,
				HashKey:    tt.hash,
				BlockKey:   tt.block,
			}, false)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, mgr)
		})
	}
}

func TestCreate(t *testing.T) {
	mgr := newManager(t, false)

	cookie, err := mgr.Create(42, "alice")

	require.NoError(t, err)
	assert.Equal(t, "_portal_session", cookie.Name)
	assert.NotEmpty(t, cookie.Value)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, 3600, cookie.MaxAge)
	assert.True(t, cookie.HttpOnly)
	assert.False(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
}

func TestCreate_Secure(t *testing.T) {
	mgr := newManager(t, true)

	cookie, err := mgr.Create(42, "alice")

	require.NoError(t, err)
	assert.True(t, cookie.Secure)
	assert.True(t, mgr.Clear().Secure)
}

func TestParse_RoundTrip(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		mgr := newManager(t, false, func(c *config.SessionConfig) {
			if encrypted {
				c.BlockKey = blockKey
			}
		})
		cookie, err := mgr.Create(42, "alice")
		require.NoError(t, err)

		data, err := mgr.Parse(requestWith(cookie))

		require.NoError(t, err)
		require.NotNil(t, data)
		assert.Equal(t, int64(42), data.UserID)
		assert.Equal(t, "alice", data.Username)
		assert.WithinDuration(t, time.Now().Add(time.Hour), data.ExpiresAt, time.Minute)
	}
}

func TestParse_Anonymous(t *testing.T) {
	mgr := newManager(t, false)
	valid, err := mgr.Create(42, "alice")
	require.NoError(t, err)
	tampered := *valid
	tampered.Value = valid.Value[:len(valid.Value)-5] + "XXXXX"

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{"no cookie", nil},
		{"garbage", &http.Cookie{Name: "_portal_session", Value: "garbage"}},
		{"tampered", &tampered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := mgr.Parse(requestWith(tt.cookie))

			require.NoError(t, err)
			assert.Nil(t, data)
		})
	}
}

func TestParse_OtherKey(t *testing.T) {
	cookie, err := newManager(t, false).Create(42, "alice")
	require.NoError(t, err)

	other := newManager(t, false, func(c *config.SessionConfig) { c.HashKey = blockKey })
	data, err := other.Parse(requestWith(cookie))

	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestParse_Expired(t *testing.T) {
	mgr := newManager(t, false, func(c *config.SessionConfig) { c.MaxAge = 1 })
	cookie, err := mgr.Create(42, "alice")
	require.NoError(t, err)

	time.Sleep(2 * time.Second)
	data, err := mgr.Parse(requestWith(cookie))

	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestClear(t *testing.T) {
	cookie := newManager(t, false).Clear()

	assert.Equal(t, "_portal_session", cookie.Name)
	assert.Empty(t, cookie.Value)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, -1, cookie.MaxAge)
	assert.True(t, cookie.HttpOnly)
}
