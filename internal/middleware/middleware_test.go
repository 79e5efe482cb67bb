// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"codeberg.org/oliverandrich/student-portal/internal/appcontext"
	"codeberg.org/oliverandrich/student-portal/internal/config"
	"codeberg.org/oliverandrich/student-portal/internal/i18n"
	"codeberg.org/oliverandrich/student-portal/internal/middleware"
	"codeberg.org/oliverandrich/student-portal/internal/models"
	"codeberg.org/oliverandrich/student-portal/internal/services/session"
	"codeberg.org/oliverandrich/student-portal/internal/store"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userMap map[int64]*models.User

func (m userMap) CurrentUser(_ context.Context, id int64) (*models.User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func newSessions(t *testing.T) *session.Manager {
	t.Helper()
	mgr, err := session.NewManager(&config.SessionConfig{
		CookieName: "_session",
		MaxAge:     3600,
		HashKey:    "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
	}, false)
	require.NoError(t, err)
	return mgr
}

// captureContext serves one request through mws and returns the
// *appcontext.Context the handler saw.
func captureContext(t *testing.T, cookie *http.Cookie, mws ...echo.MiddlewareFunc) *appcontext.Context {
	t.Helper()
	e := echo.New()
	e.Use(mws...)

	var captured *appcontext.Context
	e.GET("/", func(c echo.Context) error {
		cc, ok := c.(*appcontext.Context)
		require.True(t, ok, "context should be *appcontext.Context")
		captured = cc
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	return captured
}

func TestLoadSession_NoCookie(t *testing.T) {
	cc := captureContext(t, nil,
		middleware.AppContext(),
		middleware.LoadSession(newSessions(t), userMap{}),
	)

	assert.False(t, cc.IsAuthenticated())
	assert.Nil(t, cc.User)
}

func TestLoadSession_WithSession(t *testing.T) {
	sessions := newSessions(t)
	user := &models.User{ID: 3, Username: "alice"}
	cookie, err := sessions.Create(3, "alice")
	require.NoError(t, err)

	cc := captureContext(t, cookie,
		middleware.AppContext(),
		middleware.LoadSession(sessions, userMap{3: user}),
	)

	assert.True(t, cc.IsAuthenticated())
	assert.Equal(t, int64(3), cc.UserID())
	assert.Same(t, user, cc.User)
}

func TestLoadSession_UserGone(t *testing.T) {
	sessions := newSessions(t)
	cookie, err := sessions.Create(3, "alice")
	require.NoError(t, err)

	cc := captureContext(t, cookie,
		middleware.AppContext(),
		middleware.LoadSession(sessions, userMap{}),
	)

	assert.True(t, cc.IsAuthenticated())
	assert.Nil(t, cc.User)
}

func TestLoadSession_InvalidCookie(t *testing.T) {
	cc := captureContext(t, &http.Cookie{Name: "_session", Value: "forged"},
		middleware.AppContext(),
		middleware.LoadSession(newSessions(t), userMap{}),
	)

	assert.False(t, cc.IsAuthenticated())
}

// LoadSession wraps the context itself when AppContext did not run.
func TestLoadSession_WithoutAppContext(t *testing.T) {
	cc := captureContext(t, nil, middleware.LoadSession(newSessions(t), nil))

	assert.False(t, cc.IsAuthenticated())
}

func TestRequireAuth(t *testing.T) {
	sessions := newSessions(t)
	e := echo.New()
	e.Use(middleware.AppContext(), middleware.LoadSession(sessions, userMap{}))
	e.GET("/protected", func(c echo.Context) error {
		return c.String(http.StatusOK, "protected content")
	}, middleware.RequireAuth())

	t.Run("anonymous", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"message":"Not authenticated"}`, rec.Body.String())
	})

	t.Run("authenticated", func(t *testing.T) {
		cookie, err := sessions.Create(1, "alice")
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "protected content", rec.Body.String())
	})
}

func TestLocale(t *testing.T) {
	require.NoError(t, i18n.Init())

	e := echo.New()
	e.Use(middleware.Locale())

	var locale string
	e.GET("/", func(c echo.Context) error {
		locale = i18n.GetLocale(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	tests := []struct {
		header string
		want   string
	}{
		{"en-US", "en"},
		{"ur-PK,ur;q=0.9", "ur"},
		{"de-DE", "en"},
		{"", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Accept-Language", tt.header)
			e.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, locale)
		})
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	e := echo.New()
	e.Use(middleware.RequestID(), middleware.RequestLogger(logger))
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/api/auth/user", func(c echo.Context) error { return c.NoContent(http.StatusUnauthorized) })

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String(), "health checks are not logged")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/user", nil))

	requestID := rec.Header().Get(echo.HeaderXRequestID)
	assert.Len(t, requestID, 36)
	assert.Contains(t, buf.String(), `"msg":"request"`)
	assert.Contains(t, buf.String(), `"status":401`)
	assert.Contains(t, buf.String(), requestID)
}

func TestStripTrailingSlash(t *testing.T) {
	e := echo.New()
	e.Pre(middleware.StripTrailingSlash())
	e.GET("/api/auth/user", func(c echo.Context) error { return c.String(http.StatusOK, "user") })
	e.POST("/api/auth/login", func(c echo.Context) error { return c.String(http.StatusOK, "login") })

	tests := []struct {
		name     string
		method   string
		path     string
		code     int
		location string
		body     string
	}{
		{"get redirects", http.MethodGet, "/api/auth/user/?x=1", http.StatusMovedPermanently, "/api/auth/user?x=1", ""},
		{"post rewritten", http.MethodPost, "/api/auth/login/", http.StatusOK, "", "login"},
		{"no slash", http.MethodGet, "/api/auth/user", http.StatusOK, "", "user"},
		{"protocol relative", http.MethodGet, "//evil.example/", http.StatusMovedPermanently, "/evil.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.location, rec.Header().Get("Location"))
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}
