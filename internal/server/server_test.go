// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/config"
	"codeberg.org/oliverandrich/student-portal/internal/i18n"
	"codeberg.org/oliverandrich/student-portal/internal/server"
	"codeberg.org/oliverandrich/student-portal/internal/services/auth"
	"codeberg.org/oliverandrich/student-portal/internal/services/otp"
	"codeberg.org/oliverandrich/student-portal/internal/services/session"
	"codeberg.org/oliverandrich/student-portal/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type app struct {
	e        *echo.Echo
	notifier *testutil.RecordingNotifier
}

func newApp(t *testing.T) *app {
	t.Helper()
	require.NoError(t, i18n.Init())

	notifier := &testutil.RecordingNotifier{}
	svc := auth.NewService(auth.Options{
		Store:      testutil.NewTestStore(t, nil),
		Notifier:   notifier,
		OTP:        otp.NewGenerator(10*time.Minute, nil),
		BcryptCost: bcrypt.MinCost,
	})
	sessions, err := session.NewManager(&config.SessionConfig{
		CookieName: "_session",
		MaxAge:     3600,
		HashKey:    "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
	}, false)
	require.NoError(t, err)

	cfg := &config.Config{Server: config.ServerConfig{MaxBodySize: 1}}
	return &app{
		e:        server.NewEcho(cfg, server.Deps{Auth: svc, Sessions: sessions}),
		notifier: notifier,
	}
}

func (a *app) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := testutil.NewRequest(method, path, strings.NewReader(body))
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "_session" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestAccountLifecycle(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodPost, "/api/auth/signup",
		`{"username":"alice","fullName":"Alice A","email":"alice@vu.edu.pk","password":"password1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/auth/login", `{"email":"alice@vu.edu.pk","password":"password1"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "no account exists before verification")

	code := a.notifier.LastCode("alice@vu.edu.pk")
	rec = a.do(http.MethodPost, "/api/auth/verify-otp", `{"email":"alice@vu.edu.pk","code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/auth/login", `{"email":"alice@vu.edu.pk","password":"password1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookie := sessionCookie(t, rec)

	rec = a.do(http.MethodGet, "/api/auth/user", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var user map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "alice", user["username"])
	assert.Nil(t, user["degreeProgram"])

	rec = a.do(http.MethodPost, "/api/user/setup-profile", `{"degreeProgram":"BSCS","subjects":["CS101"]}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/auth/user", "", cookie)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "BSCS", user["degreeProgram"])

	rec = a.do(http.MethodGet, "/api/logout", "", cookie)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth", rec.Header().Get("Location"))
	assert.Empty(t, sessionCookie(t, rec).Value)
}

func TestProtectedRoutes(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodGet, "/api/auth/user", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"Not authenticated"}`, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/user/setup-profile", `{"degreeProgram":"BSCS","subjects":["CS101"]}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthRoute(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","storage":"local"}`, rec.Body.String())
}

func TestMiddlewareStack(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodGet, "/health", "")

	assert.Len(t, rec.Header().Get(echo.HeaderXRequestID), 36)
	assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
}

func TestTrailingSlash(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodGet, "/api/auth/user/", "")
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/api/auth/user", rec.Header().Get("Location"))

	rec = a.do(http.MethodPost, "/api/auth/forgot-password/", `{"email":"nobody@vu.edu.pk"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "No account found")
}

func TestBodyLimit(t *testing.T) {
	a := newApp(t)
	huge := `{"email":"` + strings.Repeat("a", 2<<20) + `"}`

	rec := a.do(http.MethodPost, "/api/auth/forgot-password", huge)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodGet, "/api/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
