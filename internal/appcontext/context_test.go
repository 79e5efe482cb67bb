// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package appcontext_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"codeberg.org/oliverandrich/student-portal/internal/appcontext"
	"codeberg.org/oliverandrich/student-portal/internal/models"
	"codeberg.org/oliverandrich/student-portal/internal/services/session"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestContext_Anonymous(t *testing.T) {
	ctx := &appcontext.Context{}

	assert.Nil(t, ctx.GetUser())
	assert.False(t, ctx.IsAuthenticated())
	assert.Zero(t, ctx.UserID())
}

func TestContext_WithSession(t *testing.T) {
	user := &models.User{ID: 7, Username: "alice"}
	ctx := &appcontext.Context{
		Session: &session.Data{UserID: 7, Username: "alice"},
		User:    user,
	}

	assert.Same(t, user, ctx.GetUser())
	assert.True(t, ctx.IsAuthenticated())
	assert.Equal(t, int64(7), ctx.UserID())
}

// A session whose account was deleted still counts as authenticated.
func TestContext_SessionWithoutUser(t *testing.T) {
	ctx := &appcontext.Context{Session: &session.Data{UserID: 7}}

	assert.True(t, ctx.IsAuthenticated())
	assert.Nil(t, ctx.GetUser())
}

func TestFrom(t *testing.T) {
	e := echo.New()
	plain := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	wrapped := appcontext.From(plain)
	assert.False(t, wrapped.IsAuthenticated())

	custom := &appcontext.Context{Context: plain, Session: &session.Data{UserID: 1}}
	assert.Same(t, custom, appcontext.From(custom))
}
