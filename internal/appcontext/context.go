// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package appcontext provides the custom Echo context.
package appcontext

import (
	"codeberg.org/oliverandrich/student-portal/internal/models"
	"codeberg.org/oliverandrich/student-portal/internal/services/session"
	"github.com/labstack/echo/v4"
)

// Context is a custom Echo context carrying the session and the user it
// belongs to.
type Context struct {
	echo.Context
	Session *session.Data // nil if there is no valid session cookie
	User    *models.User  // nil if not authenticated or the account is gone
}

// From returns c as a *Context, wrapping it if the custom context middleware
// did not run.
func From(c echo.Context) *Context {
	if cc, ok := c.(*Context); ok {
		return cc
	}
	return &Context{Context: c}
}

// GetUser returns the authenticated user, or nil if not authenticated.
func (c *Context) GetUser() *models.User {
	return c.User
}

// IsAuthenticated returns true if the request carries a valid session.
func (c *Context) IsAuthenticated() bool {
	return c.Session != nil
}

// UserID returns the session's user id, or 0 without a session.
func (c *Context) UserID() int64 {
	if c.Session == nil {
		return 0
	}
	return c.Session.UserID
}
