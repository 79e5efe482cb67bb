// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package middleware holds the Echo middleware of the portal.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/student-portal/internal/appcontext"
	"codeberg.org/oliverandrich/student-portal/internal/models"
	"codeberg.org/oliverandrich/student-portal/internal/services/session"
	"github.com/labstack/echo/v4"
)

// UserLoader loads the account behind a session.
type UserLoader interface {
	CurrentUser(ctx context.Context, userID int64) (*models.User, error)
}

// AppContext wraps every request in an *appcontext.Context.
func AppContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(appcontext.From(c))
		}
	}
}

// LoadSession reads the session cookie and loads its user into the
// request's *appcontext.Context. Requests without a valid cookie pass
// through anonymously.
func LoadSession(sessions *session.Manager, users UserLoader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := appcontext.From(c)

			data, err := sessions.Parse(c.Request())
			if err != nil || data == nil {
				return next(cc)
			}
			cc.Session = data

			if users != nil {
				user, err := users.CurrentUser(c.Request().Context(), data.UserID)
				if err != nil {
					slog.Debug("session_user_missing", "user_id", data.UserID, "error", err)
				} else {
					cc.User = user
				}
			}

			return next(cc)
		}
	}
}

// RequireAuth rejects requests without a session with 401.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !appcontext.From(c).IsAuthenticated() {
				return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Not authenticated"})
			}
			return next(c)
		}
	}
}
