// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/student-portal/internal/services/auth"
	"github.com/labstack/echo/v4"
)

const (
	msgInternal         = "Internal server error"
	msgInvalidBody      = "Invalid request body"
	msgNotAuthenticated = "Not authenticated"
	msgRateLimited      = "Too many verification codes requested. Please try again later."
)

// messageResponse is the body of every error response.
type messageResponse struct {
	Message              string `json:"message"`
	RequiresVerification bool   `json:"requiresVerification,omitempty"`
	Email                string `json:"email,omitempty"`
}

// statusFor maps a service failure kind to an HTTP status. Conflicts are
// reported as 400 like every other input problem.
func statusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation, auth.KindConflict:
		return http.StatusBadRequest
	case auth.KindUnauthorized:
		return http.StatusUnauthorized
	case auth.KindForbidden:
		return http.StatusForbidden
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as a JSON message. Internal failures are logged
// and replaced by a generic message.
func RespondError(c echo.Context, err error) error {
	kind := auth.Classify(err)
	status := statusFor(kind)

	resp := messageResponse{Message: err.Error()}
	switch kind {
	case auth.KindInternal:
		slog.ErrorContext(c.Request().Context(), "request_failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
		resp.Message = msgInternal
	case auth.KindRateLimited:
		resp.Message = msgRateLimited
	case auth.KindForbidden:
		var authErr *auth.AuthenticationError
		if errors.As(err, &authErr) && authErr.RequiresVerification {
			resp.RequiresVerification = true
			resp.Email = authErr.Email
		}
	}

	return c.JSON(status, resp)
}

// BadRequest writes a 400 with message.
func BadRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, messageResponse{Message: message})
}

// Unauthorized writes a 401 for a request without a session.
func Unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, messageResponse{Message: msgNotAuthenticated})
}
