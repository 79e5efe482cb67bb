// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"codeberg.org/oliverandrich/student-portal/internal/appcontext"
	"github.com/labstack/echo/v4"
)

type setupProfileRequest struct {
	DegreeProgram string   `json:"degreeProgram"`
	Subjects      []string `json:"subjects"`
}

// SetupProfile stores the degree program and subjects of the logged-in user.
func (h *AuthHandlers) SetupProfile(c echo.Context) error {
	cc := appcontext.From(c)
	if !cc.IsAuthenticated() {
		return Unauthorized(c)
	}

	var req setupProfileRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c, msgInvalidBody)
	}

	user, err := h.svc.SetupProfile(c.Request().Context(), cc.UserID(), req.DegreeProgram, req.Subjects)
	if err != nil {
		return RespondError(c, err)
	}

	return c.JSON(http.StatusOK, userResponse{
		Message: "Profile setup completed successfully",
		User:    user,
	})
}
