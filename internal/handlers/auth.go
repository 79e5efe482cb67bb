// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/student-portal/internal/appcontext"
	"codeberg.org/oliverandrich/student-portal/internal/models"
	"codeberg.org/oliverandrich/student-portal/internal/services/auth"
	"codeberg.org/oliverandrich/student-portal/internal/services/session"
	"github.com/labstack/echo/v4"
)

// LogoutRedirect is where the browser goes after logging out.
const LogoutRedirect = "/auth"

// AuthHandlers contains handlers for the account lifecycle.
type AuthHandlers struct {
	svc      *auth.Service
	sessions *session.Manager
}

// NewAuth creates a new AuthHandlers instance.
func NewAuth(svc *auth.Service, sessions *session.Manager) *AuthHandlers {
	return &AuthHandlers{
		svc:      svc,
		sessions: sessions,
	}
}

type signupRequest struct {
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetPasswordRequest struct {
	Email           string `json:"email"`
	Code            string `json:"code"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type emailResponse struct {
	Message string `json:"message"`
	Email   string `json:"email"`
}

type userResponse struct {
	Message string       `json:"message"`
	User    *models.User `json:"user"`
}

// registeredUser is the reduced account view returned after verification.
type registeredUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

// Signup starts a registration and sends the verification code.
func (h *AuthHandlers) Signup(c echo.Context) error {
	var req signupRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c, msgInvalidBody)
	}

	address, err := h.svc.Signup(c.Request().Context(), auth.SignupParams{
		Username: req.Username,
		FullName: req.FullName,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return RespondError(c, err)
	}

	return c.JSON(http.StatusCreated, emailResponse{
		Message: "Registration initiated. Please check your email for verification code.",
		Email:   address,
	})
}

// Login authenticates the user and sets the session cookie.
func (h *AuthHandlers) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c, msgInvalidBody)
	}

	user, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return RespondError(c, err)
	}

	cookie, err := h.sessions.Create(user.ID, user.Username)
	if err != nil {
		return RespondError(c, err)
	}
	c.SetCookie(cookie)

	message := "Login successful"
	if user.IsAdmin() {
		message = "Admin login successful"
	}
	return c.JSON(http.StatusOK, userResponse{Message: message, User: user})
}

// VerifyOTP checks a passcode and either completes the registration or
// clears the way for a password reset.
func (h *AuthHandlers) VerifyOTP(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c, msgInvalidBody)
	}

	result, err := h.svc.VerifyOTP(c.Request().Context(), req.Email, req.Code)
	if err != nil {
		return RespondError(c, err)
	}

	if result.Registered != nil {
		u := result.Registered
		return c.JSON(http.StatusOK, map[string]any{
			"message": "Email verified and registration completed successfully",
			"user": registeredUser{
				ID:       u.ID,
				Username: u.Username,
				Email:    u.Email,
				FullName: u.FullName,
			},
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"message":          "OTP verified successfully. You can now reset your password.",
		"canResetPassword": true,
		"email":            result.Email,
	})
}

// ResendOTP sends another verification code.
func (h *AuthHandlers) ResendOTP(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c, msgInvalidBody)
	}

	address, err := h.svc.ResendOTP(c.Request().Context(), req.Email)
	if err != nil {
		return RespondError(c, err)
	}

	return c.JSON(http.StatusOK, emailResponse{
		Message: "New verification code sent to your email",
		Email:   address,
	})
}

// ForgotPassword sends a password reset code.
func (h *AuthHandlers) ForgotPassword(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c, msgInvalidBody)
	}

	address, err := h.svc.ForgotPassword(c.Request().Context(), req.Email)
	if err != nil {
		return RespondError(c, err)
	}

	return c.JSON(http.StatusOK, emailResponse{
		Message: "Password reset code sent to your email",
		Email:   address,
	})
}

// ResetPassword sets a new password using a verified code.
func (h *AuthHandlers) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c, msgInvalidBody)
	}

	err := h.svc.ResetPassword(c.Request().Context(), auth.ResetPasswordParams{
		Email:           req.Email,
		Code:            req.Code,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		return RespondError(c, err)
	}

	return c.JSON(http.StatusOK, messageResponse{
		Message: "Password updated successfully. You can now log in with your new password.",
	})
}

// CurrentUser returns the account of the logged-in user.
func (h *AuthHandlers) CurrentUser(c echo.Context) error {
	cc := appcontext.From(c)
	if !cc.IsAuthenticated() {
		return Unauthorized(c)
	}

	if user := cc.GetUser(); user != nil {
		return c.JSON(http.StatusOK, user)
	}

	user, err := h.svc.CurrentUser(c.Request().Context(), cc.UserID())
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// Logout clears the session cookie and sends the browser to the login page.
func (h *AuthHandlers) Logout(c echo.Context) error {
	cc := appcontext.From(c)
	if cc.IsAuthenticated() {
		slog.Info("logout", "user_id", cc.UserID())
	}

	c.SetCookie(h.sessions.Clear())
	return c.Redirect(http.StatusFound, LogoutRedirect)
}
