// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth implements the account lifecycle: signup with passcode
// verification, login, password reset and profile setup.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"codeberg.org/oliverandrich/student-portal/internal/models"
	"codeberg.org/oliverandrich/student-portal/internal/services/email"
	"codeberg.org/oliverandrich/student-portal/internal/services/otp"
	"codeberg.org/oliverandrich/student-portal/internal/store"
	"github.com/samber/lo"
	"golang.org/x/crypto/bcrypt"
)

// DefaultDomain is the institutional email domain students must use.
const DefaultDomain = "vu.edu.pk"

// dummyHash is used for constant-time login to prevent timing attacks
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)

// Notifier delivers passcodes.
type Notifier interface {
	SendCode(ctx context.Context, purpose email.Purpose, to, code string) error
}

// Limiter caps passcode issuance per address.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string) bool { return true }

// Options configures a Service. Store and Notifier are required.
type Options struct {
	Store               store.Store
	Notifier            Notifier
	OTP                 *otp.Generator
	Limiter             Limiter
	InstitutionalDomain string
	BcryptCost          int
}

type Service struct {
	store      store.Store
	notifier   Notifier
	otp        *otp.Generator
	limiter    Limiter
	passwords  *PasswordValidator
	domain     string
	bcryptCost int
}

func NewService(opts Options) *Service {
	if opts.OTP == nil {
		opts.OTP = otp.NewGenerator(otp.DefaultTTL, nil)
	}
	if opts.Limiter == nil {
		opts.Limiter = allowAll{}
	}
	if opts.InstitutionalDomain == "" {
		opts.InstitutionalDomain = DefaultDomain
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}

	return &Service{
		store:      opts.Store,
		notifier:   opts.Notifier,
		otp:        opts.OTP,
		limiter:    opts.Limiter,
		passwords:  DefaultPasswordValidator(),
		domain:     strings.ToLower(strings.TrimPrefix(opts.InstitutionalDomain, "@")),
		bcryptCost: opts.BcryptCost,
	}
}

// Domain returns the institutional email domain without the leading @.
func (s *Service) Domain() string {
	return s.domain
}

// normalizeEmail trims and lower-cases raw and checks that it is a bare
// address.
func normalizeEmail(raw string) (string, error) {
	address := strings.ToLower(strings.TrimSpace(raw))
	if address == "" {
		return "", invalid("email", "Email is required")
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return "", invalid("email", "Invalid email")
	}
	return address, nil
}

func (s *Service) institutional(address string) bool {
	return strings.HasSuffix(address, "@"+s.domain)
}

func (s *Service) requireInstitutional(address string) error {
	if !s.institutional(address) {
		return invalid("email", fmt.Sprintf("Email must be from @%s domain", s.domain))
	}
	return nil
}

func normalizeCode(raw string) (string, error) {
	code := otp.NormalizeCode(raw)
	if !otp.WellFormed(code) {
		return "", invalid("code", "OTP must be 6 digits")
	}
	return code, nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// issueCode stores a fresh passcode for address and delivers it. The stored
// code is kept even if delivery fails.
func (s *Service) issueCode(ctx context.Context, purpose email.Purpose, address string) error {
	if !s.limiter.Allow(ctx, address) {
		slog.Warn("otp_rate_limited", "email", address, "purpose", purpose)
		return ErrRateLimited
	}

	code, err := s.otp.Issue(address)
	if err != nil {
		return err
	}
	if _, err := s.store.CreateOtpCode(ctx, code); err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}

	if err := s.notifier.SendCode(ctx, purpose, address, code.Code); err != nil {
		slog.Error("otp_delivery_failed", "email", address, "purpose", purpose, "error", err)
		return fmt.Errorf("failed to send verification code: %w", err)
	}

	slog.Info("otp_issued", "email", address, "purpose", purpose, "expires_at", code.ExpiresAt)
	return nil
}

// SignupParams holds the parameters for a signup request
type SignupParams struct {
	Username string
	FullName string
	Email    string
	Password string
}

// Signup records a pending account and sends a verification code. It
// returns the normalized email the code was sent to.
func (s *Service) Signup(ctx context.Context, params SignupParams) (string, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return "", invalid("username", "Username is required")
	}
	fullName := strings.TrimSpace(params.FullName)
	if fullName == "" {
		return "", invalid("fullName", "Full name is required")
	}
	address, err := normalizeEmail(params.Email)
	if err != nil {
		return "", err
	}
	if err := s.requireInstitutional(address); err != nil {
		return "", err
	}
	if err := s.passwords.Validate("password", params.Password); err != nil {
		return "", err
	}

	_, err = s.store.GetUserByEmail(ctx, address)
	if err == nil {
		return "", &ConflictError{Message: "User already exists with this email"}
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("failed to check existing user: %w", err)
	}

	_, err = s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return "", &ConflictError{Message: "Username is already taken"}
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("failed to check existing username: %w", err)
	}

	passwordHash, err := s.hash(params.Password)
	if err != nil {
		return "", err
	}

	if _, err := s.store.CreatePendingUser(ctx, models.NewUser{
		Username:     username,
		FullName:     fullName,
		Email:        address,
		PasswordHash: passwordHash,
	}); err != nil {
		return "", fmt.Errorf("failed to create pending user: %w", err)
	}

	slog.Info("signup_started", "email", address, "username", username)

	if err := s.issueCode(ctx, email.PurposeSignup, address); err != nil {
		return "", err
	}

	return address, nil
}

// Login authenticates a user and returns the user if successful
func (s *Service) Login(ctx context.Context, rawEmail, password string) (*models.User, error) {
	address, err := normalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, invalid("password", "Password is required")
	}

	user, err := s.store.GetUserByEmail(ctx, address)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Constant-time: always perform bcrypt comparison to prevent timing attacks
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			slog.Warn("login_failed", "email", address, "reason", "user_not_found")
			return nil, invalidCredentials()
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Warn("login_failed", "email", address, "reason", "invalid_password")
		return nil, invalidCredentials()
	}

	if user.IsAdmin() {
		slog.Info("login_success", "user_id", user.ID, "email", address, "role", user.Role)
		return user, nil
	}

	if !s.institutional(address) {
		slog.Warn("login_failed", "email", address, "reason", "foreign_domain")
		return nil, &AuthenticationError{
			Message:   fmt.Sprintf("Only students with @%s emails can access this portal", s.domain),
			Forbidden: true,
		}
	}

	if !user.IsVerified {
		slog.Warn("login_failed", "email", address, "reason", "unverified")
		return nil, &AuthenticationError{
			Message:              "Please verify your email before logging in",
			Email:                user.Email,
			Forbidden:            true,
			RequiresVerification: true,
		}
	}

	slog.Info("login_success", "user_id", user.ID, "email", address, "role", user.Role)
	return user, nil
}

// VerifyResult is the outcome of a successful passcode check. Exactly one
// of Registered and CanResetPassword is set.
type VerifyResult struct {
	Registered       *models.User
	Email            string
	CanResetPassword bool
}

// VerifyOTP checks a passcode. With a pending signup for the address the
// signup is completed and the code consumed. Otherwise the code is left
// unused for the following ResetPassword call.
func (s *Service) VerifyOTP(ctx context.Context, rawEmail, rawCode string) (*VerifyResult, error) {
	address, err := normalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	code, err := normalizeCode(rawCode)
	if err != nil {
		return nil, err
	}

	otpCode, err := s.store.GetValidOtpCode(ctx, address, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("otp_rejected", "email", address)
			return nil, invalid("code", "Invalid or expired verification code")
		}
		return nil, fmt.Errorf("failed to look up code: %w", err)
	}

	user, err := s.store.GetUserByEmail(ctx, address)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	pending, err := s.store.GetPendingUserByEmail(ctx, address)
	switch {
	case err == nil && user == nil:
		user, err := s.completeSignup(ctx, pending, otpCode.ID)
		if err != nil {
			return nil, err
		}
		return &VerifyResult{Registered: user, Email: user.Email}, nil
	case err == nil:
		// The address already has an account; the signup can never complete.
		if err := s.store.DeletePendingUser(ctx, address); err != nil {
			return nil, fmt.Errorf("failed to delete pending user: %w", err)
		}
		slog.Warn("stale_pending_user_removed", "email", address, "username", pending.Username)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to look up pending user: %w", err)
	}

	if user == nil {
		return nil, &NotFoundError{Message: "User not found"}
	}

	slog.Info("otp_verified", "email", address, "purpose", "reset")
	return &VerifyResult{Email: user.Email, CanResetPassword: true}, nil
}

// completeSignup promotes pending to a verified user. The steps are
// persisted one by one; a failure part way leaves the earlier steps in place.
// The code is consumed only once the account exists, so a signup that lost
// its username to another verification keeps its code.
func (s *Service) completeSignup(ctx context.Context, pending *models.PendingUser, otpID int64) (*models.User, error) {
	user, err := s.store.CreateUser(ctx, pending.NewUser())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			slog.Warn("signup_conflict", "email", pending.Email, "username", pending.Username)
			return nil, &ConflictError{Message: "Username is already taken"}
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.store.MarkOtpAsUsed(ctx, otpID); err != nil {
		return nil, fmt.Errorf("failed to consume code: %w", err)
	}

	user, err = s.store.UpdateUser(ctx, user.ID, models.UserUpdate{IsVerified: lo.ToPtr(true)})
	if err != nil {
		return nil, fmt.Errorf("failed to verify user: %w", err)
	}

	if err := s.store.DeletePendingUser(ctx, pending.Email); err != nil {
		return nil, fmt.Errorf("failed to delete pending user: %w", err)
	}

	slog.Info("signup_completed", "user_id", user.ID, "email", user.Email, "username", user.Username)
	return user, nil
}

// ForgotPassword sends a reset code to an existing account.
func (s *Service) ForgotPassword(ctx context.Context, rawEmail string) (string, error) {
	address, err := normalizeEmail(rawEmail)
	if err != nil {
		return "", err
	}
	if err := s.requireInstitutional(address); err != nil {
		return "", err
	}

	if _, err := s.store.GetUserByEmail(ctx, address); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", &NotFoundError{Message: "No account found with this email address"}
		}
		return "", fmt.Errorf("failed to get user: %w", err)
	}

	if err := s.issueCode(ctx, email.PurposeReset, address); err != nil {
		return "", err
	}
	return address, nil
}

// ResendOTP sends another code to an address with an account or a pending
// signup. Earlier codes stay valid.
func (s *Service) ResendOTP(ctx context.Context, rawEmail string) (string, error) {
	address, err := normalizeEmail(rawEmail)
	if err != nil {
		return "", err
	}
	if err := s.requireInstitutional(address); err != nil {
		return "", err
	}

	_, err = s.store.GetUserByEmail(ctx, address)
	if errors.Is(err, store.ErrNotFound) {
		_, err = s.store.GetPendingUserByEmail(ctx, address)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", &NotFoundError{Message: "No account found with this email address"}
		}
		return "", fmt.Errorf("failed to look up account: %w", err)
	}

	if err := s.issueCode(ctx, email.PurposeResend, address); err != nil {
		return "", err
	}
	return address, nil
}

// ResetPasswordParams holds the parameters for a password reset
type ResetPasswordParams struct {
	Email           string
	Code            string
	NewPassword     string
	ConfirmPassword string
}

// ResetPassword sets a new password. The code must be unexpired but may
// already have been used.
func (s *Service) ResetPassword(ctx context.Context, params ResetPasswordParams) error {
	address, err := normalizeEmail(params.Email)
	if err != nil {
		return err
	}
	code, err := normalizeCode(params.Code)
	if err != nil {
		return err
	}
	if err := s.passwords.Validate("newPassword", params.NewPassword); err != nil {
		return err
	}
	if err := s.passwords.Validate("confirmPassword", params.ConfirmPassword); err != nil {
		return err
	}
	if params.NewPassword != params.ConfirmPassword {
		return invalid("confirmPassword", "Passwords don't match")
	}

	otpCode, err := s.store.CheckOtpCodeValidity(ctx, address, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("otp_rejected", "email", address, "purpose", "reset")
			return invalid("code", "Invalid or expired verification code")
		}
		return fmt.Errorf("failed to look up code: %w", err)
	}

	user, err := s.store.GetUserByEmail(ctx, address)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Message: "User not found"}
		}
		return fmt.Errorf("failed to get user: %w", err)
	}

	passwordHash, err := s.hash(params.NewPassword)
	if err != nil {
		return err
	}
	if _, err := s.store.UpdateUser(ctx, user.ID, models.UserUpdate{PasswordHash: &passwordHash}); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if err := s.store.MarkOtpAsUsed(ctx, otpCode.ID); err != nil {
		return fmt.Errorf("failed to consume code: %w", err)
	}

	slog.Info("password_reset", "user_id", user.ID, "email", address)
	return nil
}

// SetupProfile stores the degree program and subjects of a user.
func (s *Service) SetupProfile(ctx context.Context, userID int64, degreeProgram string, subjects []string) (*models.User, error) {
	degreeProgram = strings.TrimSpace(degreeProgram)
	subjects = lo.Compact(lo.Map(subjects, func(subject string, _ int) string {
		return strings.TrimSpace(subject)
	}))
	if degreeProgram == "" || len(subjects) == 0 {
		return nil, invalid("subjects", "Degree program and at least one subject are required")
	}

	user, err := s.store.UpdateUserProfile(ctx, userID, degreeProgram, subjects)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Message: "User not found"}
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	slog.Info("profile_updated", "user_id", user.ID, "degree_program", degreeProgram, "subjects", len(subjects))
	return user, nil
}

// CurrentUser returns the account behind an authenticated session.
func (s *Service) CurrentUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Message: "User not found"}
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
