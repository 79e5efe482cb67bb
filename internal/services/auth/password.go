// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted at signup and reset.
const MinPasswordLength = 8

// PasswordValidator checks new passwords against the password policy.
type PasswordValidator struct {
	MinLength int
	MaxLength int
}

// DefaultPasswordValidator returns the portal's password policy. bcrypt
// ignores everything past 72 bytes, so longer passwords are rejected.
func DefaultPasswordValidator() *PasswordValidator {
	return &PasswordValidator{
		MinLength: MinPasswordLength,
		MaxLength: 72,
	}
}

// Validate returns a *ValidationError for field if password violates the policy.
func (v *PasswordValidator) Validate(field, password string) error {
	if utf8.RuneCountInString(password) < v.MinLength {
		return invalid(field, fmt.Sprintf("Password must be at least %d characters", v.MinLength))
	}
	if v.MaxLength > 0 && len(password) > v.MaxLength {
		return invalid(field, fmt.Sprintf("Password must be at most %d bytes", v.MaxLength))
	}
	return nil
}

// HashPassword validates password against the default policy and returns
// its bcrypt hash at cost. A zero cost means bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if err := DefaultPasswordValidator().Validate("password", password); err != nil {
		return "", err
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
