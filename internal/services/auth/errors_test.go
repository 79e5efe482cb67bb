// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth_test

import (
	"errors"
	"fmt"
	"testing"

	"codeberg.org/oliverandrich/student-portal/internal/services/auth"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want auth.Kind
	}{
		{"nil", nil, auth.KindInternal},
		{"plain", errors.New("boom"), auth.KindInternal},
		{"validation", &auth.ValidationError{Field: "email", Message: "Invalid email"}, auth.KindValidation},
		{"credentials", &auth.AuthenticationError{Message: "Invalid email or password"}, auth.KindUnauthorized},
		{"forbidden", &auth.AuthenticationError{Message: "no", Forbidden: true}, auth.KindForbidden},
		{"not found", &auth.NotFoundError{Message: "User not found"}, auth.KindNotFound},
		{"conflict", &auth.ConflictError{Message: "Username is already taken"}, auth.KindConflict},
		{"rate limited", auth.ErrRateLimited, auth.KindRateLimited},
		{"wrapped", fmt.Errorf("signup: %w", &auth.ConflictError{Message: "dup"}), auth.KindConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.Classify(tt.err))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "validation", auth.KindValidation.String())
	assert.Equal(t, "rate_limited", auth.KindRateLimited.String())
	assert.Equal(t, "internal", auth.KindInternal.String())
}
