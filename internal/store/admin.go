// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"codeberg.org/oliverandrich/student-portal/internal/models"
)

// BootstrapAdmin describes the admin account seeded on first start.
// PasswordHash is stored as-is and never re-hashed.
type BootstrapAdmin struct {
	Email        string
	Username     string
	FullName     string
	PasswordHash string
}

// EnsureAdmin creates the bootstrap admin unless a user with its email
// already exists. It returns true if an account was created.
func EnsureAdmin(ctx context.Context, s Store, admin BootstrapAdmin) (bool, error) {
	if admin.Email == "" {
		return false, nil
	}
	if admin.PasswordHash == "" {
		slog.Error("admin_seed_skipped",
			"email", admin.Email,
			"reason", "no password hash configured",
			"hint", "set ADMIN_PASSWORD_HASH or auth.admin.password_hash; generate one with the hash-password command")
		return false, nil
	}

	_, err := s.GetUserByEmail(ctx, admin.Email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("failed to look up admin: %w", err)
	}

	user, err := s.CreateAdminUser(ctx, models.NewUser{
		Username:     admin.Username,
		FullName:     admin.FullName,
		Email:        admin.Email,
		PasswordHash: admin.PasswordHash,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create admin: %w", err)
	}

	slog.Info("admin_seeded", "user_id", user.ID, "email", admin.Email)
	return true, nil
}
