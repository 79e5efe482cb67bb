// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package store defines the record store shared by every storage engine.
package store

import (
	"context"
	"errors"

	"codeberg.org/oliverandrich/student-portal/internal/models"
)

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a user with the same email or username
	// already exists.
	ErrConflict = errors.New("record already exists")
)

// Store persists users, pending signups and one-time passcodes.
// Implementations must behave identically regardless of the backing engine.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// CreateUser stores a student account that is not yet verified. It
	// returns ErrConflict when the email or username is taken.
	CreateUser(ctx context.Context, data models.NewUser) (*models.User, error)
	// CreateAdminUser stores a verified admin account.
	CreateAdminUser(ctx context.Context, data models.NewUser) (*models.User, error)
	UpdateUser(ctx context.Context, id int64, update models.UserUpdate) (*models.User, error)
	UpdateUserProfile(ctx context.Context, id int64, degreeProgram string, subjects []string) (*models.User, error)

	// CreatePendingUser replaces any pending signup for the same email.
	CreatePendingUser(ctx context.Context, data models.NewUser) (*models.PendingUser, error)
	GetPendingUserByEmail(ctx context.Context, email string) (*models.PendingUser, error)
	DeletePendingUser(ctx context.Context, email string) error

	CreateOtpCode(ctx context.Context, data models.NewOtpCode) (*models.OtpCode, error)
	// GetValidOtpCode returns a matching code only if it is unused and unexpired.
	GetValidOtpCode(ctx context.Context, email, code string) (*models.OtpCode, error)
	// CheckOtpCodeValidity returns a matching unexpired code, used or not.
	CheckOtpCodeValidity(ctx context.Context, email, code string) (*models.OtpCode, error)
	ListOtpCodes(ctx context.Context, email string) ([]models.OtpCode, error)
	MarkOtpAsUsed(ctx context.Context, id int64) error
	// CleanupExpiredOtps deletes every code whose expiry has passed and
	// returns the number removed.
	CleanupExpiredOtps(ctx context.Context) (int64, error)

	Close(ctx context.Context) error
}

// ProfileUpdate builds the update applied by UpdateUserProfile.
func ProfileUpdate(degreeProgram string, subjects []string) models.UserUpdate {
	return models.UserUpdate{DegreeProgram: &degreeProgram, Subjects: &subjects}
}
