// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package filestore

import (
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/models"
)

// On-disk shapes. Email is written only as ciphertext plus blind index; a
// plaintext Email is accepted on load for files written before encryption.

type userRecord struct { //nolint:govet // fieldalignment: readability over optimization
	ID             int64       `json:"id"`
	Username       string      `json:"username"`
	FullName       string      `json:"fullName"`
	Email          string      `json:"email,omitempty"`
	EmailEncrypted string      `json:"email_encrypted,omitempty"`
	EmailIndex     string      `json:"email_index,omitempty"`
	Password       string      `json:"password"`
	Role           models.Role `json:"role"`
	IsVerified     bool        `json:"isVerified"`
	DegreeProgram  *string     `json:"degreeProgram"`
	Subjects       []string    `json:"subjects"`
	CreatedAt      time.Time   `json:"createdAt"`
}

type pendingUserRecord struct { //nolint:govet // fieldalignment: readability over optimization
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	FullName       string    `json:"fullName"`
	Email          string    `json:"email,omitempty"`
	EmailEncrypted string    `json:"email_encrypted,omitempty"`
	EmailIndex     string    `json:"email_index,omitempty"`
	Password       string    `json:"password"`
	CreatedAt      time.Time `json:"createdAt"`
}

type otpRecord struct { //nolint:govet // fieldalignment: readability over optimization
	ID             int64     `json:"id"`
	Email          string    `json:"email,omitempty"`
	EmailEncrypted string    `json:"email_encrypted,omitempty"`
	EmailIndex     string    `json:"email_index,omitempty"`
	Code           string    `json:"code"`
	ExpiresAt      time.Time `json:"expiresAt"`
	IsUsed         bool      `json:"isUsed"`
	CreatedAt      time.Time `json:"createdAt"`
}
