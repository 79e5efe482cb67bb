// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"time"
)

type User struct { //nolint:govet // fieldalignment not critical for models
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	FullName      string    `json:"fullName"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Role          Role      `json:"role"`
	IsVerified    bool      `json:"isVerified"`
	DegreeProgram *string   `json:"degreeProgram"`
	Subjects      []string  `json:"subjects"`
	CreatedAt     time.Time `json:"createdAt"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// NewUser holds the identity fields of an account about to be created.
// PasswordHash must already be hashed.
type NewUser struct {
	Username     string
	FullName     string
	Email        string
	PasswordHash string
}

// UserUpdate is a partial update; nil fields are left unchanged.
type UserUpdate struct {
	FullName      *string
	PasswordHash  *string
	IsVerified    *bool
	DegreeProgram *string
	Subjects      *[]string
}

// Apply merges the set fields into u.
func (p UserUpdate) Apply(u *User) {
	if p.FullName != nil {
		u.FullName = *p.FullName
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.IsVerified != nil {
		u.IsVerified = *p.IsVerified
	}
	if p.DegreeProgram != nil {
		program := *p.DegreeProgram
		u.DegreeProgram = &program
	}
	if p.Subjects != nil {
		u.Subjects = append([]string(nil), (*p.Subjects)...)
	}
	// Admins are always verified.
	if u.Role == RoleAdmin {
		u.IsVerified = true
	}
}
