// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// PendingUser is a signup awaiting passcode confirmation.
type PendingUser struct { //nolint:govet // fieldalignment: readability over optimization
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"fullName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewUser returns the identity fields for promotion to a User.
func (p *PendingUser) NewUser() NewUser {
	return NewUser{
		Username:     p.Username,
		FullName:     p.FullName,
		Email:        p.Email,
		PasswordHash: p.PasswordHash,
	}
}
