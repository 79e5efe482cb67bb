// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// OtpCode is a six digit one-time passcode issued to an email address.
type OtpCode struct { //nolint:govet // fieldalignment: readability over optimization
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsUsed    bool      `json:"isUsed"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewOtpCode holds the fields of a passcode about to be stored.
type NewOtpCode struct {
	Email     string
	Code      string
	ExpiresAt time.Time
}

// Expired reports whether the code is past its expiry at now.
func (o *OtpCode) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// Matches reports whether the code belongs to email and equals code.
func (o *OtpCode) Matches(email, code string) bool {
	return o.Email == email && o.Code == code
}

// Valid reports whether the code is unused and unexpired at now.
func (o *OtpCode) Valid(now time.Time) bool {
	return !o.IsUsed && !o.Expired(now)
}
