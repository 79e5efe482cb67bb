// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package otp issues six digit one-time passcodes.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/models"
)

const (
	// CodeLength is the number of digits in a passcode.
	CodeLength = 6
	// DefaultTTL is how long a passcode stays valid.
	DefaultTTL = 10 * time.Minute

	minCode = 100000
	maxCode = 999999
)

// Generator creates passcodes with a fixed lifetime.
type Generator struct {
	now func() time.Time
	ttl time.Duration
}

// NewGenerator creates a generator. A zero ttl means DefaultTTL and a nil
// now means time.Now.
func NewGenerator(ttl time.Duration, now func() time.Time) *Generator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now, ttl: ttl}
}

// TTL returns the passcode lifetime.
func (g *Generator) TTL() time.Duration {
	return g.ttl
}

// Issue returns a fresh passcode for email, expiring TTL from now.
func (g *Generator) Issue(email string) (models.NewOtpCode, error) {
	code, err := GenerateCode()
	if err != nil {
		return models.NewOtpCode{}, err
	}
	return models.NewOtpCode{
		Email:     email,
		Code:      code,
		ExpiresAt: g.now().Add(g.ttl),
	}, nil
}

// GenerateCode returns a uniformly random code in [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxCode-minCode+1))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%d", minCode+n.Int64()), nil
}

// NormalizeCode strips whitespace a user may have pasted along with the code.
func NormalizeCode(code string) string {
	return strings.Join(strings.Fields(code), "")
}

// WellFormed reports whether code consists of exactly CodeLength digits.
func WellFormed(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
