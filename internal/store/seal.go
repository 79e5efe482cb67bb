// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package store

import (
	"fmt"

	"codeberg.org/oliverandrich/student-portal/internal/cryptox"
)

// SealedEmail is the at-rest form of an email address: the ciphertext plus
// a blind index used for equality lookups.
type SealedEmail struct {
	Encrypted string
	Index     string
}

// Sealer applies field encryption to email addresses. Every engine uses it,
// so no engine ever persists a plaintext address.
type Sealer struct {
	cipher *cryptox.Cipher
}

// NewSealer wraps c.
func NewSealer(c *cryptox.Cipher) *Sealer {
	return &Sealer{cipher: c}
}

// Seal encrypts email and computes its lookup index.
func (s *Sealer) Seal(email string) (SealedEmail, error) {
	encrypted, err := s.cipher.Encrypt(email)
	if err != nil {
		return SealedEmail{}, fmt.Errorf("failed to encrypt email: %w", err)
	}
	return SealedEmail{Encrypted: encrypted, Index: s.cipher.BlindIndex(email)}, nil
}

// Index returns the lookup index of email.
func (s *Sealer) Index(email string) string {
	return s.cipher.BlindIndex(email)
}

// Open decrypts a sealed email.
func (s *Sealer) Open(encrypted string) (string, error) {
	email, err := s.cipher.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt email: %w", err)
	}
	return email, nil
}
