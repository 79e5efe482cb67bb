// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package cryptox encrypts personal fields at rest.
//
// A single 32-byte master key is provisioned out-of-band as base64. Two
// sub-keys are derived from it with HKDF: one for AES-256-GCM encryption and
// one for HMAC blind indexes, so encrypted fields can still be looked up by
// equality.
//
// Decrypt also reads the older AES-256-CBC form (16-byte IV, master key used
// directly). It is never written.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the required length of the decoded master key.
const KeySize = 32

const separator = ":"

var (
	ErrKeyMissing = errors.New("encryption key not set")
	ErrKeyLength  = errors.New("encryption key must be 32 bytes")
	ErrMalformed  = errors.New("malformed ciphertext")
	// ErrAuthentication means a well-formed ciphertext did not decrypt,
	// usually because it was written under a different key.
	ErrAuthentication = errors.New("ciphertext authentication failed")
)

// Cipher encrypts and decrypts short strings such as email addresses.
type Cipher struct {
	aead     cipher.AEAD
	legacy   cipher.Block
	indexKey []byte
}

// New builds a Cipher from a base64 encoded 32-byte key.
func New(encodedKey string) (*Cipher, error) {
	if strings.TrimSpace(encodedKey) == "" {
		return nil, ErrKeyMissing
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrKeyLength
	}

	return NewFromKey(key)
}

// NewFromKey builds a Cipher from a raw 32-byte key.
func NewFromKey(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeyLength
	}

	encKey, err := deriveKey(key, "field-encryption")
	if err != nil {
		return nil, err
	}
	indexKey, err := deriveKey(key, "blind-index")
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	legacy, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return &Cipher{aead: aead, legacy: legacy, indexKey: indexKey}, nil
}

// GenerateKey returns a fresh base64 encoded master key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func deriveKey(master []byte, info string) ([]byte, error) {
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", info, err)
	}
	return out, nil
}

// Encrypt seals plaintext under a fresh random nonce.
// The result has the form hex(nonce):hex(ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)

	return hex.EncodeToString(nonce) + separator + hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Values in the legacy CBC form are accepted too.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	nonceHex, sealedHex, ok := strings.Cut(encoded, separator)
	if !ok {
		return "", ErrMalformed
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return "", ErrMalformed
	}
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil || len(sealed) == 0 {
		return "", ErrMalformed
	}

	switch len(nonce) {
	case c.aead.NonceSize():
		plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
		if err != nil {
			return "", ErrAuthentication
		}
		return string(plaintext), nil
	case aes.BlockSize:
		return c.decryptLegacy(nonce, sealed)
	default:
		return "", ErrMalformed
	}
}

func (c *Cipher) decryptLegacy(iv, sealed []byte) (string, error) {
	if len(sealed)%aes.BlockSize != 0 {
		return "", ErrMalformed
	}

	out := make([]byte, len(sealed))
	cipher.NewCBCDecrypter(c.legacy, iv).CryptBlocks(out, sealed)

	// PKCS#7 padding; a wrong key almost never leaves valid padding and text.
	pad := int(out[len(out)-1])
	if pad == 0 || pad > aes.BlockSize {
		return "", ErrAuthentication
	}
	for _, b := range out[len(out)-pad:] {
		if int(b) != pad {
			return "", ErrAuthentication
		}
	}
	plaintext := out[:len(out)-pad]
	if !utf8.Valid(plaintext) {
		return "", ErrAuthentication
	}
	return string(plaintext), nil
}

// BlindIndex returns a deterministic keyed digest of s for equality lookups.
func (c *Cipher) BlindIndex(s string) string {
	mac := hmac.New(sha256.New, c.indexKey)
	mac.Write([]byte(s))
	return hex.EncodeToString(mac.Sum(nil))
}

// IsEncrypted reports whether s has the hex(nonce):hex(ciphertext) shape.
func IsEncrypted(s string) bool {
	nonceHex, sealedHex, ok := strings.Cut(s, separator)
	if !ok || nonceHex == "" || sealedHex == "" {
		return false
	}
	_, err1 := hex.DecodeString(nonceHex)
	_, err2 := hex.DecodeString(sealedHex)
	return err1 == nil && err2 == nil
}

// IsLegacy reports whether s is in the CBC form that Encrypt no longer
// produces.
func IsLegacy(s string) bool {
	ivHex, _, ok := strings.Cut(s, separator)
	return ok && IsEncrypted(s) && len(ivHex) == 2*aes.BlockSize
}
