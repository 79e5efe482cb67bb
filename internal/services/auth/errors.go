// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"errors"
)

// Kind classifies a service failure for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// ErrRateLimited is returned when too many passcodes were requested for one
// address within the limiter window.
var ErrRateLimited = errors.New("too many verification codes requested")

// ValidationError reports malformed or out-of-policy input. Message is meant
// for the caller as-is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AuthenticationError reports a rejected login. Forbidden distinguishes an
// identified but disallowed account from a credential mismatch.
type AuthenticationError struct {
	Message              string
	Email                string
	Forbidden            bool
	RequiresVerification bool
}

func (e *AuthenticationError) Error() string {
	return e.Message
}

// NotFoundError reports an unknown account.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

// ConflictError reports a duplicate email or username.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func invalidCredentials() error {
	return &AuthenticationError{Message: "Invalid email or password"}
}

// Classify maps err to its Kind. Unknown errors are KindInternal.
func Classify(err error) Kind {
	var (
		validation *ValidationError
		authn      *AuthenticationError
		notFound   *NotFoundError
		conflict   *ConflictError
	)

	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &authn):
		if authn.Forbidden {
			return KindForbidden
		}
		return KindUnauthorized
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &conflict):
		return KindConflict
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}
