// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package testutil provides test helpers and fixtures.
package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/cryptox"
	"codeberg.org/oliverandrich/student-portal/internal/services/email"
	"codeberg.org/oliverandrich/student-portal/internal/store"
	"codeberg.org/oliverandrich/student-portal/internal/store/filestore"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// NewTestCipher creates a cipher under a fresh random key.
func NewTestCipher(t *testing.T) *cryptox.Cipher {
	t.Helper()
	key, err := cryptox.GenerateKey()
	require.NoError(t, err)
	c, err := cryptox.New(key)
	require.NoError(t, err)
	return c
}

// NewTestSealer creates an email sealer under a fresh random key.
func NewTestSealer(t *testing.T) *store.Sealer {
	t.Helper()
	return store.NewSealer(NewTestCipher(t))
}

// NewTestStore creates a file store in a temporary directory. A nil now
// means time.Now.
func NewTestStore(t *testing.T, now func() time.Time) *filestore.Store {
	t.Helper()
	s, err := filestore.New(context.Background(), filestore.Options{
		Dir:    t.TempDir(),
		Sealer: NewTestSealer(t),
		Now:    now,
	})
	require.NoError(t, err)
	return s
}

// HashPassword hashes password at the minimum bcrypt cost.
func HashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

// SentCode is one passcode captured by a RecordingNotifier.
type SentCode struct {
	Purpose email.Purpose
	To      string
	Code    string
}

// RecordingNotifier captures passcodes instead of delivering them. If Err
// is set, every call records the code and then fails with Err.
type RecordingNotifier struct {
	Err  error
	sent []SentCode
	mu   sync.Mutex
}

// SendCode records the call.
func (r *RecordingNotifier) SendCode(_ context.Context, purpose email.Purpose, to, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, SentCode{Purpose: purpose, To: to, Code: code})
	return r.Err
}

// Sent returns every recorded call in order.
func (r *RecordingNotifier) Sent() []SentCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentCode(nil), r.sent...)
}

// LastCode returns the most recent code sent to address, or "".
func (r *RecordingNotifier) LastCode(address string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].To == address {
			return r.sent[i].Code
		}
	}
	return ""
}

// NewEchoContext creates an Echo context for handler tests.
func NewEchoContext(e *echo.Echo, method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

// NewRequest creates an HTTP request for testing.
func NewRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}
