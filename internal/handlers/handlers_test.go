// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"codeberg.org/oliverandrich/student-portal/internal/handlers"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storageStatus bool

func (s storageStatus) Connected() bool { return bool(s) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		storage handlers.StorageStatus
		want    string
	}{
		{"local engine", nil, `{"status":"ok","storage":"local"}`},
		{"mongodb", storageStatus(true), `{"status":"ok","storage":"mongodb"}`},
		{"fallback", storageStatus(false), `{"status":"ok","storage":"fallback"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.New(tt.storage)

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := h.Health(c)

			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}
}
