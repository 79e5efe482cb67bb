// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// StorageStatus reports which storage engine serves requests.
type StorageStatus interface {
	Connected() bool
}

// Handlers contains the handlers that do not belong to a feature.
type Handlers struct {
	storage StorageStatus
}

// New creates a new Handlers instance. storage may be nil when no document
// store is configured.
func New(storage StorageStatus) *Handlers {
	return &Handlers{storage: storage}
}

// Health returns the health status.
func (h *Handlers) Health(c echo.Context) error {
	resp := map[string]string{
		"status":  "ok",
		"storage": "local",
	}
	if h.storage != nil {
		if h.storage.Connected() {
			resp["storage"] = "mongodb"
		} else {
			resp["storage"] = "fallback"
		}
	}
	return c.JSON(http.StatusOK, resp)
}
