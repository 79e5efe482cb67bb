// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// StripTrailingSlash redirects GET requests with a trailing slash to the
// path without it. Other methods have the slash removed in place, so API
// clients posting to /api/auth/login/ still reach the handler. Register it
// with Echo.Pre.
func StripTrailingSlash() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if path == "/" || !strings.HasSuffix(path, "/") {
				return next(c)
			}

			// A leading "//" would make the Location protocol-relative.
			trimmed := "/" + strings.Trim(path, "/")

			if req.Method == http.MethodGet || req.Method == http.MethodHead {
				target := trimmed
				if req.URL.RawQuery != "" {
					target += "?" + req.URL.RawQuery
				}
				return c.Redirect(http.StatusMovedPermanently, target)
			}

			req.URL.Path = trimmed
			req.URL.RawPath = ""
			return next(c)
		}
	}
}
