// Package shield holds the HTTP middleware of the seeder status server.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.StatusStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// StatusStack returns the middleware for a read-only JSON endpoint, in order:
// HeadToGet, ReadOnly, SecurityHeaders, RequestID.
func StatusStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		ReadOnly,
		SecurityHeaders(APIHeaders()),
		RequestID(logger),
	}
}
