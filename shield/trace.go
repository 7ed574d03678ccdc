package shield

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/hazyhaar/seeder/idgen"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// RequestID reuses a well-formed incoming X-Request-ID or generates one,
// echoes it in the response and stores a request-scoped logger in the
// context. A nil logger means slog.Default().
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	newID := idgen.Prefixed("req_", idgen.UUIDv7())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if !validRequestID.MatchString(id) {
				id = newID()
			}
			w.Header().Set(RequestIDHeader, id)

			base := logger
			if base == nil {
				base = slog.Default()
			}
			l := base.With("request_id", id, "method", r.Method, "path", r.URL.Path)
			l.Debug("request", "remote_addr", r.RemoteAddr)

			ctx := context.WithValue(r.Context(), LoggerKey, l)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger returns the request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
