package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/dischargedx/idgen"
	"github.com/hazyhaar/dischargedx/kit"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

var newRequestID = idgen.Prefixed("req_", idgen.Default)

// RequestID tags each request with an id (the caller's X-Request-ID when
// present), stores it under kit.RequestIDKey, echoes it in the response and
// attaches a per-request logger under LoggerKey.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = newRequestID()
		}

		ctx := kit.WithTransport(kit.WithRequestID(r.Context(), id), "http")
		w.Header().Set(RequestIDHeader, id)

		logger := slog.Default().With(
			"request", id,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Info("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
