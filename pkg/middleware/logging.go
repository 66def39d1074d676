package middleware

import (
	"chatrelay/pkg/logging"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// RequestLogger creates a middleware that logs requests and injects the logger.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}

			// child logger with request details
			reqLog := log.With(
				logging.RequestID(requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				reqLog = reqLog.With(logging.TraceID(sc.TraceID().String()))
			}

			ctx := logging.WithContext(r.Context(), reqLog)
			w.Header().Set("X-Request-ID", requestID)

			reqLog.DebugContext(ctx, "request started")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
