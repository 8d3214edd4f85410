package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"chat-broker/internal/observability"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestLogger attaches a request-scoped logger carrying chi's request id
// and logs one line per request. Place it after chimw.RequestID.
func RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()
			if id := chimw.GetReqID(ctx); id != "" {
				ctx = observability.WithRequestID(ctx, id)
				w.Header().Set("X-Request-ID", id)
			}
			r = r.WithContext(ctx)

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			observability.FromContext(ctx).Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.statusCode),
				slog.Duration("duration", time.Since(start)))
		})
	}
}
