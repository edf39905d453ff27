package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// requestIdentity is filled by AuthMiddleware for the access log line.
type requestIdentity struct {
	userID string
	role   string
}

const identityKey contextKey = "request_identity"

// RequestLogger writes one access log line per request. The query string is never logged.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			identity := &requestIdentity{}
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			}

			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				attrs = append(attrs, "request_id", reqID)
			}
			if identity.userID != "" {
				attrs = append(attrs, "user_id", identity.userID, "role", identity.role)
			}
			if ip := clientIP(r); ip != "" {
				attrs = append(attrs, "ip", ip)
			}
			if ua := r.UserAgent(); ua != "" {
				attrs = append(attrs, "user_agent", ua)
			}

			switch {
			case ww.Status() >= 500:
				logger.Error("http_request", attrs...)
			case ww.Status() >= 400:
				logger.Warn("http_request", attrs...)
			default:
				logger.Info("http_request", attrs...)
			}
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
