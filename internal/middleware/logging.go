package middleware

import (
	"net/http"
	"time"

	logpkg "github.com/benvon/portal-identity/internal/logger"
	"github.com/benvon/portal-identity/internal/request"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDHeader carries the correlation ID of a request. A caller supplied
// value is kept; otherwise one is generated.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 64

// Logging writes one http_request entry per request: info for success,
// warn for client errors and error for server errors.
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := logpkg.SanitizeString(r.Header.Get(RequestIDHeader), maxRequestIDLength)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
				zap.Int("status_code", wrapped.statusCode),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			}
			if portal := request.PortalFromContext(r); portal != "" {
				fields = append(fields, zap.String("portal_id", logpkg.SanitizeID(portal)))
			}
			if ce := logger.Check(statusLevel(wrapped.statusCode), "http_request"); ce != nil {
				ce.Write(fields...)
			}
		})
	}
}

func statusLevel(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
