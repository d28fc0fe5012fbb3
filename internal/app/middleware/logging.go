// Package middleware carries the HTTP middleware wrapped around every
// route: request ID propagation and access logging, with quieter log
// levels for the high-volume proxy path than for status endpoints.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/arvela/resily/internal/logger"
	"github.com/arvela/resily/internal/util"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	LoggerKey    contextKey = "logger"

	proxyPathPrefix = "/proxy"
)

// IsProxyRequest reports whether path is one of the forwarded proxy
// routes, so request logging can be quieter for them (the pipeline logs
// its own line for rejections and upstream failures).
func IsProxyRequest(path string) bool {
	return strings.HasPrefix(path, proxyPathPrefix)
}

// responseWriter wraps http.ResponseWriter to capture status and size for
// the access log line.
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += int64(size)
	return size, err
}

func (rw *responseWriter) WriteHeader(s int) {
	rw.status = s
	rw.ResponseWriter.WriteHeader(s)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// GetRequestID retrieves the request ID stashed on the context by
// EnhancedLoggingMiddleware.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// EnhancedLoggingMiddleware stamps every request with an ID, logs its
// start and completion, and tags the response with X-Request-ID.
//
// trustProxyHeaders/trustedCIDRs resolve the "remote_addr" log field
// through util.GetClientIP rather than the raw socket address, so access
// logs attribute requests to the real client when the gateway sits behind
// a trusted load balancer. This is purely for log attribution: it is
// independent of the client identity the rate limiter buckets on
// (proxy.Pipeline.deriveIdentity), which always follows spec.md §3's
// unconditional X-Forwarded-For rule.
func EnhancedLoggingMiddleware(styledLogger *logger.StyledLogger, trustProxyHeaders bool, trustedCIDRs []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = util.GenerateRequestID()
			}

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			requestLogger := styledLogger.WithRequestID(requestID)
			ctx = context.WithValue(ctx, LoggerKey, requestLogger)

			w.Header().Set("X-Request-ID", requestID)

			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			clientIP := util.GetClientIP(r, trustProxyHeaders, trustedCIDRs)

			logFields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", clientIP,
				"request_bytes", requestSize,
				"request_size_formatted", formatBytes(requestSize),
			}

			if IsProxyRequest(r.URL.Path) {
				requestLogger.Debug("request started", logFields...)
			} else {
				requestLogger.Info("request started", logFields...)
			}

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			duration := time.Since(start)
			completionFields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration_ms", duration.Milliseconds(),
				"request_bytes", requestSize,
				"response_bytes", wrapped.size,
				"size_flow", fmt.Sprintf("%s -> %s", formatBytes(requestSize), formatBytes(wrapped.size)),
			}

			if IsProxyRequest(r.URL.Path) {
				requestLogger.Debug("request completed", completionFields...)
			} else {
				requestLogger.Info("request completed", completionFields...)
			}
		})
	}
}

// AccessLoggingMiddleware emits a single structured access-log line per
// request, independent of EnhancedLoggingMiddleware's start/stop pair, for
// deployments that pipe logs to a file/SIEM and want one line per hop.
func AccessLoggingMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := GetRequestID(r.Context())
			if requestID == "" {
				requestID = util.GenerateRequestID()
				r = r.WithContext(context.WithValue(r.Context(), RequestIDKey, requestID))
			}

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}

			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info("access log",
				"timestamp", start.Format(time.RFC3339),
				"request_id", requestID,
				"remote_addr", r.RemoteAddr,
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"status", wrapped.status,
				"request_bytes", requestSize,
				"response_bytes", wrapped.size,
				"duration_ms", time.Since(start).Milliseconds(),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	const suffixes = "KMGTPE"

	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	if exp >= len(suffixes) {
		exp = len(suffixes) - 1
	}
	size := float64(bytes) / float64(div)
	return fmt.Sprintf("%.1f%cB", size, suffixes[exp])
}
