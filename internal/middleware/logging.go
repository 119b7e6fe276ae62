package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"capture-library/internal/logging"
)

// responseWriter captures the status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// LoggingConfig holds configuration for the logging middleware
type LoggingConfig struct {
	SkipPaths       []string
	LogHealthChecks bool
}

// DefaultLoggingConfig skips the metrics endpoint and logs everything else.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:       []string{"/metrics"},
		LogHealthChecks: true,
	}
}

// Logger returns HTTP logging middleware using W3C Extended Log Format.
// Lines go to the debug level for 2xx/3xx and to warn for errors.
func Logger(config LoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSkip(r.URL.Path, config) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			line := formatW3C(time.Now().UTC(), r, wrapped, time.Since(start))
			if wrapped.statusCode >= http.StatusBadRequest {
				logging.Warn("%s", line)
			} else {
				logging.Debug("%s", line)
			}
		})
	}
}

// formatW3C renders: date time c-ip cs-method cs-uri-stem cs-uri-query
// sc-status sc-bytes time-taken cs(User-Agent)
func formatW3C(now time.Time, r *http.Request, rw *responseWriter, d time.Duration) string {
	uriQuery := sanitizeLogField(r.URL.RawQuery)
	if uriQuery == "" {
		uriQuery = "-"
	}
	userAgent := sanitizeLogField(r.Header.Get("User-Agent"))
	if userAgent == "" {
		userAgent = "-"
	} else {
		userAgent = escapeW3CField(userAgent)
	}

	return fmt.Sprintf("%s %s %s %s %s %s %d %d %d %s",
		now.Format("2006-01-02"),
		now.Format("15:04:05"),
		sanitizeLogField(clientIP(r)),
		sanitizeLogField(r.Method),
		sanitizeLogField(r.URL.Path),
		uriQuery,
		rw.statusCode,
		rw.bytesWritten,
		d.Milliseconds(),
		userAgent,
	)
}

// sanitizeLogField removes control characters that could forge log lines.
func sanitizeLogField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r':
			b.WriteRune(' ')
		case r == '\x1b' || r == '\x00':
			continue
		case r < 0x20 && r != '\t':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func shouldSkip(path string, config LoggingConfig) bool {
	for _, skipPath := range config.SkipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return !config.LogHealthChecks && path == "/health"
}

// clientIP is the peer address without port. Forwarding headers are ignored
// since the API only listens on loopback.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return strings.Trim(ip, "[]")
}

// escapeW3CField quotes values holding spaces or quotes.
func escapeW3CField(s string) string {
	if strings.ContainsAny(s, " \t\"") {
		return "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\""
	}
	return s
}
