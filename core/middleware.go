package core

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// responseWriter wraps http.ResponseWriter to capture the status code a
// handler actually wrote, so LoggingMiddleware can log it after the fact.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// Flush implements http.Flusher so the wrapper is transparent to the SSE
// orchestrate stream, which flushes after every frame.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// RequestIDHeader is the header clients may set to correlate a request with
// its own tracing; if absent, LoggingMiddleware mints one.
const RequestIDHeader = "X-Request-Id"

// LoggingMiddleware assigns every request a correlation ID (reusing
// RequestIDHeader if the caller sent one, minting a uuid otherwise), echoes
// it back on the response, attaches it to the request's context via
// WithRequestID so every downstream log line — including the planner and
// bridge calls a single /api/orchestrate request fans out to — carries it,
// and logs the request once it completes.
//
// In development mode (devMode=true) every request is logged. In production
// mode only 4xx/5xx responses and slow requests (>1s) are, to keep steady
// traffic from the orchestrate/chat endpoints from drowning the log.
func LoggingMiddleware(logger Logger, devMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)
			r = r.WithContext(WithRequestID(r.Context(), requestID))

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			shouldLog := devMode ||
				wrapped.statusCode >= 400 ||
				duration > time.Second

			if !shouldLog || logger == nil {
				return
			}

			logData := map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.statusCode,
				"duration_ms": duration.Milliseconds(),
				"remote_addr": r.RemoteAddr,
				"user_agent":  r.UserAgent(),
			}
			if r.URL.RawQuery != "" {
				logData["query"] = r.URL.RawQuery
			}
			if r.ContentLength > 0 {
				logData["content_length"] = r.ContentLength
			}

			switch {
			case wrapped.statusCode >= 500:
				logger.ErrorWithContext(r.Context(), "HTTP request error", logData)
			case wrapped.statusCode >= 400:
				logger.WarnWithContext(r.Context(), "HTTP request client error", logData)
			case duration > time.Second:
				logger.WarnWithContext(r.Context(), "HTTP request slow", logData)
			default:
				logger.InfoWithContext(r.Context(), "HTTP request", logData)
			}
		})
	}
}
