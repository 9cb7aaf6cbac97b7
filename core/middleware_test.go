package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingMiddleware_MintsRequestIDWhenAbsent(t *testing.T) {
	var seenID string
	handler := LoggingMiddleware(&NoOpLogger{}, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = requestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	require.NotEmpty(t, seenID)
	assert.Equal(t, seenID, recorder.Header().Get(RequestIDHeader))
}

func TestLoggingMiddleware_EchoesCallerSuppliedRequestID(t *testing.T) {
	var seenID string
	handler := LoggingMiddleware(&NoOpLogger{}, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = requestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	req.Header.Set(RequestIDHeader, "caller-supplied-id")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	assert.Equal(t, "caller-supplied-id", seenID)
	assert.Equal(t, "caller-supplied-id", recorder.Header().Get(RequestIDHeader))
}

func TestLoggingMiddleware_CapturesWrittenStatusCode(t *testing.T) {
	var captured []map[string]interface{}
	logger := &capturingLogger{NoOpLogger: &NoOpLogger{}, captured: &captured}

	handler := LoggingMiddleware(logger, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/missing", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, captured, 1)
	assert.Equal(t, http.StatusNotFound, captured[0]["status"])
}

func TestLoggingMiddleware_SkipsFastSuccessesInProductionMode(t *testing.T) {
	var captured []map[string]interface{}
	logger := &capturingLogger{NoOpLogger: &NoOpLogger{}, captured: &captured}

	handler := LoggingMiddleware(logger, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/config", nil))
	assert.Empty(t, captured, "fast 2xx responses stay quiet outside dev mode")
}

// capturingLogger records the fields passed to *WithContext calls so tests
// can assert on what LoggingMiddleware actually logged.
type capturingLogger struct {
	*NoOpLogger
	captured *[]map[string]interface{}
}

func (c *capturingLogger) InfoWithContext(_ context.Context, _ string, fields map[string]interface{}) {
	*c.captured = append(*c.captured, fields)
}

func (c *capturingLogger) WarnWithContext(_ context.Context, _ string, fields map[string]interface{}) {
	*c.captured = append(*c.captured, fields)
}

func (c *capturingLogger) ErrorWithContext(_ context.Context, _ string, fields map[string]interface{}) {
	*c.captured = append(*c.captured, fields)
}
