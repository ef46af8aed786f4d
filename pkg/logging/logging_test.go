package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openchami/authcore/pkg/errors"
)

func configureBuffer(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	Configure(&Config{
		Level:       LogLevelDebug,
		Format:      LogFormatJSON,
		ServiceName: "authcore-test",
		Environment: "test",
		Output:      buf,
	})
	return buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestStructuredLogger(t *testing.T) {
	buf := configureBuffer(t)

	t.Run("WithError expands AuthError", func(t *testing.T) {
		err := errors.New(errors.ErrCodeKeyNotFound, "kid not in JWKS").WithDetails("kid", "abc")
		NewStructuredLogger("oidc").WithError(err).Error("verification failed")

		entry := lastLine(t, buf)
		assert.Equal(t, "oidc", entry["component"])
		assert.Equal(t, "KEY_NOT_FOUND", entry["error_code"])
		assert.Equal(t, "abc", entry["error_kid"])
		assert.Equal(t, "authcore-test", entry["service"])
	})

	t.Run("WithError on plain errors", func(t *testing.T) {
		NewStructuredLogger("keys").WithError(fmt.Errorf("disk gone")).Warn("load failed")

		entry := lastLine(t, buf)
		assert.Equal(t, "disk gone", entry["error"])
		assert.NotContains(t, entry, "error_code")
	})
}

func TestMiddleware(t *testing.T) {
	buf := configureBuffer(t)

	var seenTrace string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenTrace = GetTraceID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", seenTrace)
	assert.Equal(t, "req-123", rec.Header().Get("X-Trace-ID"))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	entry := lastLine(t, buf)
	assert.Equal(t, "req-123", entry["trace_id"])
	assert.Equal(t, float64(http.StatusTeapot), entry["status_code"])
}

func TestMiddlewareGeneratesIDs(t *testing.T) {
	configureBuffer(t)

	rec := httptest.NewRecorder()
	Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	_, err := uuid.Parse(rec.Header().Get("X-Trace-ID"))
	assert.NoError(t, err)
	assert.NotEqual(t, rec.Header().Get("X-Trace-ID"), rec.Header().Get("X-Correlation-ID"))
}
