package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/wdfetch/pkg/ctxutil"
)

func serveLogged(t *testing.T, status int, req *http.Request) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestLogger_ScrapeAtDebug(t *testing.T) {
	t.Parallel()

	rec := serveLogged(t, http.StatusOK, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "metrics request", rec["msg"])
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "/metrics", rec["path"])
	assert.EqualValues(t, 200, rec["status"])
	assert.Contains(t, rec, "took")
	assert.NotContains(t, rec, "run_id")
}

func TestLogger_ServerErrorAtError(t *testing.T) {
	t.Parallel()

	rec := serveLogged(t, http.StatusServiceUnavailable, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "ERROR", rec["level"])
	assert.EqualValues(t, 503, rec["status"])
}

func TestLogger_ContextIdentifiers(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	ctx := ctxutil.WithRunID(req.Context(), runID)
	ctx = ctxutil.WithRequestID(ctx, "req-7")

	rec := serveLogged(t, http.StatusOK, req.WithContext(ctx))
	assert.Equal(t, "req-7", rec["request_id"])
	assert.Equal(t, runID.String(), rec["run_id"])
}
