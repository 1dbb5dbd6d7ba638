package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func okPing(context.Context) error { return nil }

func failPing(context.Context) error { return errors.New("connection refused") }

func serve(handler http.HandlerFunc, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthHandler_Healthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewPingChecker("storage", okPing))

	rec := serve(handler.ServeHTTP, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var response Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	require.Equal(t, StatusHealthy, response.Status)
	require.Equal(t, "v1.0.0", response.Version)
	require.Len(t, response.Checks, 1)
}

func TestHealthHandler_UnhealthyStorage(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewPingChecker("storage", failPing))

	rec := serve(handler.ServeHTTP, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var response Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	require.Equal(t, StatusUnhealthy, response.Status)
	require.Equal(t, "connection refused", response.Checks["storage"].Message)
}

func TestHealthHandler_OptionalComponentDegrades(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewPingChecker("storage", okPing))
	handler.RegisterChecker("redis", NewOptionalChecker("redis", failPing))

	overall, checks := handler.Run(context.Background())
	require.Equal(t, StatusDegraded, overall)
	require.Equal(t, StatusDegraded, checks["redis"].Status)

	rec := serve(handler.ServeHTTP, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(handler.ReadinessHandler, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ready", rec.Body.String())
}

func TestReadinessHandler_NotReady(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewPingChecker("storage", failPing))

	rec := serve(handler.ReadinessHandler, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "not ready", rec.Body.String())
}

func TestPingChecker_RespectsTimeout(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.timeout = 20 * time.Millisecond
	handler.RegisterChecker("storage", NewPingChecker("storage", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	overall, checks := handler.Run(context.Background())
	require.Equal(t, StatusUnhealthy, overall)
	require.Equal(t, context.DeadlineExceeded.Error(), checks["storage"].Message)
}

func TestLivenessHandler(t *testing.T) {
	rec := serve(LivenessHandler, "/livez")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
