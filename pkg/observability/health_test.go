package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckerAggregates(t *testing.T) {
	checker := NewHealthChecker()
	checker.Register("storage", func(ctx context.Context) error { return nil })
	checker.Register("cache", func(ctx context.Context) error { return nil })

	status := checker.Check(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["storage"])
	assert.Equal(t, "healthy", status.Checks["cache"])
}

func TestHealthCheckerReportsFailure(t *testing.T) {
	checker := NewHealthChecker()
	checker.Register("storage", func(ctx context.Context) error { return nil })
	checker.Register("cache", func(ctx context.Context) error {
		return errors.New("connection refused")
	})

	status := checker.Check(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["storage"])
	assert.Contains(t, status.Checks["cache"], "connection refused")
}

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		checker := NewHealthChecker()
		checker.Register("storage", func(ctx context.Context) error { return nil })

		rec := httptest.NewRecorder()
		checker.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	})

	t.Run("unhealthy", func(t *testing.T) {
		checker := NewHealthChecker()
		checker.Register("storage", func(ctx context.Context) error {
			return errors.New("down")
		})

		rec := httptest.NewRecorder()
		checker.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
