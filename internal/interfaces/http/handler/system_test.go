package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestNewSystemHandler(t *testing.T) {
	h := NewSystemHandler("1.0.0", nil, nil)
	assert.NotNil(t, h)
	assert.False(t, h.startTime.IsZero())
}

func TestSystemHandler_GetSystemInfo(t *testing.T) {
	h := NewSystemHandler("1.2.3", nil, nil)
	c, w := newTestContext(http.MethodGet, "/system/info")

	h.GetSystemInfo(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "Marketplace Import API", data["name"])
	assert.Equal(t, "1.2.3", data["version"])
	assert.NotEmpty(t, data["go_version"])
	assert.NotEmpty(t, data["uptime"])
}

func TestSystemHandler_Ping(t *testing.T) {
	h := NewSystemHandler("1.0.0", nil, nil)
	c, w := newTestContext(http.MethodGet, "/system/ping")

	h.Ping(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "pong", data["message"])

	_, err := time.Parse(time.RFC3339, data["timestamp"].(string))
	assert.NoError(t, err)
}

func TestSystemHandler_Health(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		h := NewSystemHandler("1.0.0", map[string]HealthChecker{
			"database": pingFunc(func(context.Context) error { return nil }),
			"queue":    pingFunc(func(context.Context) error { return nil }),
		}, func() int { return 4 })
		c, w := newTestContext(http.MethodGet, "/health")

		h.Health(c)

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse(t, w)
		assert.True(t, resp.Success)
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "ok", data["status"])
		assert.Equal(t, float64(4), data["queued_jobs"])
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "ok", checks["database"])
		assert.Equal(t, "ok", checks["queue"])
	})

	t.Run("failing check degrades", func(t *testing.T) {
		h := NewSystemHandler("1.0.0", map[string]HealthChecker{
			"database": pingFunc(func(context.Context) error { return nil }),
			"queue":    pingFunc(func(context.Context) error { return errors.New("dial tcp: connection refused") }),
		}, nil)
		c, w := newTestContext(http.MethodGet, "/health")

		h.Health(c)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		resp := decodeResponse(t, w)
		assert.False(t, resp.Success)
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "degraded", data["status"])
		assert.NotContains(t, data, "queued_jobs")
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "ok", checks["database"])
		assert.Contains(t, checks["queue"], "connection refused")
	})

	t.Run("no checks", func(t *testing.T) {
		h := NewSystemHandler("1.0.0", nil, nil)
		c, w := newTestContext(http.MethodGet, "/health")

		h.Health(c)

		require.Equal(t, http.StatusOK, w.Code)
		data := decodeResponse(t, w).Data.(map[string]interface{})
		assert.NotContains(t, data, "checks")
	})
}
