package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"ticketintel/internal/config"
	"ticketintel/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func healthRouter(h *HealthHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	return r
}

func TestHealth_Healthy(t *testing.T) {
	store := newTestStore(t)
	breaker := services.NewCircuitBreaker(config.GetDefaultConfig().Breaker)
	r := healthRouter(NewHealthHandler("1.0.0", store, nil, breaker, quietLogger()))

	w := doJSON(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "1.0.0", body.Version)
	assert.Equal(t, "healthy", body.Services["database"].Status)
	assert.Contains(t, body.Services, "circuit_breaker")

	w = doJSON(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth_DatabaseDown(t *testing.T) {
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	r := healthRouter(NewHealthHandler("1.0.0", down, nil, nil, quietLogger()))

	w := doJSON(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Services["database"].Error)

	w = doJSON(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealth_BreakerOpenDegrades(t *testing.T) {
	up := pingFunc(func(context.Context) error { return nil })
	breaker := services.NewCircuitBreaker(config.BreakerConfig{MaxFailures: 1})
	breaker.Record(services.NewDependencyUnavailable("list tickets", errors.New("timeout")))

	r := healthRouter(NewHealthHandler("1.0.0", up, nil, breaker, quietLogger()))
	w := doJSON(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "open", body.Services["circuit_breaker"].Status)
}
