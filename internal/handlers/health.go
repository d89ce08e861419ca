package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"ticketintel/internal/metrics"
	"ticketintel/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Pinger 可探测连通性的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	version string
	store   Pinger
	rdb     redis.UniversalClient // 可为空
	breaker *services.CircuitBreaker
	logger  *logrus.Logger
}

// NewHealthHandler 创建健康检查处理器，redis 与 breaker 可为空
func NewHealthHandler(version string, store Pinger, rdb redis.UniversalClient, breaker *services.CircuitBreaker, logger *logrus.Logger) *HealthHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HealthHandler{version: version, store: store, rdb: rdb, breaker: breaker, logger: logger}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                     `json:"status"`
	Version   string                     `json:"version"`
	Timestamp time.Time                  `json:"timestamp"`
	Services  map[string]ServiceInfo     `json:"services"`
	Runs      map[string]metrics.RunStat `json:"runs"`
	System    SystemInfo                 `json:"system"`
}

// ServiceInfo 依赖状态
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

var startTime = time.Now()

// Health 健康检查端点
//
// 数据库不可用时返回 503；Redis 不可用或熔断器打开时为 degraded。
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		Runs:      metrics.RunSnapshot(),
		System: SystemInfo{
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			GoVersion: runtime.Version(),
		},
	}

	dbInfo := h.check(ctx, h.store.Ping)
	response.Services["database"] = dbInfo
	if dbInfo.Status != "healthy" {
		response.Status = "unhealthy"
	}

	if h.rdb != nil {
		info := h.check(ctx, func(ctx context.Context) error { return h.rdb.Ping(ctx).Err() })
		response.Services["redis"] = info
		if info.Status != "healthy" && response.Status == "healthy" {
			response.Status = "degraded"
		}
	}

	if h.breaker != nil {
		info := ServiceInfo{Status: "healthy", Details: h.breaker.Stats()}
		if h.breaker.State() != services.BreakerClosed {
			info.Status = h.breaker.State().String()
			if response.Status == "healthy" {
				response.Status = "degraded"
			}
		}
		response.Services["circuit_breaker"] = info
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
		h.logger.Warnf("Health check failed: %s", dbInfo.Error)
	}
	c.JSON(statusCode, response)
}

// Ready 就绪检查端点，只检查数据库
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   string(services.KindDependencyUnavailable),
			Message: err.Error(),
			Code:    http.StatusServiceUnavailable,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "timestamp": time.Now()})
}

func (h *HealthHandler) check(ctx context.Context, ping func(context.Context) error) ServiceInfo {
	start := time.Now()
	err := ping(ctx)
	info := ServiceInfo{Status: "healthy", Latency: time.Since(start).String()}
	if err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
	}
	return info
}
