// Package handlers provides HTTP handlers for API endpoints.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/checkfix-tools/keyra-auth/internal/database"
)

// Health status constants
const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// HealthHandler handles health check endpoints
// #INTEGRATION_POINT: Used by load balancers and monitoring systems
type HealthHandler struct {
	dbClient    *database.Client
	redisClient *redis.Client
	version     string
	startTime   time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(dbClient *database.Client, redisClient *redis.Client, version string) *HealthHandler {
	return &HealthHandler{
		dbClient:    dbClient,
		redisClient: redisClient,
		version:     version,
		startTime:   time.Now(),
	}
}

// ReadyResponse reports per-dependency readiness
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Services  map[string]string `json:"services,omitempty"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

// Live handles GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// Ready handles GET /health/ready
// Checks the Postgres and Redis connections the auth core depends on.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	services := make(map[string]string)
	healthy := true

	if err := h.dbClient.HealthCheck(ctx); err != nil {
		services["database"] = statusUnhealthy
		healthy = false
	} else {
		services["database"] = statusHealthy
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.redisClient.Ping(pingCtx).Err(); err != nil {
		services["redis"] = statusUnhealthy
		healthy = false
	} else {
		services["redis"] = statusHealthy
	}

	status := statusHealthy
	code := http.StatusOK
	if !healthy {
		status = statusUnhealthy
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, ReadyResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Services:  services,
	})
}

// RegisterRoutes registers health handler routes
func (h *HealthHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/health/live", h.Live)
	router.GET("/health/ready", h.Ready)
}
