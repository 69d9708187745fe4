package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Redis       *RedisHealth    `json:"redis"`
	Broker      *BrokerHealth   `json:"broker"`
	Connections *ConnectionInfo `json:"connections"`
	Leader      bool            `json:"leader"`
	Uptime      int64           `json:"uptime_seconds"`
}

// RedisHealth represents presence store health status
type RedisHealth struct {
	Status string  `json:"status"`
	PingMs float64 `json:"ping_ms,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// BrokerHealth represents event bus broker health status
type BrokerHealth struct {
	Status string `json:"status"`
}

// ConnectionInfo represents live connection counts
type ConnectionInfo struct {
	ActiveConnections int `json:"active_connections"`
	TotalUniqueUsers  int `json:"total_unique_users"`
}

var startTime = time.Now()

func healthHandler(c *gin.Context, cfg Config) {
	ctx := context.Background()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    int64(time.Since(startTime).Seconds()),
		Leader:    cfg.Leader != nil && cfg.Leader.IsLeader(),
	}

	redisHealth := &RedisHealth{
		Status: "connected",
	}
	pingDuration, err := cfg.RedisClient.Ping(ctx)
	if err != nil {
		redisHealth.Status = "disconnected"
		redisHealth.Error = err.Error()
		response.Status = "degraded"
		cfg.Logger.Errorf(ctx, "Redis health check failed: %v", err)
	} else {
		redisHealth.PingMs = float64(pingDuration.Microseconds()) / 1000.0
	}
	response.Redis = redisHealth

	brokerHealth := &BrokerHealth{Status: "connected"}
	if cfg.Broker == nil || !cfg.Broker.IsConnected() {
		brokerHealth.Status = "disconnected"
		response.Status = "degraded"
	}
	response.Broker = brokerHealth

	conns, users := cfg.Registry.Stats()
	response.Connections = &ConnectionInfo{
		ActiveConnections: conns,
		TotalUniqueUsers:  users,
	}

	statusCode := http.StatusOK
	if response.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
