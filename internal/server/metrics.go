package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// MetricsResponse represents the metrics response
type MetricsResponse struct {
	Service     string             `json:"service"`
	Timestamp   time.Time          `json:"timestamp"`
	Uptime      int64              `json:"uptime_seconds"`
	Leader      bool               `json:"leader"`
	Connections *ConnectionMetrics `json:"connections"`
}

// ConnectionMetrics represents connection-related metrics
type ConnectionMetrics struct {
	Active           int `json:"active"`
	TotalUniqueUsers int `json:"total_unique_users"`
}

func metricsHandler(c *gin.Context, cfg Config) {
	conns, users := cfg.Registry.Stats()

	response := MetricsResponse{
		Service:   "chat-gateway",
		Timestamp: time.Now(),
		Uptime:    int64(time.Since(startTime).Seconds()),
		Leader:    cfg.Leader != nil && cfg.Leader.IsLeader(),
		Connections: &ConnectionMetrics{
			Active:           conns,
			TotalUniqueUsers: users,
		},
	}

	c.JSON(http.StatusOK, response)
}
