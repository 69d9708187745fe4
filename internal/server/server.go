// Package server hosts the gateway's HTTP surface: the WebSocket
// endpoint plus health and metrics routes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chat-gateway/internal/gateway"
	"chat-gateway/internal/registry"
	"chat-gateway/pkg/log"
	"chat-gateway/pkg/redis"
)

// LeaderInfo reports whether this process holds the presence-watcher
// lease.
type LeaderInfo interface {
	IsLeader() bool
}

// BrokerInfo reports broker connectivity.
type BrokerInfo interface {
	IsConnected() bool
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	Mode        string
	Logger      log.Logger
	Registry    *registry.Registry
	RedisClient *redis.Client
	Broker      BrokerInfo
	Leader      LeaderInfo
	WSHandler   *gateway.Handler
}

// Server is the gateway HTTP server.
type Server struct {
	config Config
	server *http.Server
}

// New builds the server and wires its routes.
func New(cfg Config) *Server {
	gin.SetMode(cfg.Mode)
	router := gin.New()
	router.Use(gin.Recovery())

	setupRoutes(router, cfg)

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	return &Server{
		config: cfg,
		server: server,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.config.Logger.Infof(context.Background(), "Starting HTTP server on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.config.Logger.Info(ctx, "Shutting down HTTP server...")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, cfg Config) {
	cfg.WSHandler.SetupRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		healthHandler(c, cfg)
	})
	router.GET("/metrics", func(c *gin.Context) {
		metricsHandler(c, cfg)
	})
}
