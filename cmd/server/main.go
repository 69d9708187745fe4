package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"chat-gateway/config"
	"chat-gateway/internal/bus"
	"chat-gateway/internal/data"
	"chat-gateway/internal/gateway"
	"chat-gateway/internal/leader"
	"chat-gateway/internal/presence"
	"chat-gateway/internal/registry"
	"chat-gateway/internal/rooms"
	"chat-gateway/internal/server"
	"chat-gateway/internal/status"
	"chat-gateway/pkg/jwt"
	"chat-gateway/pkg/log"
	"chat-gateway/pkg/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Failed to load config:", err)
		return
	}

	// Initialize logger
	logger := log.Init(log.ZapConfig{
		Level:        cfg.Logger.Level,
		Mode:         cfg.Logger.Mode,
		Encoding:     cfg.Logger.Encoding,
		ColorEnabled: cfg.Logger.ColorEnabled,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger.Infof(ctx, "Starting chat gateway: process=%s", cfg.Server.ProcessID)

	// Initialize Redis client for the presence store
	redisClient, err := redis.NewClient(redis.Config{
		Addr:            cfg.Redis.Addr,
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		UseTLS:          cfg.Redis.UseTLS,
		MaxRetries:      cfg.Redis.MaxRetries,
		MinIdleConns:    cfg.Redis.MinIdleConns,
		PoolSize:        cfg.Redis.PoolSize,
		PoolTimeout:     cfg.Redis.PoolTimeout,
		ConnMaxIdleTime: cfg.Redis.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Redis.ConnMaxLifetime,
	})
	if err != nil {
		logger.Errorf(ctx, "Failed to connect to Redis: %v", err)
		return
	}
	defer redisClient.Close()
	logger.Infof(ctx, "Redis connected successfully to %s", cfg.Redis.Addr)

	// Presence expiry relies on keyspace expired-event notifications
	if err := redisClient.EnableKeyspaceNotifications(ctx); err != nil {
		logger.Warnf(ctx, "Failed to enable keyspace notifications, presence expiry degraded: %v", err)
	}

	// Connect to NATS with a bounded retry loop
	nc, err := connectNATS(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Errorf(ctx, "Failed to connect to NATS: %v", err)
		return
	}
	defer nc.Drain()
	logger.Infof(ctx, "NATS connected successfully to %s", cfg.NATS.URL)

	// Initialize the event bus
	eventBus, err := bus.New(ctx, nc, bus.Config{
		Stream:         cfg.Bus.Stream,
		ProcessID:      cfg.Server.ProcessID,
		PublishRetries: cfg.Bus.PublishRetries,
		PublishBackoff: cfg.Bus.PublishBackoff,
		MaxDeliveries:  cfg.Bus.MaxDeliveries,
		AckWait:        cfg.Bus.AckWait,
	}, logger)
	if err != nil {
		logger.Errorf(ctx, "Failed to initialize event bus: %v", err)
		return
	}

	// Data layer. The in-memory store stands in for the persistence
	// service that owns chats, friendships and notifications.
	store := data.NewMemoryStore()

	// Core components
	reg := registry.New()
	presenceStore := presence.NewStore(redisClient, logger, cfg.Presence.ResubscribeWait)
	roomMgr := rooms.NewManager(reg, store, logger)
	tracker := status.NewTracker(store, eventBus, logger)
	dedup := bus.NewDeduper(cfg.Bus.DedupWindow)

	dispatcher := gateway.NewDispatcher(
		gateway.DispatchConfig{
			HeartbeatTTL:  cfg.Presence.HeartbeatTTL,
			ShutdownDrain: cfg.WebSocket.WriteWait,
		},
		reg,
		roomMgr,
		presenceStore,
		store,
		tracker,
		eventBus,
		dedup,
		logger,
	)

	// Consume bus events for the process lifetime
	go func() {
		if err := eventBus.ConsumeLoop(ctx, dispatcher.HandleBusEvent); err != nil && ctx.Err() == nil {
			logger.Errorf(ctx, "Bus consume loop exited: %v", err)
		}
	}()

	// The presence watcher runs only on the lease holder, so offline
	// events are published exactly once across the fleet.
	watcher := presence.NewWatcher(presenceStore, cfg.Presence.GraceWindow, dispatcher.NotifyOffline, logger)
	watcherRunner := newLeaderRunner(ctx, func(wctx context.Context) {
		watcher.Run(wctx, presenceStore.SubscribeExpiry(wctx))
	})

	election, err := leader.New(ctx, nc, leader.Config{
		Bucket:            cfg.Leader.Bucket,
		Key:               cfg.Leader.Key,
		LeaseTTL:          cfg.Leader.LeaseTTL,
		HeartbeatInterval: cfg.Leader.HeartbeatInterval,
	}, logger, watcherRunner.start, watcherRunner.stop)
	if err != nil {
		logger.Errorf(ctx, "Failed to initialize leader election: %v", err)
		return
	}
	go election.Run(ctx)

	// Accept path
	jwtValidator := jwt.NewValidator(jwt.Config{
		SecretKey: cfg.JWT.SecretKey,
	})
	connTracker := gateway.NewConnectionTracker(ctx, gateway.RateLimitConfig{
		MaxConnectionsPerUser: cfg.RateLimit.MaxConnectionsPerUser,
		ConnectionRateLimit:   cfg.RateLimit.ConnectionRateLimit,
		Window:                cfg.RateLimit.Window,
	}, logger)
	wsHandler := gateway.NewHandler(dispatcher, jwtValidator, connTracker, gateway.HandlerConfig{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		PongWait:        cfg.WebSocket.PongWait,
		PingInterval:    cfg.WebSocket.PingInterval,
		WriteWait:       cfg.WebSocket.WriteWait,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		SendBufferSize:  cfg.WebSocket.SendBufferSize,
	}, logger)

	srv := server.New(server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		Mode:        cfg.Server.Mode,
		Logger:      logger,
		Registry:    reg,
		RedisClient: redisClient,
		Broker:      nc,
		Leader:      election,
		WSHandler:   wsHandler,
	})

	go func() {
		if err := srv.Start(); err != nil {
			logger.Errorf(ctx, "Server error: %v", err)
		}
	}()
	logger.Infof(ctx, "Gateway listening on %s:%d", cfg.Server.Host, cfg.Server.Port)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Notify clients before the listener stops accepting
	dispatcher.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf(ctx, "Error shutting down server: %v", err)
	}

	// Stops election (releasing the lease), consume loop and watcher
	cancel()

	logger.Info(ctx, "Server shutdown complete")
}

// connectNATS dials the broker, retrying for transient startup races
// with the broker container.
func connectNATS(ctx context.Context, cfg config.NATSConfig, logger log.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(-1),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	var lastErr error
	for i := 0; i < cfg.ConnectTries; i++ {
		nc, err := nats.Connect(cfg.URL, opts...)
		if err == nil {
			return nc, nil
		}
		lastErr = err
		logger.Warnf(ctx, "NATS connect attempt %d/%d failed: %v", i+1, cfg.ConnectTries, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.ReconnectWait):
		}
	}
	return nil, lastErr
}

// leaderRunner starts and stops the leader-only presence watcher as the
// lease is gained and lost.
type leaderRunner struct {
	parent context.Context
	run    func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newLeaderRunner(parent context.Context, run func(ctx context.Context)) *leaderRunner {
	return &leaderRunner{parent: parent, run: run}
}

func (r *leaderRunner) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.parent)
	r.cancel = cancel
	go r.run(ctx)
}

func (r *leaderRunner) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}
