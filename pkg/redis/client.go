package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	redis_client "github.com/redis/go-redis/v9"
)

// Config holds Redis client configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool

	MaxRetries      int
	MinIdleConns    int
	PoolSize        int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Client wraps redis.Client with additional functionality
type Client struct {
	*redis_client.Client
	config Config
}

// NewClient creates a new Redis client with the given configuration
func NewClient(cfg Config) (*Client, error) {
	opts := &redis_client.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		MaxRetries:      cfg.MaxRetries,
		MinIdleConns:    cfg.MinIdleConns,
		PoolSize:        cfg.PoolSize,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis_client.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		Client: client,
		config: cfg,
	}, nil
}

// DB returns the configured database index.
func (c *Client) DB() int {
	return c.config.DB
}

// Ping checks if the connection is alive and returns latency
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// EnableKeyspaceNotifications turns on expired-key event notifications.
// Idempotent; required for the presence expiry stream.
func (c *Client) EnableKeyspaceNotifications(ctx context.Context) error {
	if err := c.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		return fmt.Errorf("failed to enable keyspace notifications: %w", err)
	}
	return nil
}

// IsConnected checks if the client is connected to Redis
func (c *Client) IsConnected(ctx context.Context) bool {
	_, err := c.Ping(ctx)
	return err == nil
}
