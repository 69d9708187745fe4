package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
)

type Config struct {
	// Server Configuration
	Server ServerConfig
	Logger LoggerConfig

	// External Systems
	Redis RedisConfig
	NATS  NATSConfig

	// Gateway Behavior
	WebSocket WebSocketConfig
	Presence  PresenceConfig
	Bus       BusConfig
	Leader    LeaderConfig
	RateLimit RateLimitConfig

	// Authentication
	JWT JWTConfig
}

// ServerConfig is the configuration for the gateway HTTP server
type ServerConfig struct {
	Host string `env:"GW_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"GW_PORT" envDefault:"8081"`
	Mode string `env:"GW_MODE" envDefault:"release"`

	// ProcessID identifies this gateway instance; used for the durable
	// bus consumer name and event origin stamping.
	ProcessID string `env:"GW_PROCESS_ID" envDefault:"gateway-0"`
}

// RedisConfig is the configuration for the presence store
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	UseTLS   bool   `env:"REDIS_USE_TLS" envDefault:"false"`

	MaxRetries      int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	MinIdleConns    int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"10"`
	PoolSize        int           `env:"REDIS_POOL_SIZE" envDefault:"100"`
	PoolTimeout     time.Duration `env:"REDIS_POOL_TIMEOUT" envDefault:"4s"`
	ConnMaxIdleTime time.Duration `env:"REDIS_CONN_MAX_IDLE_TIME" envDefault:"5m"`
	ConnMaxLifetime time.Duration `env:"REDIS_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// NATSConfig is the configuration for the event bus broker
type NATSConfig struct {
	URL           string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	User          string        `env:"NATS_USER"`
	Password      string        `env:"NATS_PASSWORD"`
	Name          string        `env:"NATS_CLIENT_NAME" envDefault:"chat-gateway"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`
	ConnectTries  int           `env:"NATS_CONNECT_TRIES" envDefault:"30"`
}

// WebSocketConfig is the configuration for WebSocket connections
type WebSocketConfig struct {
	PingInterval    time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
	PongWait        time.Duration `env:"WS_PONG_WAIT" envDefault:"60s"`
	WriteWait       time.Duration `env:"WS_WRITE_WAIT" envDefault:"10s"`
	MaxMessageSize  int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"4096"`
	ReadBufferSize  int           `env:"WS_READ_BUFFER_SIZE" envDefault:"1024"`
	WriteBufferSize int           `env:"WS_WRITE_BUFFER_SIZE" envDefault:"1024"`
	MaxConnections  int           `env:"WS_MAX_CONNECTIONS" envDefault:"10000"`
	SendBufferSize  int           `env:"WS_SEND_BUFFER_SIZE" envDefault:"256"`
}

// PresenceConfig governs heartbeat keys and offline detection.
// GraceWindow zero means "one heartbeat interval" (see Normalize).
type PresenceConfig struct {
	HeartbeatInterval time.Duration `env:"PRESENCE_HEARTBEAT_INTERVAL" envDefault:"25s"`
	HeartbeatTTL      time.Duration `env:"PRESENCE_HEARTBEAT_TTL" envDefault:"45s"`
	GraceWindow       time.Duration `env:"PRESENCE_GRACE_WINDOW"`
	ResubscribeWait   time.Duration `env:"PRESENCE_RESUBSCRIBE_WAIT" envDefault:"2s"`
}

// BusConfig governs publish retries and poison containment.
type BusConfig struct {
	Stream         string        `env:"BUS_STREAM" envDefault:"CHAT_EVENTS"`
	PublishRetries int           `env:"BUS_PUBLISH_RETRIES" envDefault:"4"`
	PublishBackoff time.Duration `env:"BUS_PUBLISH_BACKOFF" envDefault:"200ms"`
	MaxDeliveries  int           `env:"BUS_MAX_DELIVERIES" envDefault:"5"`
	AckWait        time.Duration `env:"BUS_ACK_WAIT" envDefault:"30s"`
	DedupWindow    time.Duration `env:"BUS_DEDUP_WINDOW" envDefault:"2m"`
}

// LeaderConfig governs the lease for the sole presence-expiry subscriber.
type LeaderConfig struct {
	Bucket            string        `env:"LEADER_BUCKET" envDefault:"GATEWAY_LEADER"`
	Key               string        `env:"LEADER_KEY" envDefault:"presence-watcher"`
	LeaseTTL          time.Duration `env:"LEADER_LEASE_TTL" envDefault:"15s"`
	HeartbeatInterval time.Duration `env:"LEADER_HEARTBEAT_INTERVAL" envDefault:"5s"`
}

// RateLimitConfig caps connection churn per user.
type RateLimitConfig struct {
	MaxConnectionsPerUser int           `env:"RL_MAX_CONNECTIONS_PER_USER" envDefault:"10"`
	ConnectionRateLimit   int           `env:"RL_CONNECTION_RATE" envDefault:"20"`
	Window                time.Duration `env:"RL_WINDOW" envDefault:"1m"`
}

// JWTConfig is the configuration for the JWT
type JWTConfig struct {
	SecretKey string `env:"JWT_SECRET_KEY"`
}

// LoggerConfig is the configuration for the logger
type LoggerConfig struct {
	Level        string `env:"LOGGER_LEVEL" envDefault:"info"`
	Mode         string `env:"LOGGER_MODE" envDefault:"production"`
	Encoding     string `env:"LOGGER_ENCODING" envDefault:"json"`
	ColorEnabled bool   `env:"LOGGER_COLOR_ENABLED" envDefault:"false"`
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Error loading configuration: %v", err)
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize fills derived defaults that env tags cannot express.
func (c *Config) Normalize() {
	if c.Presence.GraceWindow <= 0 {
		c.Presence.GraceWindow = c.Presence.HeartbeatInterval
	}
}
