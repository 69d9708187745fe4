package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chat-gateway/pkg/jwt"
	"chat-gateway/pkg/log"
)

// HandlerConfig holds transport settings for the accept path.
type HandlerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	PongWait        time.Duration
	PingInterval    time.Duration
	WriteWait       time.Duration
	MaxMessageSize  int64
	SendBufferSize  int
}

// Handler authenticates and upgrades WebSocket connection requests,
// then hands the connection to the dispatcher.
type Handler struct {
	dispatcher   *Dispatcher
	jwtValidator *jwt.Validator
	tracker      *ConnectionTracker
	upgrader     websocket.Upgrader
	cfg          HandlerConfig
	logger       log.Logger
}

func NewHandler(
	dispatcher *Dispatcher,
	jwtValidator *jwt.Validator,
	tracker *ConnectionTracker,
	cfg HandlerConfig,
	logger log.Logger,
) *Handler {
	return &Handler{
		dispatcher:   dispatcher,
		jwtValidator: jwtValidator,
		tracker:      tracker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Allow all origins for now (configure in production)
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		cfg:    cfg,
		logger: logger,
	}
}

// HandleWebSocket upgrades an authenticated request. The JWT rides the
// token query parameter; a missing or invalid token rejects with 401
// before any upgrade happens.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	ctx := c.Request.Context()

	token := c.Query("token")
	if token == "" {
		h.logger.Warn(ctx, "connection rejected: missing token")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "missing token parameter",
		})
		return
	}

	userID, err := h.jwtValidator.ExtractUserID(token)
	if err != nil {
		h.logger.Warnf(ctx, "connection rejected: invalid token - %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "invalid or expired token",
		})
		return
	}

	if err := h.tracker.CheckAndTrack(ctx, userID); err != nil {
		h.logger.Warnf(ctx, "connection rejected: %v", err)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "too many connections",
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.tracker.Untrack(userID)
		h.logger.Errorf(ctx, "failed to upgrade connection: %v", err)
		return
	}

	connection := NewConnection(
		conn,
		userID,
		ConnConfig{
			PongWait:       h.cfg.PongWait,
			PingPeriod:     pingPeriod(h.cfg.PingInterval, h.cfg.PongWait),
			WriteWait:      h.cfg.WriteWait,
			MaxMessageSize: h.cfg.MaxMessageSize,
			SendBufferSize: h.cfg.SendBufferSize,
		},
		h.logger,
		h.dispatcher.Dispatch,
		func(closed *Connection) {
			h.dispatcher.OnDisconnect(closed)
			h.tracker.Untrack(closed.UserID())
		},
	)

	h.dispatcher.OnConnect(context.Background(), connection)
	connection.Start()
}

// pingPeriod keeps pings comfortably inside the pong deadline.
func pingPeriod(interval, pongWait time.Duration) time.Duration {
	if interval > 0 && interval < pongWait {
		return interval
	}
	return pongWait * 9 / 10
}

// SetupRoutes registers the WebSocket endpoint.
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.GET("/ws", h.HandleWebSocket)
}
