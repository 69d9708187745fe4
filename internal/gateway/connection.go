package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-gateway/pkg/log"
)

// ConnConfig holds per-connection transport tuning.
type ConnConfig struct {
	PongWait       time.Duration
	PingPeriod     time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBufferSize int
}

// inboundFunc receives each frame read from the socket.
type inboundFunc func(ctx context.Context, c *Connection, frame []byte)

// closeFunc runs once when the connection is torn down.
type closeFunc func(c *Connection)

// Connection is one authenticated WebSocket. It satisfies
// registry.Handle; a user may hold several at once.
type Connection struct {
	id     string
	userID string

	conn *websocket.Conn
	send chan []byte

	cfg    ConnConfig
	logger log.Logger

	onInbound inboundFunc
	onClose   closeFunc

	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection wraps an upgraded socket. onInbound is called from the
// read pump for every frame; onClose fires once after the read pump
// exits.
func NewConnection(conn *websocket.Conn, userID string, cfg ConnConfig, logger log.Logger, onInbound inboundFunc, onClose closeFunc) *Connection {
	return &Connection{
		id:        uuid.New().String(),
		userID:    userID,
		conn:      conn,
		send:      make(chan []byte, cfg.SendBufferSize),
		cfg:       cfg,
		logger:    logger,
		onInbound: onInbound,
		onClose:   onClose,
		done:      make(chan struct{}),
	}
}

// ID returns the transport-assigned connection identifier.
func (c *Connection) ID() string { return c.id }

// UserID returns the authenticated owner of the connection.
func (c *Connection) UserID() string { return c.userID }

// Send queues an encoded frame for the write pump. Reports false when
// the connection is closed or its buffer is full; a full buffer drops
// the frame rather than blocking the caller.
func (c *Connection) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warnf(context.Background(), "send buffer full, dropping frame: user=%s conn=%s", c.userID, c.id)
		return false
	}
}

// SendEvent encodes and queues a server event.
func (c *Connection) SendEvent(event string, payload any) bool {
	frame, err := encodeServerEvent(event, payload)
	if err != nil {
		c.logger.Errorf(context.Background(), "drop outbound %s event: %v", event, err)
		return false
	}
	return c.Send(frame)
}

// Start launches the read and write pumps.
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump is the sole reader of the socket. Frames go to onInbound in
// receipt order; exit triggers teardown.
func (c *Connection) readPump() {
	defer func() {
		c.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Errorf(context.Background(), "read error: user=%s conn=%s err=%v", c.userID, c.id, err)
			}
			return
		}
		if c.onInbound != nil {
			c.onInbound(context.Background(), c, frame)
		}
	}
}

// writePump is the sole writer of the socket. It drains the send
// channel, coalescing queued frames, and keeps the connection alive
// with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// Close tears down the transport. Safe to call from any goroutine, any
// number of times; the read pump and a graceful shutdown may race here.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
