// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/muse254/counter-simple-websockets/internal/broadcast"
	"github.com/muse254/counter-simple-websockets/internal/codec"
	"github.com/muse254/counter-simple-websockets/internal/registry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub is the event sink a Client reports to.
type Hub interface {
	Connect(id registry.ID, conn registry.Conn) error
	Disconnect(id registry.ID) error
	Deliver(id registry.ID, f codec.Frame) error
	Stats() broadcast.Stats
	Snapshot() []byte
}

// Client represents one WebSocket session. It implements registry.Conn so the
// hub can queue frames for it without blocking.
type Client struct {
	id          registry.ID
	conn        *websocket.Conn
	send        chan codec.Frame
	done        chan struct{}
	closeOnce   sync.Once
	hub         Hub
	addr        string
	rateLimiter *rateLimiter
	rateLimit   RateLimitConfig
	logger      *log.Logger
}

// NewClient creates a new Client for conn with a fresh identifier. The send
// queue is bounded by cfg.SendQueueSize.
func NewClient(conn *websocket.Conn, hub Hub, addr string, cfg *Config, logger *log.Logger) *Client {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = log.Default()
	}
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := registry.NewID()
	return &Client{
		id:          id,
		conn:        conn,
		send:        make(chan codec.Frame, cfg.SendQueueSize),
		done:        make(chan struct{}),
		hub:         hub,
		addr:        addr,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		rateLimit:   cfg.RateLimit,
		logger:      logger.With("client", id, "addr", addr),
	}
}

// ID returns the connection identifier used by the hub.
func (c *Client) ID() registry.ID {
	return c.id
}

// Send queues f for the write pump. It never blocks: when the queue is full
// the connection is closed and ErrSendQueueFull is returned, so the read pump
// reports the disconnect.
func (c *Client) Send(f codec.Frame) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- f:
		return nil
	default:
		c.logger.Warn("Send queue full; closing connection", "capacity", cap(c.send))
		_ = c.Close()
		return ErrSendQueueFull
	}
}

// Close stops both pumps and closes the network connection. It is safe to
// call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	if isExpectedCloseError(err) {
		return nil
	}
	return err
}

// Start runs the pumps until the connection ends. wg, if non-nil, tracks both
// goroutines.
func (c *Client) Start(wg *sync.WaitGroup) {
	if wg != nil {
		wg.Add(2)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		c.writePump()
	}()
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		c.readPump()
	}()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("Error setting initial read deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("Error setting read deadline in pong handler", "err", err)
		}
		return nil
	})
}

// logReadError logs the reason the read loop ended at an appropriate level.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("Message exceeded maximum size; closing connection")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived):
		c.logger.Debug("Client closed connection", "err", err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Debug("Connection closed", "err", err)
	default:
		c.logger.Warn("WebSocket read error", "err", err)
	}
}

// checkRateLimit reports whether the next frame may be forwarded to the hub.
func (c *Client) checkRateLimit() bool {
	if !c.rateLimiter.allow() {
		c.logger.Warn("Rate limit exceeded; discarding message",
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

func toFrame(messageType int, payload []byte) (codec.Frame, bool) {
	switch messageType {
	case websocket.TextMessage:
		return codec.Text(payload), true
	case websocket.BinaryMessage:
		return codec.Binary(payload), true
	default:
		return codec.Frame{}, false
	}
}

func (c *Client) readPump() {
	defer func() {
		if err := c.hub.Disconnect(c.id); err != nil && !errors.Is(err, broadcast.ErrHubStopped) {
			c.logger.Warn("Failed to report disconnect", "err", err)
		}
		if err := c.Close(); err != nil {
			c.logger.Warn("Error closing connection in readPump", "err", err)
		}
	}()

	c.setupReadConnection()

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		frame, ok := toFrame(messageType, payload)
		if !ok {
			continue
		}
		if err := c.hub.Deliver(c.id, frame); err != nil {
			c.logger.Debug("Hub no longer accepting messages", "err", err)
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case frame := <-c.send:
		return c.writeFrame(frame)
	case <-ticker.C:
		return c.writeControl(websocket.PingMessage)
	case <-c.done:
		c.writeControl(websocket.CloseMessage)
		return false
	}
}

// writeFrame writes one queued frame. Frames are never coalesced: each state
// snapshot must arrive as its own WebSocket message.
func (c *Client) writeFrame(f codec.Frame) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline", "err", err)
		return false
	}

	messageType := websocket.TextMessage
	if f.Type == codec.FrameBinary {
		messageType = websocket.BinaryMessage
	}

	if err := c.conn.WriteMessage(messageType, f.Payload); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing message", "err", err)
		}
		return false
	}
	return true
}

func (c *Client) writeControl(messageType int) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error setting write deadline for control frame", "err", err)
		}
		return false
	}
	if err := c.conn.WriteMessage(messageType, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("Error writing control frame", "type", messageType, "err", err)
		}
		return false
	}
	return true
}
