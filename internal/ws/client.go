package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"chaos-organizer/internal/models"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// InboundHandler accepts raw messages received on a connection.
type InboundHandler interface {
	HandleRealtime(ctx context.Context, raw []byte) (models.Event, error)
}

// Client is one open duplex channel owned by the hub for its lifetime.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	addr    string
	inbound InboundHandler
	limiter *rate.Limiter

	// closing is set once the write side has failed; the hub skips the
	// client until the read side unregisters it.
	closing atomic.Bool
}

func newClient(hub *Hub, conn *websocket.Conn, addr string, inbound InboundHandler, opts Options) *Client {
	c := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, opts.SendQueueSize),
		addr:    addr,
		inbound: inbound,
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)
	}
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	return c
}

// ReadPump pumps messages from the WebSocket into the ingest path
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				slog.Warn("[CLIENT] Message exceeded size limit", "addr", c.addr)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("[CLIENT] Unexpected close", "addr", c.addr, "error", err)
			} else {
				slog.Debug("[CLIENT] Connection closed", "addr", c.addr, "error", err)
			}
			break
		}

		if c.limiter != nil && !c.limiter.Allow() {
			slog.Warn("[CLIENT] Rate limit exceeded, discarding message", "addr", c.addr)
			continue
		}

		c.handleClientMessage(message)
	}
}

// handleClientMessage hands a raw message to the ingest path. Failures are
// logged and the message dropped; the connection stays open.
func (c *Client) handleClientMessage(message []byte) {
	ev, err := c.inbound.HandleRealtime(context.Background(), message)
	if err == nil {
		slog.Debug("[CLIENT] Message accepted", "addr", c.addr, "event", ev.ID)
		return
	}

	var malformed *models.MalformedPayloadError
	var invalid *models.ValidationError
	switch {
	case errors.As(err, &malformed):
		slog.Warn("[CLIENT] Dropping malformed message", "addr", c.addr, "size", len(message), "error", err)
	case errors.As(err, &invalid):
		slog.Warn("[CLIENT] Dropping invalid message", "addr", c.addr, "error", err)
	default:
		slog.Error("[CLIENT] Failed to accept message", "addr", c.addr, "error", err)
	}
}

// WritePump pumps messages from the hub to the WebSocket
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closing.Store(true)
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				slog.Error("[CLIENT] Failed to get writer", "addr", c.addr, "error", err)
				return
			}
			if _, err := w.Write(message); err != nil {
				slog.Error("[CLIENT] Failed to write message", "addr", c.addr, "error", err)
				w.Close()
				return
			}
			if err := w.Close(); err != nil {
				slog.Error("[CLIENT] Failed to close writer", "addr", c.addr, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Error("[CLIENT] Failed to send ping", "addr", c.addr, "error", err)
				return
			}
		}
	}
}
