package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rebenew/partysync/internal/v1/logging"
	"github.com/rebenew/partysync/internal/v1/metrics"
	"github.com/rebenew/partysync/internal/v1/types"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
}

const writeWait = 10 * time.Second

// Client is one WebSocket connection. It implements types.ClientHandle:
// rooms hand it serialized frames via Send, which buffers and never blocks.
// The connection authenticates by sending an auth frame binding it to a
// room and sender identity; until then every other frame is rejected.
type Client struct {
	conn    wsConnection
	gateway *Gateway

	mu            sync.Mutex
	authenticated bool
	roomID        types.RoomIdType
	senderID      types.SenderIdType
	closed        bool

	closeOnce sync.Once
	send      chan []byte
}

func newClient(conn wsConnection, gw *Gateway, backlog int) *Client {
	return &Client{
		conn:    conn,
		gateway: gw,
		send:    make(chan []byte, backlog),
	}
}

// Send queues a frame for delivery. A full backlog drops the frame rather
// than blocking the room's fan-out.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// The send channel may close concurrently with a room broadcast.
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from send to closed client",
				zap.String("senderId", string(c.SenderID())), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		metrics.BroadcastDropped.Inc()
		logging.Warn(context.Background(), "Client send backlog full, dropping frame",
			zap.String("senderId", string(c.SenderID())))
	}
}

// Close shuts the outbound channel; writePump drains the backlog, sends a
// close frame, and closes the socket. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
	})
}

// IsOpen reports whether the connection can still accept frames.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// SenderID returns the authenticated identity, or "" pre-auth.
func (c *Client) SenderID() types.SenderIdType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.senderID
}

// RoomID returns the bound room, or "" pre-auth.
func (c *Client) RoomID() types.RoomIdType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// bind records a successful authentication.
func (c *Client) bind(roomID types.RoomIdType, senderID types.SenderIdType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	c.roomID = roomID
	c.senderID = senderID
}

// readPump processes inbound frames until the connection dies or idles
// out. The read deadline is refreshed per frame, so a client that sends
// nothing (not even heartbeats) for the idle timeout gets dropped.
func (c *Client) readPump() {
	defer func() {
		c.gateway.handleDisconnect(c)
		_ = c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		if c.gateway.idleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.gateway.idleTimeout))
		}

		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg types.SyncMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warn(context.Background(), "Failed to unmarshal frame",
				zap.String("senderId", string(c.SenderID())), zap.Error(err))
			c.gateway.broadcaster.Ack(c, false, types.ReasonInvalidMessage, "")
			continue
		}

		c.gateway.handleMessage(context.Background(), c, &msg)
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message", zap.Error(err))
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
