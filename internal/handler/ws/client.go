package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wavelink-backend/pkg/constants"
	"wavelink-backend/pkg/logger"
)

// Client is one WebSocket connection. The userID is fixed at upgrade time
// from the authenticated token; the mailbox only becomes live after the
// register event.
type Client struct {
	hub      *Hub
	gateway  *Gateway
	conn     *websocket.Conn
	send     chan []byte
	userID   uuid.UUID
	username string

	// rooms this client joined, guarded by the hub mutex
	rooms map[uuid.UUID]bool

	// registered flips once the register event is processed
	registered bool

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func newClient(hub *Hub, gateway *Gateway, conn *websocket.Conn, userID uuid.UUID, username string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:      hub,
		gateway:  gateway,
		conn:     conn,
		send:     make(chan []byte, 256),
		userID:   userID,
		username: username,
		rooms:    make(map[uuid.UUID]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// enqueue offers a frame to the send buffer without blocking
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend tears the connection down from the hub side. Only the context
// is cancelled; the send channel stays open so concurrent enqueues cannot
// panic, and writePump exits via ctx instead.
func (c *Client) closeSend() {
	c.closeOnce.Do(c.cancel)
}

// readPump reads messages from WebSocket
func (c *Client) readPump() {
	defer func() {
		c.gateway.handleDisconnect(c)
		c.closeSend()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}
		c.gateway.handleMessage(c, message)
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
