package chathub

import (
	"context"
	"sync"
	"time"

	"chatrelay/backend/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// WebSocketClient implements Client over a gorilla websocket.
type WebSocketClient struct {
	hub    *ManagerService
	conn   *websocket.Conn
	userID uint
	handle string

	// send is never closed; done signals shutdown to the pumps and to Deliver.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, userID uint, buffer int) *WebSocketClient {
	if buffer <= 0 {
		buffer = 256
	}
	return &WebSocketClient{
		hub:    hub,
		conn:   conn,
		userID: userID,
		handle: uuid.NewString(),
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (c *WebSocketClient) Handle() string { return c.handle }
func (c *WebSocketClient) Identity() uint { return c.userID }

// Deliver encodes evt and queues it. A client whose queue is full is
// disconnected.
func (c *WebSocketClient) Deliver(evt models.Outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	frame, err := evt.Encode()
	if err != nil {
		log.Error().Err(err).Str("event", string(evt.Event)).Str("handle", c.handle).Msg("encode outbound event")
		return false
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		log.Warn().Str("handle", c.handle).Uint("user_id", c.userID).Msg("send buffer full, closing client")
		c.Close()
		return false
	}
}

// Run attaches the client to the hub and starts the pumps.
func (c *WebSocketClient) Run() {
	c.hub.Connect(c)
	go c.writePump()
	go c.readPump()
}

func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		// in-flight writes are not tied to the connection lifetime
		c.hub.Disconnect(context.Background(), c)
		c.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("handle", c.handle).Msg("websocket read")
			}
			return
		}
		c.hub.HandleRaw(context.Background(), c, frame)
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
