package chathub

import (
	"encoding/json"
	"sync"
	"time"

	"carechat/backend/internal/apperr"
	"carechat/backend/internal/logger"
	"carechat/backend/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// the content cap counts runes; leave room for a fully JSON-escaped
	// multibyte payload plus the envelope
	maxMessageSize = 64 * 1024
)

// WebSocketClient implements Client over a gorilla/websocket connection.
type WebSocketClient struct {
	UserID string
	Role   models.Role
	Conn   *websocket.Conn
	Hub    *ManagerService
	Send   chan models.ServerEvent

	closeOnce sync.Once
}

func (c *WebSocketClient) GetUserID() string                         { return c.UserID }
func (c *WebSocketClient) GetRole() models.Role                      { return c.Role }
func (c *WebSocketClient) GetSendChannel() chan<- models.ServerEvent { return c.Send }

// Run starts the read and write pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close shuts the send channel, which stops the write pump. Safe to call
// more than once.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.UnregisterCh <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.L().Warn("read error", zap.String("user", c.UserID), zap.Error(err))
			}
			break
		}

		var ev models.ClientEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			logger.L().Warn("bad client payload", zap.String("user", c.UserID), zap.Error(err))
			c.rejectFrame()
			continue
		}

		c.Hub.IncomingCh <- Request{Client: c, Event: ev}
	}
}

// rejectFrame acknowledges a frame that could not be decoded. The payload
// never reaches the hub, so the ack is built here; the connection stays up.
func (c *WebSocketClient) rejectFrame() {
	ack := models.Ack{
		Event:     models.EvAck,
		Status:    "error",
		Code:      apperr.Code(apperr.ErrInvalidRequest),
		Message:   "malformed payload",
		Timestamp: time.Now().UTC(),
	}
	select {
	case c.Send <- models.ServerEvent{Event: models.EvAck, Ack: &ack}:
	default:
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				logger.L().Warn("event encode failed", zap.String("user", c.UserID), zap.Error(err))
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
