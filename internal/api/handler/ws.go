package handler

import (
	"net/http"

	"carechat/backend/internal/chathub"
	"carechat/backend/internal/logger"
	"carechat/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is checked by the platform gateway in front of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket authenticates the request, upgrades it, and hands the
// connection to the hub. Registration pushes the connected snapshot to the
// client; everything after that flows over the socket.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	ident, err := h.identityFromRequest(c)
	if err != nil {
		fail(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.L().Warn("websocket upgrade failed", zap.String("user", ident.UserID), zap.Error(err))
		return
	}

	client := &chathub.WebSocketClient{
		Hub:    h.Hub,
		UserID: ident.UserID,
		Role:   ident.Role,
		Conn:   conn,
		Send:   make(chan models.ServerEvent, 256),
	}
	h.Hub.RegisterCh <- client
	client.Run()
}
