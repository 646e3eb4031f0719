package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qubelab/qube-monitor/internal/service"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = 50 * time.Second
)

// WSHandler upgrades dashboard clients onto the notification hub.
type WSHandler struct {
	hub    *service.Hub
	logger *zap.Logger
}

// NewWSHandler constructs WSHandler.
func NewWSHandler(hub *service.Hub, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{hub: hub, logger: logger}
}

// Serve upgrades the connection and pumps hub events until the client leaves.
func (h *WSHandler) Serve(c *gin.Context) {
	conn, err := h.hub.Upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	peer, cleanup := h.hub.Register(conn)
	go h.writePump(peer)
	h.readPump(peer, cleanup)
}

// readPump discards client frames; the socket is push-only. It exists to
// observe close frames and keep the pong deadline fresh.
func (h *WSHandler) readPump(peer *service.Peer, cleanup func()) {
	defer func() {
		cleanup()
		_ = peer.Conn.Close()
	}()

	_ = peer.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
	peer.Conn.SetPongHandler(func(string) error {
		return peer.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := peer.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHandler) writePump(peer *service.Peer) {
	ticker := time.NewTicker(wsPingEvery)
	defer func() {
		ticker.Stop()
		_ = peer.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-peer.Send:
			_ = peer.Conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = peer.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := peer.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = peer.Conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := peer.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
