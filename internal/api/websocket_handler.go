package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wfunc/trpg-server/internal/config"
	apperrors "github.com/wfunc/trpg-server/internal/errors"
	"github.com/wfunc/trpg-server/internal/middleware"
	ws "github.com/wfunc/trpg-server/internal/websocket"
)

// WebSocketHandler WebSocket处理器
type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(hub *ws.Hub, cfg *config.WebSocketConfig, logger *zap.Logger) *WebSocketHandler {
	checkOrigin := func(r *http.Request) bool { return true }
	if cfg.CheckOrigin {
		checkOrigin = nil // 使用gorilla默认的同源检查
	}

	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// Serve 升级HTTP连接为WebSocket连接
func (h *WebSocketHandler) Serve(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    apperrors.ErrAuthentication,
			Message: "未认证的连接",
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败",
			zap.Uint("user_id", userID),
			zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, userID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	h.logger.Info("WebSocket连接建立",
		zap.String("client_id", client.ID),
		zap.Uint("user_id", userID),
		zap.String("ip", c.ClientIP()))
}

// OnlineCount 获取在线人数
func (h *WebSocketHandler) OnlineCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online_count": h.hub.OnlineCount()})
}
