package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Message WebSocket消息信封
type Message struct {
	Event     string          `json:"event"`              // 事件名
	Data      json.RawMessage `json:"data,omitempty"`     // 事件数据
	Timestamp int64           `json:"timestamp,omitempty"`
}

// 系统事件
const (
	EventConnected = "connected"
	EventError     = "error"
)

// MessageHandler 上行消息处理器
type MessageHandler interface {
	HandleClientMessage(client *Client, data []byte)
	HandleClientDisconnect(client *Client)
}

// Hub WebSocket连接管理中心
// 同时实现 game.Broadcaster，把引擎的广播请求路由到会话房间
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 用户ID到客户端的映射
	userClients map[uint][]*Client
	userMu      sync.RWMutex

	// 会话房间：会话ID -> 客户端ID -> 客户端
	rooms   map[uint]map[string]*Client
	roomsMu sync.RWMutex

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	// 上行消息处理器
	handler MessageHandler

	logger *zap.Logger
}

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		userClients: make(map[uint][]*Client),
		rooms:       make(map[uint]map[string]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		logger:      logger,
	}
}

// SetHandler 设置上行消息处理器
func (h *Hub) SetHandler(handler MessageHandler) {
	h.handler = handler
}

// Run 运行Hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	if client.UserID > 0 {
		h.userMu.Lock()
		h.userClients[client.UserID] = append(h.userClients[client.UserID], client)
		h.userMu.Unlock()
	}

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.Uint("user_id", client.UserID))

	h.sendRaw(client, &Message{
		Event:     EventConnected,
		Timestamp: time.Now().Unix(),
		Data:      json.RawMessage(`{"message":"连接成功"}`),
	})
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	} else {
		h.clientsMu.Unlock()
		return
	}
	h.clientsMu.Unlock()

	if client.UserID > 0 {
		h.userMu.Lock()
		clients := h.userClients[client.UserID]
		for i, c := range clients {
			if c.ID == client.ID {
				h.userClients[client.UserID] = append(clients[:i], clients[i+1:]...)
				break
			}
		}
		if len(h.userClients[client.UserID]) == 0 {
			delete(h.userClients, client.UserID)
		}
		h.userMu.Unlock()
	}

	// 先通知处理器再离开房间，处理器还需要读取会话归属
	if h.handler != nil {
		h.handler.HandleClientDisconnect(client)
	}
	h.leaveRoom(client)

	h.logger.Info("WebSocket客户端断开",
		zap.String("client_id", client.ID),
		zap.Uint("user_id", client.UserID))
}

// JoinRoom 客户端进入会话房间
func (h *Hub) JoinRoom(sessionID uint, client *Client) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[sessionID] = room
	}
	room[client.ID] = client
	client.setSession(sessionID)
}

// leaveRoom 客户端离开所在房间
func (h *Hub) leaveRoom(client *Client) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	sessionID := client.Session()
	if sessionID == 0 {
		return
	}
	if room, ok := h.rooms[sessionID]; ok {
		delete(room, client.ID)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	client.setSession(0)
}

// LeaveRoom 客户端主动离开会话房间
func (h *Hub) LeaveRoom(client *Client) {
	h.leaveRoom(client)
}

// roomClients 取会话房间内的客户端快照
func (h *Hub) roomClients(sessionID uint) []*Client {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	room := h.rooms[sessionID]
	out := make([]*Client, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

// envelope 打包事件
func envelope(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Message{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// sendRaw 直接投递一条消息
func (h *Hub) sendRaw(client *Client, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}
	h.deliver(client, data)
}

// deliver 投递字节流，缓冲区满时丢弃并记录
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		h.logger.Warn("客户端发送缓冲区满",
			zap.String("client_id", client.ID),
			zap.Uint("user_id", client.UserID))
	}
}

// ToSession 向会话内所有成员广播（实现 game.Broadcaster）
func (h *Hub) ToSession(sessionID uint, event string, payload interface{}) {
	data, err := envelope(event, payload)
	if err != nil {
		h.logger.Error("序列化事件失败", zap.String("event", event), zap.Error(err))
		return
	}
	for _, client := range h.roomClients(sessionID) {
		h.deliver(client, data)
	}
}

// ToUser 向会话内指定用户单发（实现 game.Broadcaster）
func (h *Hub) ToUser(sessionID, userID uint, event string, payload interface{}) {
	data, err := envelope(event, payload)
	if err != nil {
		h.logger.Error("序列化事件失败", zap.String("event", event), zap.Error(err))
		return
	}
	for _, client := range h.roomClients(sessionID) {
		if client.UserID == userID {
			h.deliver(client, data)
		}
	}
}

// ToSessionExcept 向除指定用户外的成员广播（实现 game.Broadcaster）
func (h *Hub) ToSessionExcept(sessionID, userID uint, event string, payload interface{}) {
	data, err := envelope(event, payload)
	if err != nil {
		h.logger.Error("序列化事件失败", zap.String("event", event), zap.Error(err))
		return
	}
	for _, client := range h.roomClients(sessionID) {
		if client.UserID != userID {
			h.deliver(client, data)
		}
	}
}

// CloseSession 会话结束，清空房间（实现 game.Broadcaster）
func (h *Hub) CloseSession(sessionID uint) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	if room, ok := h.rooms[sessionID]; ok {
		for _, client := range room {
			client.setSession(0)
		}
		delete(h.rooms, sessionID)
	}
}

// SendToClient 发送事件给指定客户端
func (h *Hub) SendToClient(client *Client, event string, payload interface{}) {
	data, err := envelope(event, payload)
	if err != nil {
		h.logger.Error("序列化事件失败", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(client, data)
}

// OnlineCount 在线连接数
func (h *Hub) OnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}
