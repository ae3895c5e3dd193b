package websocket

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/wfunc/trpg-server/internal/errors"
	"github.com/wfunc/trpg-server/internal/game"
)

// 客户端上行事件名
const (
	ActionJoinSession      = "join_session"
	ActionLeaveSession     = "leave_session"
	ActionSessionHeartbeat = "session_heartbeat"
	ActionSubmitAction     = "submit_action"
	ActionEditAction       = "edit_action"
	ActionDeleteAction     = "delete_action"
	ActionReorderActions   = "reorder_actions"
	ActionCommitActions    = "commit_actions"
	ActionGetQueue         = "get_queue"
	ActionRollDice         = "roll_dice"
	ActionNextJudgment     = "next_judgment"
	ActionTriggerStory     = "trigger_story_generation"
	ActionChatMessage      = "chat_message"
)

// SessionHandler 判定会话消息处理器
// 解析上行事件并转交引擎，错误只回给请求方，不广播
type SessionHandler struct {
	hub      *Hub
	registry *game.Registry
	logger   *zap.Logger
}

// NewSessionHandler 创建会话消息处理器
func NewSessionHandler(hub *Hub, registry *game.Registry, logger *zap.Logger) *SessionHandler {
	h := &SessionHandler{
		hub:      hub,
		registry: registry,
		logger:   logger,
	}
	hub.SetHandler(h)
	return h
}

// joinRequest 加入会话
type joinRequest struct {
	SessionID   uint `json:"session_id"`
	CharacterID uint `json:"character_id"`
}

// submitRequest 提交行动
type submitRequest struct {
	ActionText string `json:"action_text"`
}

// editRequest 编辑行动
type editRequest struct {
	ActionID   int64  `json:"action_id"`
	ActionText string `json:"action_text"`
}

// deleteRequest 删除行动
type deleteRequest struct {
	ActionID int64 `json:"action_id"`
}

// reorderRequest 重排队列
type reorderRequest struct {
	ActionIDs []int64 `json:"action_ids"`
}

// rollRequest 掷骰
// judgment_id 来自 judgment_ready 事件；dice_result 是客户端本地骰值，
// 服务端校验后用自己的骰结算，两个字段都可省略
type rollRequest struct {
	JudgmentID uint `json:"judgment_id"`
	DiceResult int  `json:"dice_result"`
}

// nextRequest 推进判定，携带客户端认为的当前下标
type nextRequest struct {
	JudgmentIndex int `json:"judgment_index"`
}

// chatRequest 聊天消息
type chatRequest struct {
	Message string `json:"message"`
}

// errorPayload 下行错误事件
type errorPayload struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Details string           `json:"details,omitempty"`
	State   interface{}      `json:"state,omitempty"`
}

// HandleClientMessage 处理一条上行消息
func (h *SessionHandler) HandleClientMessage(c *Client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("解析消息失败",
			zap.String("client_id", c.ID),
			zap.Error(err))
		h.sendError(c, errors.New(errors.ErrInvalidParam, "消息格式错误"))
		return
	}
	if msg.Event == "" {
		h.sendError(c, errors.New(errors.ErrInvalidParam, "事件名不能为空"))
		return
	}

	ctx := context.Background()
	sessionID := c.Session()
	var err error

	switch msg.Event {
	case ActionJoinSession:
		err = h.handleJoin(ctx, c, msg.Data)
	case ActionLeaveSession:
		err = h.handleLeave(ctx, c)
	case ActionSessionHeartbeat:
		err = h.registry.Heartbeat(sessionID, c.UserID)
	case ActionSubmitAction:
		var req submitRequest
		if err = decode(msg.Data, &req); err == nil {
			err = h.registry.SubmitAction(ctx, sessionID, c.UserID, req.ActionText)
		}
	case ActionEditAction:
		var req editRequest
		if err = decode(msg.Data, &req); err == nil {
			err = h.registry.EditAction(ctx, sessionID, c.UserID, req.ActionID, req.ActionText)
		}
	case ActionDeleteAction:
		var req deleteRequest
		if err = decode(msg.Data, &req); err == nil {
			err = h.registry.DeleteAction(ctx, sessionID, c.UserID, req.ActionID)
		}
	case ActionReorderActions:
		var req reorderRequest
		if err = decode(msg.Data, &req); err == nil {
			err = h.registry.ReorderActions(ctx, sessionID, c.UserID, req.ActionIDs)
		}
	case ActionCommitActions:
		err = h.registry.Commit(ctx, sessionID, c.UserID)
	case ActionGetQueue:
		err = h.registry.SendQueue(sessionID, c.UserID)
	case ActionRollDice:
		var req rollRequest
		if len(msg.Data) > 0 {
			err = decode(msg.Data, &req)
		}
		if err == nil {
			err = h.registry.RollDice(ctx, sessionID, c.UserID, req.JudgmentID, req.DiceResult)
		}
	case ActionNextJudgment:
		var req nextRequest
		if err = decode(msg.Data, &req); err == nil {
			err = h.registry.NextJudgment(ctx, sessionID, c.UserID, req.JudgmentIndex)
		}
	case ActionTriggerStory:
		err = h.registry.TriggerStory(ctx, sessionID, c.UserID)
	case ActionChatMessage:
		var req chatRequest
		if err = decode(msg.Data, &req); err == nil {
			err = h.registry.Chat(sessionID, c.UserID, req.Message)
		}
	default:
		h.logger.Warn("收到不支持的事件",
			zap.String("client_id", c.ID),
			zap.String("event", msg.Event))
		err = errors.Newf(errors.ErrInvalidParam, "不支持的事件: %s", msg.Event)
	}

	if err != nil {
		if errors.IsAuthorization(err) {
			h.logger.Warn("越权操作被拒绝",
				zap.Uint("user_id", c.UserID),
				zap.Uint("session_id", sessionID),
				zap.String("event", msg.Event))
		}
		h.sendError(c, err)
	}
}

// handleJoin 加入会话并进入房间
func (h *SessionHandler) handleJoin(ctx context.Context, c *Client, data json.RawMessage) error {
	var req joinRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	// 已在别的会话里则先退出去
	if current := c.Session(); current != 0 && current != req.SessionID {
		if err := h.registry.Leave(ctx, current, c.UserID); err != nil {
			h.logger.Warn("退出原会话失败", zap.Error(err), zap.Uint("session_id", current))
		}
		h.hub.LeaveRoom(c)
	}
	// 先进房间再注册成员，保证加入广播和入场快照不会漏发给自己
	h.hub.JoinRoom(req.SessionID, c)
	if err := h.registry.Join(ctx, req.SessionID, c.UserID, req.CharacterID); err != nil {
		h.hub.LeaveRoom(c)
		return err
	}
	return nil
}

// handleLeave 离开会话和房间
func (h *SessionHandler) handleLeave(ctx context.Context, c *Client) error {
	sessionID := c.Session()
	if sessionID == 0 {
		return errors.New(errors.ErrNotParticipant)
	}
	h.hub.LeaveRoom(c)
	return h.registry.Leave(ctx, sessionID, c.UserID)
}

// HandleClientDisconnect 连接断开时通知引擎
func (h *SessionHandler) HandleClientDisconnect(c *Client) {
	sessionID := c.Session()
	if sessionID == 0 {
		return
	}
	if err := h.registry.Disconnect(context.Background(), sessionID, c.UserID); err != nil {
		h.logger.Warn("处理断线失败",
			zap.Error(err),
			zap.Uint("session_id", sessionID),
			zap.Uint("user_id", c.UserID))
	}
}

// sendError 错误只回给请求方
func (h *SessionHandler) sendError(c *Client, err error) {
	payload := &errorPayload{
		Code:    errors.GetCode(err),
		Message: err.Error(),
	}
	if appErr, ok := err.(*errors.AppError); ok {
		payload.Message = appErr.Message
		payload.Details = appErr.Details
		payload.State = appErr.State
	}
	h.hub.SendToClient(c, EventError, payload)
}

// decode 解析事件数据
func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return errors.New(errors.ErrInvalidParam, "缺少事件数据")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, errors.ErrInvalidParam, "事件数据格式错误")
	}
	return nil
}
