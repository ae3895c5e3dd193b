package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/trpg-server/internal/errors"
	"github.com/wfunc/trpg-server/internal/game"
	"github.com/wfunc/trpg-server/internal/middleware"
	"github.com/wfunc/trpg-server/internal/models"
	"github.com/wfunc/trpg-server/internal/repository"
)

// SessionHandler 游戏会话处理器
type SessionHandler struct {
	sessionRepo     repository.GameSessionRepository
	participantRepo repository.ParticipantRepository
	storyRepo       repository.StoryLogRepository
	registry        *game.Registry
	logger          *zap.Logger
}

// NewSessionHandler 创建游戏会话处理器
func NewSessionHandler(
	sessionRepo repository.GameSessionRepository,
	participantRepo repository.ParticipantRepository,
	storyRepo repository.StoryLogRepository,
	registry *game.Registry,
	logger *zap.Logger,
) *SessionHandler {
	return &SessionHandler{
		sessionRepo:     sessionRepo,
		participantRepo: participantRepo,
		storyRepo:       storyRepo,
		registry:        registry,
		logger:          logger,
	}
}

// createSessionRequest 创建会话请求
type createSessionRequest struct {
	Title       string `json:"title" binding:"required,max=255"`
	WorldPrompt string `json:"world_prompt"`
}

// Create 创建游戏会话（创建者即主持人）
func (h *SessionHandler) Create(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	session := &models.GameSession{
		HostUserID:  userID,
		Title:       req.Title,
		WorldPrompt: req.WorldPrompt,
		IsActive:    true,
	}

	if err := h.sessionRepo.Create(c.Request.Context(), session); err != nil {
		h.logger.Error("创建会话失败", zap.Error(err), zap.Uint("user_id", userID))
		respondError(c, apperrors.Wrap(err, apperrors.ErrDatabaseInsert))
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": session})
}

// List 列出进行中的会话
func (h *SessionHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	sessions, err := h.sessionRepo.FindActive(c.Request.Context(), &repository.Pagination{
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// Mine 列出当前用户主持的会话
func (h *SessionHandler) Mine(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	sessions, err := h.sessionRepo.FindByHost(c.Request.Context(), userID)
	if err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// Get 获取会话详情（含参与者列表）
func (h *SessionHandler) Get(c *gin.Context) {
	session, ok := h.load(c)
	if !ok {
		return
	}

	participants, err := h.participantRepo.List(c.Request.Context(), session.ID)
	if err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":      session,
		"participants": participants,
	})
}

// StoryLogs 获取会话叙事记录
func (h *SessionHandler) StoryLogs(c *gin.Context) {
	session, ok := h.load(c)
	if !ok {
		return
	}

	logs, err := h.storyRepo.FindBySessionID(c.Request.Context(), session.ID)
	if err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{"story_logs": logs})
}

// Restart 主持人重新开启已结束的会话
func (h *SessionHandler) Restart(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	session, ok := h.load(c)
	if !ok {
		return
	}

	if err := h.registry.Restart(c.Request.Context(), session.ID, userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "会话已重新开启"})
}

// End 主持人通过REST接口结束会话
func (h *SessionHandler) End(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	session, ok := h.load(c)
	if !ok {
		return
	}

	if err := h.registry.End(c.Request.Context(), session.ID, userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "会话已结束"})
}

// load 加载路径参数指定的会话
func (h *SessionHandler) load(c *gin.Context) (*models.GameSession, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, apperrors.New(apperrors.ErrInvalidParam, "会话ID无效"))
		return nil, false
	}

	session, err := h.sessionRepo.FindByID(c.Request.Context(), uint(id))
	if err != nil {
		if repository.IsNotFound(err) {
			respondError(c, apperrors.New(apperrors.ErrSessionNotFound))
			return nil, false
		}
		respondError(c, apperrors.Wrap(err, apperrors.ErrDatabaseQuery))
		return nil, false
	}

	return session, true
}
