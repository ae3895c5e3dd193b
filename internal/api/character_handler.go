package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/trpg-server/internal/errors"
	"github.com/wfunc/trpg-server/internal/middleware"
	"github.com/wfunc/trpg-server/internal/models"
	"github.com/wfunc/trpg-server/internal/repository"
)

// CharacterHandler 角色卡处理器
type CharacterHandler struct {
	characterRepo repository.CharacterRepository
	logger        *zap.Logger
}

// NewCharacterHandler 创建角色卡处理器
func NewCharacterHandler(characterRepo repository.CharacterRepository, logger *zap.Logger) *CharacterHandler {
	return &CharacterHandler{
		characterRepo: characterRepo,
		logger:        logger,
	}
}

// characterRequest 创建/更新角色请求
type characterRequest struct {
	Name string         `json:"name" binding:"required,max=100"`
	Data models.JSONMap `json:"data"`
}

// Create 创建角色
func (h *CharacterHandler) Create(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req characterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	if req.Data == nil {
		req.Data = models.JSONMap{}
	}

	character := &models.Character{
		UserID: userID,
		Name:   req.Name,
		Data:   req.Data,
	}

	if err := h.characterRepo.Create(c.Request.Context(), character); err != nil {
		h.logger.Error("创建角色失败", zap.Error(err), zap.Uint("user_id", userID))
		respondError(c, apperrors.Wrap(err, apperrors.ErrDatabaseInsert))
		return
	}

	c.JSON(http.StatusOK, gin.H{"character": character})
}

// List 列出当前用户的角色
func (h *CharacterHandler) List(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	characters, err := h.characterRepo.FindByUserID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{"characters": characters})
}

// Get 获取单个角色
func (h *CharacterHandler) Get(c *gin.Context) {
	character, ok := h.loadOwned(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"character": character})
}

// Update 更新角色
func (h *CharacterHandler) Update(c *gin.Context) {
	character, ok := h.loadOwned(c)
	if !ok {
		return
	}

	var req characterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	character.Name = req.Name
	if req.Data != nil {
		character.Data = req.Data
	}

	if err := h.characterRepo.Update(c.Request.Context(), character); err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrDatabaseUpdate))
		return
	}

	c.JSON(http.StatusOK, gin.H{"character": character})
}

// Delete 删除角色
func (h *CharacterHandler) Delete(c *gin.Context) {
	character, ok := h.loadOwned(c)
	if !ok {
		return
	}

	if err := h.characterRepo.Delete(c.Request.Context(), character.ID); err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrDatabaseUpdate))
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "角色已删除"})
}

// loadOwned 加载路径参数指定的角色，并校验归属
func (h *CharacterHandler) loadOwned(c *gin.Context) (*models.Character, bool) {
	userID, _ := middleware.GetUserID(c)

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, apperrors.New(apperrors.ErrInvalidParam, "角色ID无效"))
		return nil, false
	}

	character, err := h.characterRepo.FindByID(c.Request.Context(), uint(id))
	if err != nil {
		if repository.IsNotFound(err) {
			respondError(c, apperrors.New(apperrors.ErrCharacterNotFound))
			return nil, false
		}
		respondError(c, apperrors.Wrap(err, apperrors.ErrDatabaseQuery))
		return nil, false
	}

	if character.UserID != userID {
		respondError(c, apperrors.New(apperrors.ErrPermissionDenied, "不能操作他人的角色"))
		return nil, false
	}

	return character, true
}
