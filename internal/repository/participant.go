package repository

import (
	"context"
	"time"

	"github.com/wfunc/trpg-server/internal/models"
	"gorm.io/gorm"
)

// ParticipantInfo 参与者视图（带角色名）
type ParticipantInfo struct {
	UserID        uint   `json:"user_id"`
	CharacterID   uint   `json:"character_id"`
	CharacterName string `json:"character_name"`
}

// ParticipantRepository 会话参与者仓储接口
type ParticipantRepository interface {
	BaseRepository
	Upsert(ctx context.Context, sessionID, userID, characterID uint) error
	Remove(ctx context.Context, sessionID, userID uint) (bool, error)
	RemoveAll(ctx context.Context, sessionID uint) error
	Count(ctx context.Context, sessionID uint) (int64, error)
	List(ctx context.Context, sessionID uint) ([]*ParticipantInfo, error)
	Find(ctx context.Context, sessionID, userID uint) (*models.SessionParticipant, error)
}

// participantRepo 会话参与者仓储实现
type participantRepo struct {
	*BaseRepo
}

// NewParticipantRepository 创建会话参与者仓储
func NewParticipantRepository(db *gorm.DB) ParticipantRepository {
	return &participantRepo{BaseRepo: NewBaseRepo(db)}
}

// Upsert 新增或更新参与者记录（同一用户在同一会话至多一条）
func (r *participantRepo) Upsert(ctx context.Context, sessionID, userID, characterID uint) error {
	var existing models.SessionParticipant
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		First(&existing).Error

	if err == nil {
		// 已存在，更新角色与加入时间
		existing.CharacterID = characterID
		existing.JoinedAt = time.Now()
		return r.db.WithContext(ctx).Save(&existing).Error
	}

	if !IsNotFound(err) {
		return err
	}

	participant := &models.SessionParticipant{
		SessionID:   sessionID,
		UserID:      userID,
		CharacterID: characterID,
		JoinedAt:    time.Now(),
	}
	return r.db.WithContext(ctx).Create(participant).Error
}

// Remove 移除参与者记录，返回是否实际删除
func (r *participantRepo) Remove(ctx context.Context, sessionID, userID uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Delete(&models.SessionParticipant{})
	return result.RowsAffected > 0, result.Error
}

// RemoveAll 移除会话的全部参与者记录
func (r *participantRepo) RemoveAll(ctx context.Context, sessionID uint) error {
	return r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&models.SessionParticipant{}).Error
}

// Count 统计会话参与者数量
func (r *participantRepo) Count(ctx context.Context, sessionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SessionParticipant{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}

// List 获取会话的参与者列表（带角色名）
func (r *participantRepo) List(ctx context.Context, sessionID uint) ([]*ParticipantInfo, error) {
	var infos []*ParticipantInfo
	err := r.db.WithContext(ctx).
		Model(&models.SessionParticipant{}).
		Select("session_participants.user_id, session_participants.character_id, characters.name as character_name").
		Joins("JOIN characters ON characters.id = session_participants.character_id").
		Where("session_participants.session_id = ?", sessionID).
		Order("session_participants.joined_at asc").
		Scan(&infos).Error
	return infos, err
}

// Find 查找指定参与者记录
func (r *participantRepo) Find(ctx context.Context, sessionID, userID uint) (*models.SessionParticipant, error) {
	var participant models.SessionParticipant
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		First(&participant).Error
	if err != nil {
		return nil, err
	}
	return &participant, nil
}
