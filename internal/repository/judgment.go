package repository

import (
	"context"

	"github.com/wfunc/trpg-server/internal/models"
	"gorm.io/gorm"
)

// JudgmentRepository 行动判定仓储接口
type JudgmentRepository interface {
	BaseRepository
	Create(ctx context.Context, judgment *models.ActionJudgment) error
	Update(ctx context.Context, judgment *models.ActionJudgment) error
	FindByID(ctx context.Context, id uint) (*models.ActionJudgment, error)
	FindBySessionID(ctx context.Context, sessionID uint) ([]*models.ActionJudgment, error)
	LinkStoryLog(ctx context.Context, judgmentIDs []uint, storyLogID uint) error
	DeleteUnresolved(ctx context.Context, sessionID uint) error
}

// judgmentRepo 行动判定仓储实现
type judgmentRepo struct {
	*BaseRepo
}

// NewJudgmentRepository 创建行动判定仓储
func NewJudgmentRepository(db *gorm.DB) JudgmentRepository {
	return &judgmentRepo{BaseRepo: NewBaseRepo(db)}
}

// Create 创建判定记录
func (r *judgmentRepo) Create(ctx context.Context, judgment *models.ActionJudgment) error {
	return r.db.WithContext(ctx).Create(judgment).Error
}

// Update 更新判定记录
func (r *judgmentRepo) Update(ctx context.Context, judgment *models.ActionJudgment) error {
	return r.db.WithContext(ctx).Save(judgment).Error
}

// FindByID 根据ID查找
func (r *judgmentRepo) FindByID(ctx context.Context, id uint) (*models.ActionJudgment, error) {
	var judgment models.ActionJudgment
	err := r.db.WithContext(ctx).First(&judgment, id).Error
	if err != nil {
		return nil, err
	}
	return &judgment, nil
}

// FindBySessionID 获取会话的全部判定记录
func (r *judgmentRepo) FindBySessionID(ctx context.Context, sessionID uint) ([]*models.ActionJudgment, error) {
	var judgments []*models.ActionJudgment
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id asc").
		Find(&judgments).Error
	return judgments, err
}

// LinkStoryLog 将一组判定关联到叙事记录
func (r *judgmentRepo) LinkStoryLog(ctx context.Context, judgmentIDs []uint, storyLogID uint) error {
	if len(judgmentIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.ActionJudgment{}).
		Where("id IN ?", judgmentIDs).
		Update("story_log_id", storyLogID).Error
}

// DeleteUnresolved 删除会话中未掷骰的判定记录（批次被强制清除时）
func (r *judgmentRepo) DeleteUnresolved(ctx context.Context, sessionID uint) error {
	return r.db.WithContext(ctx).
		Where("session_id = ? AND dice_result IS NULL", sessionID).
		Delete(&models.ActionJudgment{}).Error
}
