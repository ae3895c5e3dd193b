package repository

import (
	"context"

	"github.com/wfunc/trpg-server/internal/models"
	"gorm.io/gorm"
)

// StoryLogRepository 叙事记录仓储接口
type StoryLogRepository interface {
	BaseRepository
	Create(ctx context.Context, log *models.StoryLog) error
	FindBySessionID(ctx context.Context, sessionID uint) ([]*models.StoryLog, error)
	FindRecent(ctx context.Context, sessionID uint, limit int) ([]*models.StoryLog, error)
}

// storyLogRepo 叙事记录仓储实现
type storyLogRepo struct {
	*BaseRepo
}

// NewStoryLogRepository 创建叙事记录仓储
func NewStoryLogRepository(db *gorm.DB) StoryLogRepository {
	return &storyLogRepo{BaseRepo: NewBaseRepo(db)}
}

// Create 创建叙事记录
func (r *storyLogRepo) Create(ctx context.Context, log *models.StoryLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// FindBySessionID 获取会话的全部叙事记录（按时间顺序）
func (r *storyLogRepo) FindBySessionID(ctx context.Context, sessionID uint) ([]*models.StoryLog, error) {
	var logs []*models.StoryLog
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at asc, id asc").
		Find(&logs).Error
	return logs, err
}

// FindRecent 获取会话最近的叙事记录（用于叙事生成的上下文）
func (r *storyLogRepo) FindRecent(ctx context.Context, sessionID uint, limit int) ([]*models.StoryLog, error) {
	var logs []*models.StoryLog
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}

	// 反转为时间正序
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}
