package repository

import (
	"context"

	"github.com/wfunc/trpg-server/internal/models"
	"gorm.io/gorm"
)

// GameSessionRepository 游戏会话仓储接口
type GameSessionRepository interface {
	BaseRepository
	Create(ctx context.Context, session *models.GameSession) error
	Update(ctx context.Context, session *models.GameSession) error
	Delete(ctx context.Context, id uint) error
	FindByID(ctx context.Context, id uint) (*models.GameSession, error)
	FindActive(ctx context.Context, p *Pagination) ([]*models.GameSession, error)
	FindByHost(ctx context.Context, hostUserID uint) ([]*models.GameSession, error)
	SetActive(ctx context.Context, id uint, active bool) error
}

// gameSessionRepo 游戏会话仓储实现
type gameSessionRepo struct {
	*BaseRepo
}

// NewGameSessionRepository 创建游戏会话仓储
func NewGameSessionRepository(db *gorm.DB) GameSessionRepository {
	return &gameSessionRepo{BaseRepo: NewBaseRepo(db)}
}

// Create 创建游戏会话
func (r *gameSessionRepo) Create(ctx context.Context, session *models.GameSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// Update 更新游戏会话
func (r *gameSessionRepo) Update(ctx context.Context, session *models.GameSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

// Delete 删除游戏会话
func (r *gameSessionRepo) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.GameSession{}, id).Error
}

// FindByID 根据ID查找
func (r *gameSessionRepo) FindByID(ctx context.Context, id uint) (*models.GameSession, error) {
	var session models.GameSession
	err := r.db.WithContext(ctx).First(&session, id).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindActive 查找活跃会话（分页）
func (r *gameSessionRepo) FindActive(ctx context.Context, p *Pagination) ([]*models.GameSession, error) {
	var sessions []*models.GameSession

	// 查询总数
	r.db.WithContext(ctx).
		Model(&models.GameSession{}).
		Where("is_active = ?", true).
		Count(&p.Total)

	// 查询数据
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at desc").
		Scopes(Paginate(p)).
		Find(&sessions).Error

	return sessions, err
}

// FindByHost 查找主持人的全部会话
func (r *gameSessionRepo) FindByHost(ctx context.Context, hostUserID uint) ([]*models.GameSession, error) {
	var sessions []*models.GameSession
	err := r.db.WithContext(ctx).
		Where("host_user_id = ?", hostUserID).
		Order("created_at desc").
		Find(&sessions).Error
	return sessions, err
}

// SetActive 设置会话活跃状态
func (r *gameSessionRepo) SetActive(ctx context.Context, id uint, active bool) error {
	return r.db.WithContext(ctx).
		Model(&models.GameSession{}).
		Where("id = ?", id).
		Update("is_active", active).Error
}
