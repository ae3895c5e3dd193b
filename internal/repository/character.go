package repository

import (
	"context"

	"github.com/wfunc/trpg-server/internal/models"
	"gorm.io/gorm"
)

// CharacterRepository 角色仓储接口
type CharacterRepository interface {
	BaseRepository
	Create(ctx context.Context, character *models.Character) error
	Update(ctx context.Context, character *models.Character) error
	Delete(ctx context.Context, id uint) error
	FindByID(ctx context.Context, id uint) (*models.Character, error)
	FindByUserID(ctx context.Context, userID uint) ([]*models.Character, error)
}

// characterRepo 角色仓储实现
type characterRepo struct {
	*BaseRepo
}

// NewCharacterRepository 创建角色仓储
func NewCharacterRepository(db *gorm.DB) CharacterRepository {
	return &characterRepo{BaseRepo: NewBaseRepo(db)}
}

// Create 创建角色
func (r *characterRepo) Create(ctx context.Context, character *models.Character) error {
	return r.db.WithContext(ctx).Create(character).Error
}

// Update 更新角色
func (r *characterRepo) Update(ctx context.Context, character *models.Character) error {
	return r.db.WithContext(ctx).Save(character).Error
}

// Delete 删除角色
func (r *characterRepo) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Character{}, id).Error
}

// FindByID 根据ID查找
func (r *characterRepo) FindByID(ctx context.Context, id uint) (*models.Character, error) {
	var character models.Character
	err := r.db.WithContext(ctx).First(&character, id).Error
	if err != nil {
		return nil, err
	}
	return &character, nil
}

// FindByUserID 查找用户的全部角色
func (r *characterRepo) FindByUserID(ctx context.Context, userID uint) ([]*models.Character, error) {
	var characters []*models.Character
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&characters).Error
	return characters, err
}
