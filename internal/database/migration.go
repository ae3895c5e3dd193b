package database

import (
	"fmt"

	"github.com/wfunc/trpg-server/internal/logger"
	"github.com/wfunc/trpg-server/internal/models"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	err := DB.AutoMigrate(
		&models.User{},
		&models.Character{},
		&models.GameSession{},
		&models.SessionParticipant{},
		&models.StoryLog{},
		&models.ActionJudgment{},
	)
	if err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	logger.Info("数据库迁移完成")
	return nil
}
