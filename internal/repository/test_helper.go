package repository

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wfunc/trpg-server/internal/models"
)

// SetupTestDB 为测试创建内存数据库并迁移全部模型
func SetupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.User{},
		&models.Character{},
		&models.GameSession{},
		&models.SessionParticipant{},
		&models.StoryLog{},
		&models.ActionJudgment{},
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})
	return db
}

// CreateTestUser 创建测试用户
func CreateTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	user := &models.User{
		Username: username,
		Password: "hashed",
		Nickname: username,
		Status:   "active",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateTestCharacter 创建测试角色
func CreateTestCharacter(t *testing.T, db *gorm.DB, userID uint, name string, data models.JSONMap) *models.Character {
	if data == nil {
		data = models.JSONMap{}
	}
	character := &models.Character{
		UserID: userID,
		Name:   name,
		Data:   data,
	}
	require.NoError(t, db.Create(character).Error)
	return character
}

// CreateTestSession 创建测试游戏会话
func CreateTestSession(t *testing.T, db *gorm.DB, hostUserID uint, title string) *models.GameSession {
	session := &models.GameSession{
		HostUserID:  hostUserID,
		Title:       title,
		WorldPrompt: "剑与魔法的奇幻世界",
		IsActive:    true,
	}
	require.NoError(t, db.Create(session).Error)
	return session
}
