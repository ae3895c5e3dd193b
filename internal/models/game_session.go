package models

import (
	"time"
)

// GameSession TRPG游戏会话表
// is_active 在会话结束（主持人结束/全员离场）时置为false，但记录不删除，
// 主持人可以重新开启（restart）
type GameSession struct {
	BaseModel
	HostUserID  uint   `gorm:"index;not null" json:"host_user_id"`
	Title       string `gorm:"size:255;not null" json:"title"`
	WorldPrompt string `gorm:"type:text" json:"world_prompt"`
	Summary     string `gorm:"type:text" json:"summary"`
	IsActive    bool   `gorm:"default:true;not null" json:"is_active"`

	// 关联
	Participants []SessionParticipant `gorm:"foreignKey:SessionID" json:"-"`
	StoryLogs    []StoryLog           `gorm:"foreignKey:SessionID" json:"-"`
}

// TableName 指定GameSession表名
func (GameSession) TableName() string {
	return "game_sessions"
}

// SessionParticipant 会话参与者表
// 记录哪个用户带着哪个角色在哪个会话里，一个用户在一个会话里至多一条记录
type SessionParticipant struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SessionID   uint      `gorm:"index:idx_session_user,unique;not null" json:"session_id"`
	UserID      uint      `gorm:"index:idx_session_user,unique;not null" json:"user_id"`
	CharacterID uint      `gorm:"not null" json:"character_id"`
	JoinedAt    time.Time `json:"joined_at"`
}

// TableName 指定SessionParticipant表名
func (SessionParticipant) TableName() string {
	return "session_participants"
}

// StoryLog 会话叙事记录表
type StoryLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"index;not null" json:"session_id"`
	Role      string    `gorm:"size:10;not null" json:"role"` // USER 或 AI
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// StoryLog角色常量
const (
	StoryRoleUser = "USER"
	StoryRoleAI   = "AI"
)

// TableName 指定StoryLog表名
func (StoryLog) TableName() string {
	return "story_logs"
}
