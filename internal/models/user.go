package models

import (
	"time"
)

// User 用户基础信息表
type User struct {
	BaseModel
	Username    string     `gorm:"uniqueIndex;size:50;not null" json:"username"`
	Password    string     `gorm:"size:255;not null" json:"-"`
	Nickname    string     `gorm:"size:100" json:"nickname"`
	Status      string     `gorm:"size:20;default:'active'" json:"status"` // active, frozen, banned
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP string     `gorm:"size:50" json:"last_login_ip"`

	// 关联（查询时使用 Preload("Characters") 加载）
	Characters []Character `gorm:"foreignKey:UserID" json:"-"`
}

// TableName 指定User表名
func (User) TableName() string {
	return "users"
}
