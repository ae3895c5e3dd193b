package models

import (
	"time"
)

// ActionJudgment 行动判定记录表
// 批次提交时写入（此时只有分析结果），玩家掷骰后补全骰子与结论字段，
// 叙事生成后通过 StoryLogID 关联到对应的叙事记录
type ActionJudgment struct {
	ID          uint  `gorm:"primaryKey" json:"id"`
	SessionID   uint  `gorm:"index;not null" json:"session_id"`
	CharacterID uint  `gorm:"not null" json:"character_id"`
	StoryLogID  *uint `gorm:"index" json:"story_log_id,omitempty"`

	ActionText          string `gorm:"type:text;not null" json:"action_text"`
	AbilityType         string `gorm:"size:50" json:"ability_type"` // strength, dexterity 等
	AbilityScore        int    `gorm:"not null" json:"ability_score"`
	Modifier            int    `gorm:"not null" json:"modifier"`
	Difficulty          int    `gorm:"not null" json:"difficulty"`
	DifficultyReasoning string `gorm:"type:text" json:"difficulty_reasoning"`

	// 掷骰之前为空
	DiceResult *int   `json:"dice_result,omitempty"`
	FinalValue *int   `json:"final_value,omitempty"`
	Outcome    string `gorm:"size:50" json:"outcome,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定ActionJudgment表名
func (ActionJudgment) TableName() string {
	return "action_judgments"
}
