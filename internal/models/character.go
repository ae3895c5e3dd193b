package models

// 六项能力值在角色数据JSON中的键名
const (
	AbilityStrength     = "strength"     // 力量
	AbilityDexterity    = "dexterity"    // 敏捷
	AbilityConstitution = "constitution" // 体质
	AbilityIntelligence = "intelligence" // 智力
	AbilityWisdom       = "wisdom"       // 感知
	AbilityCharisma     = "charisma"     // 魅力
)

// AllAbilities 六项能力值键名列表
var AllAbilities = []string{
	AbilityStrength,
	AbilityDexterity,
	AbilityConstitution,
	AbilityIntelligence,
	AbilityWisdom,
	AbilityCharisma,
}

// DefaultAbilityScore 未设置能力值时的默认值
const DefaultAbilityScore = 10

// Character 玩家角色表
// Data 字段存放角色卡JSON：六项能力值、HP、MP、物品栏、状态效果等
type Character struct {
	BaseModel
	UserID uint    `gorm:"index;not null" json:"user_id"`
	Name   string  `gorm:"size:100;not null" json:"name"`
	Data   JSONMap `gorm:"type:json;not null" json:"data"`
}

// TableName 指定Character表名
func (Character) TableName() string {
	return "characters"
}

// AbilityScore 读取指定能力值（未设置时返回默认值10）
func (c *Character) AbilityScore(ability string) int {
	if c.Data == nil {
		return DefaultAbilityScore
	}
	return c.Data.IntValue(ability, DefaultAbilityScore)
}

// StatusEffectModifier 累计所有状态效果的加值/减值
func (c *Character) StatusEffectModifier() int {
	if c.Data == nil {
		return 0
	}

	effects, ok := c.Data["status_effects"].([]interface{})
	if !ok {
		return 0
	}

	total := 0
	for _, e := range effects {
		effect, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		if mod, ok := effect["modifier"].(float64); ok {
			total += int(mod)
		}
	}
	return total
}
