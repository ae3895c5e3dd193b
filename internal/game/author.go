package game

import (
	"context"
	"strings"

	"github.com/wfunc/trpg-server/internal/models"
)

// JudgmentDraft 行动分析结果（掷骰前的判定参数）
type JudgmentDraft struct {
	AbilityType         string
	AbilityScore        int
	Modifier            int
	Difficulty          int
	DifficultyReasoning string
}

// JudgmentAuthor 行动分析器接口
// 负责为每条行动选定检定属性和难度，可替换为外部AI实现
type JudgmentAuthor interface {
	Analyze(ctx context.Context, session *models.GameSession, action *QueuedAction, character *models.Character) (*JudgmentDraft, error)
}

// 行动关键词到检定属性的映射
var abilityKeywords = []struct {
	ability  string
	keywords []string
}{
	{models.AbilityStrength, []string{"攻击", "劈", "砍", "搬", "推", "撞", "掰", "举", "破门"}},
	{models.AbilityDexterity, []string{"潜行", "躲", "闪", "偷", "翻越", "攀爬", "射", "解锁", "跳"}},
	{models.AbilityConstitution, []string{"坚持", "抵抗", "忍受", "硬抗", "憋气", "熬"}},
	{models.AbilityIntelligence, []string{"调查", "分析", "回忆", "研究", "辨认", "解读", "推理"}},
	{models.AbilityWisdom, []string{"察觉", "聆听", "观察", "感知", "直觉", "搜索", "追踪"}},
	{models.AbilityCharisma, []string{"说服", "交涉", "威吓", "欺骗", "表演", "鼓舞", "谈判"}},
}

// StatAuthor 基于角色卡的默认分析器
// 按行动文本关键词选属性，按文本复杂度定难度
type StatAuthor struct {
	baseDifficulty int
}

// NewStatAuthor 创建默认分析器
func NewStatAuthor(baseDifficulty int) *StatAuthor {
	if baseDifficulty <= 0 {
		baseDifficulty = 12
	}
	return &StatAuthor{baseDifficulty: baseDifficulty}
}

// Analyze 分析一条行动
func (a *StatAuthor) Analyze(_ context.Context, _ *models.GameSession, action *QueuedAction, character *models.Character) (*JudgmentDraft, error) {
	ability := a.pickAbility(action.ActionText, character)
	score := character.AbilityScore(ability)
	modifier := AbilityModifier(score) + character.StatusEffectModifier()

	difficulty := a.baseDifficulty
	// 长描述视为更复杂的行动，适度提高难度
	runes := len([]rune(action.ActionText))
	switch {
	case runes > 120:
		difficulty += 4
	case runes > 60:
		difficulty += 2
	}
	if difficulty > 20 {
		difficulty = 20
	}

	return &JudgmentDraft{
		AbilityType:         ability,
		AbilityScore:        score,
		Modifier:            modifier,
		Difficulty:          difficulty,
		DifficultyReasoning: difficultyReasoning(ability, difficulty),
	}, nil
}

// pickAbility 命中关键词则用对应属性，否则取角色最高属性
func (a *StatAuthor) pickAbility(text string, character *models.Character) string {
	for _, entry := range abilityKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				return entry.ability
			}
		}
	}
	best := models.AbilityStrength
	bestScore := character.AbilityScore(best)
	for _, ability := range models.AllAbilities {
		if s := character.AbilityScore(ability); s > bestScore {
			best, bestScore = ability, s
		}
	}
	return best
}

func difficultyReasoning(ability string, difficulty int) string {
	var level string
	switch {
	case difficulty <= 10:
		level = "简单"
	case difficulty <= 14:
		level = "中等"
	case difficulty <= 17:
		level = "困难"
	default:
		level = "极难"
	}
	return level + "的" + abilityLabel(ability) + "检定"
}

func abilityLabel(ability string) string {
	switch ability {
	case models.AbilityStrength:
		return "力量"
	case models.AbilityDexterity:
		return "敏捷"
	case models.AbilityConstitution:
		return "体质"
	case models.AbilityIntelligence:
		return "智力"
	case models.AbilityWisdom:
		return "感知"
	case models.AbilityCharisma:
		return "魅力"
	default:
		return ability
	}
}
