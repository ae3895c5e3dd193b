package game

import (
	"context"
	"strings"

	"github.com/wfunc/trpg-server/internal/models"
)

// Narrator 叙事生成器接口
// 批次全部结算后根据判定结果生成剧情文本，可替换为外部AI实现
// recent 是会话最近的剧情记录，供生成器做上下文衔接
type Narrator interface {
	Narrate(ctx context.Context, sessionID uint, worldPrompt string, recent []*models.StoryLog, judgments []*Judgment) (string, error)
}

// TemplateNarrator 默认叙事生成器，按判定结果拼接模板文本
type TemplateNarrator struct{}

// NewTemplateNarrator 创建默认叙事生成器
func NewTemplateNarrator() *TemplateNarrator {
	return &TemplateNarrator{}
}

// Narrate 生成本回合叙事
// 模板实现只按判定结果拼接，不使用历史上下文
func (n *TemplateNarrator) Narrate(_ context.Context, _ uint, _ string, _ []*models.StoryLog, judgments []*Judgment) (string, error) {
	var sb strings.Builder
	for i, j := range judgments {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(j.CharacterName)
		sb.WriteString(outcomePhrase(j.Outcome))
		sb.WriteString("：")
		sb.WriteString(j.ActionText)
	}
	return sb.String(), nil
}

func outcomePhrase(o Outcome) string {
	switch o {
	case OutcomeCriticalSuccess:
		return "取得了出乎意料的成功"
	case OutcomeSuccess:
		return "成功了"
	case OutcomeCriticalFailure:
		return "遭遇了灾难性的失败"
	default:
		return "失败了"
	}
}
