package game

import (
	"crypto/rand"
	"math/big"
)

// D20 骰面数
const D20 = 20

// DiceRoller 掷骰接口，测试时可注入固定序列
type DiceRoller interface {
	// RollD20 返回 [1, 20] 的整数
	RollD20() int
}

// CryptoDiceRoller 加密安全的掷骰器
type CryptoDiceRoller struct{}

// NewCryptoDiceRoller 创建加密掷骰器
func NewCryptoDiceRoller() *CryptoDiceRoller {
	return &CryptoDiceRoller{}
}

// RollD20 掷一颗二十面骰
func (r *CryptoDiceRoller) RollD20() int {
	n, err := rand.Int(rand.Reader, big.NewInt(D20))
	if err != nil {
		// 熵源不可用时退化为中位值，不中断判定流程
		return D20 / 2
	}
	return int(n.Int64()) + 1
}

// AbilityModifier 属性调整值：(属性值-10)/2 向下取整
// 负数同样向下取整，8 -> -1，7 -> -2
func AbilityModifier(score int) int {
	diff := score - 10
	if diff >= 0 {
		return diff / 2
	}
	return -((-diff + 1) / 2)
}

// DetermineOutcome 结算判定结论
// 天然1恒为大失败、天然20恒为大成功，与最终值无关；
// 其余按 最终值 >= 难度 判成功
func DetermineOutcome(diceResult, finalValue, difficulty int) Outcome {
	switch {
	case diceResult == 1:
		return OutcomeCriticalFailure
	case diceResult == D20:
		return OutcomeCriticalSuccess
	case finalValue >= difficulty:
		return OutcomeSuccess
	default:
		return OutcomeFailure
	}
}

// OutcomeReasoning 生成结算说明文本
func OutcomeReasoning(j *Judgment) string {
	switch j.Outcome {
	case OutcomeCriticalFailure:
		return "天然1，大失败"
	case OutcomeCriticalSuccess:
		return "天然20，大成功"
	case OutcomeSuccess:
		return "检定通过"
	default:
		return "检定未通过"
	}
}
