package game

import (
	"time"
)

// JudgmentStatus 单条判定的生命周期状态
type JudgmentStatus string

const (
	StatusWaiting  JudgmentStatus = "waiting"  // 等待前面的判定完成
	StatusActive   JudgmentStatus = "active"   // 当前判定，等待所有者掷骰
	StatusRolling  JudgmentStatus = "rolling"  // 骰子已收到，正在结算
	StatusComplete JudgmentStatus = "complete" // 已结算
)

// Outcome 判定结论
type Outcome string

const (
	OutcomeCriticalFailure Outcome = "critical_failure" // 大失败（天然1）
	OutcomeFailure         Outcome = "failure"          // 失败
	OutcomeSuccess         Outcome = "success"          // 成功
	OutcomeCriticalSuccess Outcome = "critical_success" // 大成功（天然20）
)

// BatchState 批次整体状态
type BatchState string

const (
	BatchCollecting BatchState = "collecting" // 收集行动中（队列可编辑）
	BatchJudging    BatchState = "judging"    // 判定进行中
	BatchFinished   BatchState = "finished"   // 全部判定完成，等待叙事生成
)

// QueuedAction 队列中的待判定行动
// 提交后行动文本只对主持人可见，提交批次（commit）后才对全员公开
type QueuedAction struct {
	ID            int64  `json:"id"`
	SessionID     uint   `json:"session_id"`
	PlayerID      uint   `json:"player_id"`
	CharacterID   uint   `json:"character_id"`
	CharacterName string `json:"character_name"`
	ActionText    string `json:"action_text"`
	Order         int    `json:"order"`
}

// Judgment 一条判定（分析结果 + 掷骰结果）
// 批次提交时创建（此时只有分析字段），掷骰结算后补全结果字段，之后不再变更
type Judgment struct {
	ID                  uint           `json:"judgment_id"` // 对应 ActionJudgment 记录ID
	ActionID            int64          `json:"action_id"`
	OwnerUserID         uint           `json:"-"` // 所有者用户ID，仅服务端用于回合归属校验
	CharacterID         uint           `json:"character_id"`
	CharacterName       string         `json:"character_name"`
	ActionText          string         `json:"action_text"`
	AbilityType         string         `json:"ability_type"`
	AbilityScore        int            `json:"ability_score"`
	Modifier            int            `json:"modifier"`
	Difficulty          int            `json:"difficulty"`
	DifficultyReasoning string         `json:"difficulty_reasoning"`
	Status              JudgmentStatus `json:"status"`

	// 掷骰结算后填充
	DiceResult       int     `json:"dice_result,omitempty"`
	FinalValue       int     `json:"final_value,omitempty"`
	Outcome          Outcome `json:"outcome,omitempty"`
	OutcomeReasoning string  `json:"outcome_reasoning,omitempty"`
}

// Clone 复制判定（广播和快照用，避免外部拿到内部指针）
func (j *Judgment) Clone() *Judgment {
	c := *j
	return &c
}

// JudgmentBatch 一次提交产生的判定批次
// 同一时刻至多一条判定处于 active/rolling；CurrentIndex 单调递增
type JudgmentBatch struct {
	Judgments      []*Judgment `json:"judgments"`
	CurrentIndex   int         `json:"current_index"`
	State          BatchState  `json:"state"`
	storyTriggered bool
}

// ActiveJudgment 返回当前判定（批次已结束时返回nil）
func (b *JudgmentBatch) ActiveJudgment() *Judgment {
	if b.CurrentIndex < 0 || b.CurrentIndex >= len(b.Judgments) {
		return nil
	}
	return b.Judgments[b.CurrentIndex]
}

// Snapshot 生成批次快照（深拷贝）
func (b *JudgmentBatch) Snapshot() *BatchSnapshot {
	judgments := make([]*Judgment, len(b.Judgments))
	for i, j := range b.Judgments {
		judgments[i] = j.Clone()
	}
	return &BatchSnapshot{
		State:        b.State,
		CurrentIndex: b.CurrentIndex,
		Judgments:    judgments,
	}
}

// BatchSnapshot 批次快照（重连时发给客户端做全量同步）
type BatchSnapshot struct {
	SessionID    uint        `json:"session_id"`
	State        BatchState  `json:"state"`
	CurrentIndex int         `json:"current_index"`
	Judgments    []*Judgment `json:"judgments"`
}

// Participant 会话参与者（内存态，带心跳时间）
type Participant struct {
	UserID        uint      `json:"user_id"`
	CharacterID   uint      `json:"character_id"`
	CharacterName string    `json:"character_name"`
	LastHeartbeat time.Time `json:"-"`
}

// 会话结束原因
const (
	ReasonHostEnded        = "host_ended"        // 主持人主动结束
	ReasonHostDisconnected = "host_disconnected" // 主持人断线
	ReasonNoParticipants   = "no_participants"   // 参与者全部离场
)
