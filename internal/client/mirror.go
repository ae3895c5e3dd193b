// Package client 实现判定会话的客户端状态镜像。
// 镜像只做整块替换，不做逐字段合并，保证所有客户端
// 无论事件到达顺序如何最终收敛到同一状态。
package client

import (
	"encoding/json"
	"sync"

	"github.com/wfunc/trpg-server/internal/game"
)

// ProvisionalID 本地预测判定的哨兵ID
// 服务端分配的判定ID恒为正数，负数ID只会是本地合成的
const ProvisionalID int64 = -1

// ProvisionalRoll 本地预测的掷骰结果
// 只用于渲染"你掷出了N，等待确认"，权威结果到达时整体丢弃
// JudgmentID 恒为 ProvisionalID，不会与服务端判定ID混淆
type ProvisionalRoll struct {
	JudgmentID    int64
	JudgmentIndex int
	DiceResult    int
}

// Mirror 会话状态的本地镜像
type Mirror struct {
	mu sync.Mutex

	sessionID    uint
	participants []*game.Participant

	// 队列视图：主持人有完整队列，其他人只有数量
	actions    []*game.QueuedAction
	queueCount int

	// 批次视图
	judgments    []*game.Judgment
	currentIndex int
	batchState   game.BatchState

	provisional *ProvisionalRoll

	// 与服务端断联后置位，重连时必须请求全量快照而不是等事件重放
	needsResync bool
}

// NewMirror 创建会话镜像
func NewMirror(sessionID uint) *Mirror {
	return &Mirror{
		sessionID:    sessionID,
		currentIndex: -1,
	}
}

// HandleEvent 处理一条服务端事件
// 未知事件直接忽略，镜像只关心会影响本地状态的事件
func (m *Mirror) HandleEvent(event string, data []byte) error {
	switch event {
	case game.EventUserJoined:
		var p game.UserJoinedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		m.applyParticipants(p.Participants)
	case game.EventUserLeft:
		// 成员列表以下一次 user_joined/快照为准，这里只更新数量
		var p game.UserLeftPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		m.removeParticipant(p.UserID)
	case game.EventQueueData, game.EventQueueUpdated:
		var p game.QueuePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		m.applyQueue(p.Actions, p.QueueCount)
	case game.EventQueueCount:
		var p game.QueueCountPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		m.applyQueue(nil, p.QueueCount)
	case game.EventActionSubmitted:
		var p game.ActionSubmittedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		m.applyQueueCount(p.QueueCount)
	case game.EventJudgmentsReady:
		var p game.JudgmentsReadyPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		m.applyBatch(p.Judgments, p.CurrentIndex, game.BatchJudging)
	case game.EventJudgmentReady, game.EventPlayerActionAnalyzed:
		// 两个事件内容一致，区别只在投递对象（所有者/旁观者）
		var p game.ActionAnalyzedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		m.applyAnalyzed(p.JudgmentIndex, p.Judgment)
	case game.EventJudgmentSnapshot:
		var p game.BatchSnapshot
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		m.applyBatch(p.Judgments, p.CurrentIndex, p.State)
	case game.EventDiceRolled:
		var p game.DiceRolledPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		m.applyDiceRolled(p.JudgmentIndex, p.Judgment)
	case game.EventNextJudgment:
		var p game.NextJudgmentPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		m.applyAdvance(p.JudgmentIndex, p.Judgment)
	case game.EventAllDiceRolled:
		m.applyBatchFinished()
	case game.EventStoryGenerationComplete:
		m.applyStoryComplete()
	case game.EventSessionEnded:
		m.applySessionEnded()
	}
	return nil
}

// applyParticipants 整体替换成员列表
func (m *Mirror) applyParticipants(list []*game.Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants = list
}

func (m *Mirror) removeParticipant(userID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.participants[:0]
	for _, p := range m.participants {
		if p.UserID != userID {
			out = append(out, p)
		}
	}
	m.participants = out
}

// applyQueue 整体替换队列视图
func (m *Mirror) applyQueue(actions []*game.QueuedAction, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = actions
	m.queueCount = count
}

func (m *Mirror) applyQueueCount(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueCount = count
}

// applyBatch 整体替换批次
// 新批次意味着旧的本地预测全部作废
func (m *Mirror) applyBatch(judgments []*game.Judgment, currentIndex int, state game.BatchState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.judgments = judgments
	m.currentIndex = currentIndex
	m.batchState = state
	m.provisional = nil
	m.actions = nil
	m.queueCount = 0
	m.needsResync = false
}

// applyAnalyzed 单条分析结果整体替换对应判定
func (m *Mirror) applyAnalyzed(index int, j *game.Judgment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.judgments) {
		// 批次就绪事件还没到，等快照对齐
		m.needsResync = true
		return
	}
	m.judgments[index] = j
}

// applyDiceRolled 权威掷骰结果整体替换对应判定
// 同下标的本地预测结果此刻丢弃，不与权威结果合并
func (m *Mirror) applyDiceRolled(index int, j *game.Judgment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.judgments) {
		// 本地还没有这个批次，漏掉了中间事件，等快照对齐
		m.needsResync = true
		return
	}
	m.judgments[index] = j
	if m.provisional != nil && m.provisional.JudgmentIndex == index {
		m.provisional = nil
	}
}

// applyAdvance 服务端推进到下一条判定
// 无条件接受权威下标，即使本地已经乐观推进过
func (m *Mirror) applyAdvance(index int, j *game.Judgment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.judgments) {
		m.needsResync = true
		return
	}
	m.currentIndex = index
	m.judgments[index] = j
}

func (m *Mirror) applyBatchFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchState = game.BatchFinished
}

// applyStoryComplete 叙事生成完毕，本回合批次结束
func (m *Mirror) applyStoryComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.judgments = nil
	m.currentIndex = -1
	m.batchState = ""
	m.provisional = nil
}

// applySessionEnded 会话结束，无条件清空回到大厅态
func (m *Mirror) applySessionEnded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants = nil
	m.actions = nil
	m.queueCount = 0
	m.judgments = nil
	m.currentIndex = -1
	m.batchState = ""
	m.provisional = nil
	m.needsResync = false
}

// PredictRoll 本地合成预测掷骰结果
// 只影响展示，权威 dice_rolled 到达时整体丢弃
func (m *Mirror) PredictRoll(diceResult int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentIndex < 0 {
		return
	}
	m.provisional = &ProvisionalRoll{
		JudgmentID:    ProvisionalID,
		JudgmentIndex: m.currentIndex,
		DiceResult:    diceResult,
	}
}

// AcceptAuthoritativeState 处理携带权威状态的错误响应
// 推进请求因下标过期被拒绝时，服务端附带的快照直接覆盖本地状态
func (m *Mirror) AcceptAuthoritativeState(data []byte) error {
	var p game.BatchSnapshot
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	m.applyBatch(p.Judgments, p.CurrentIndex, p.State)
	return nil
}

// MarkDisconnected 连接断开
// 重连后必须通过 NeedsResync 触发快照请求，不能依赖事件重放
func (m *Mirror) MarkDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.needsResync = true
}

// NeedsResync 是否需要请求全量快照
func (m *Mirror) NeedsResync() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needsResync
}

// CurrentIndex 当前判定下标
func (m *Mirror) CurrentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentIndex
}

// BatchState 当前批次状态
func (m *Mirror) BatchState() game.BatchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchState
}

// QueueCount 当前队列数量
func (m *Mirror) QueueCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queueCount
}

// Actions 队列视图（仅主持人非空）
func (m *Mirror) Actions() []*game.QueuedAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*game.QueuedAction, len(m.actions))
	copy(out, m.actions)
	return out
}

// Judgments 批次判定列表
func (m *Mirror) Judgments() []*game.Judgment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*game.Judgment, len(m.judgments))
	copy(out, m.judgments)
	return out
}

// Provisional 当前的本地预测结果，没有则返回nil
func (m *Mirror) Provisional() *ProvisionalRoll {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.provisional == nil {
		return nil
	}
	c := *m.provisional
	return &c
}

// Participants 成员列表
func (m *Mirror) Participants() []*game.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*game.Participant, len(m.participants))
	copy(out, m.participants)
	return out
}
