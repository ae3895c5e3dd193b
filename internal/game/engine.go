package game

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/trpg-server/internal/errors"
	"github.com/wfunc/trpg-server/internal/models"
	"github.com/wfunc/trpg-server/internal/repository"
)

const (
	// MaxActionTextLen 行动文本最大长度（按字符数）
	MaxActionTextLen = 1000
	// MaxChatMessageLen 聊天消息最大长度
	MaxChatMessageLen = 500
)

// validateText 校验文本非空且不超长
func validateText(text string, maxLen int) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return errors.New(errors.ErrEmptyText)
	}
	if len([]rune(trimmed)) > maxLen {
		return errors.Newf(errors.ErrTextTooLong, "最长%d字符", maxLen)
	}
	return nil
}

// SubmitAction 参与者提交一条行动
// 行动文本在提交批次前只对主持人可见，对其余成员只广播数量变化
func (r *Registry) SubmitAction(ctx context.Context, sessionID, userID uint, text string) error {
	if err := validateText(text, MaxActionTextLen); err != nil {
		return err
	}
	s, err := r.session(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	p, ok := s.participants[userID]
	if !ok {
		s.mu.Unlock()
		return errors.New(errors.ErrNotParticipant)
	}
	action := s.queue.Append(&QueuedAction{
		SessionID:     sessionID,
		PlayerID:      userID,
		CharacterID:   p.CharacterID,
		CharacterName: p.CharacterName,
		ActionText:    strings.TrimSpace(text),
	})
	count := s.queue.Len()

	// 锁内广播，保证事件顺序与队列变更顺序一致
	// 全员只收到角色名和数量，行动文本另行单发主持人
	r.broadcaster.ToSession(sessionID, EventActionSubmitted, &ActionSubmittedPayload{
		SessionID:     sessionID,
		CharacterName: action.CharacterName,
		QueueCount:    count,
	})
	r.broadcaster.ToUser(sessionID, s.hostUserID, EventQueueUpdated, &QueuePayload{
		SessionID:  sessionID,
		Actions:    s.queue.Snapshot(),
		QueueCount: count,
	})
	s.mu.Unlock()

	r.logger.Info("行动已提交",
		zap.Uint("session_id", sessionID),
		zap.Uint("user_id", userID),
		zap.Int("queue_count", count))
	return nil
}

// EditAction 主持人修改队列中的行动文本
func (r *Registry) EditAction(ctx context.Context, sessionID, userID uint, actionID int64, text string) error {
	if err := validateText(text, MaxActionTextLen); err != nil {
		return err
	}
	return r.moderateQueue(sessionID, userID, func(q *actionQueue) error {
		return q.Edit(actionID, strings.TrimSpace(text))
	})
}

// DeleteAction 主持人删除队列中的行动
func (r *Registry) DeleteAction(ctx context.Context, sessionID, userID uint, actionID int64) error {
	return r.moderateQueue(sessionID, userID, func(q *actionQueue) error {
		return q.Remove(actionID)
	})
}

// ReorderActions 主持人重排队列
// 请求基于过期队列时返回 ErrStaleQueue 并附带当前权威队列；
// 只要ID序列仍是当前集合的排列就接受，不比对请求方看到的旧顺序
func (r *Registry) ReorderActions(ctx context.Context, sessionID, userID uint, orderedIDs []int64) error {
	return r.moderateQueue(sessionID, userID, func(q *actionQueue) error {
		return q.Reorder(orderedIDs)
	})
}

// moderateQueue 执行主持人队列操作并广播变更
// 失败时若为过期状态错误，附带权威队列便于请求方重新同步
func (r *Registry) moderateQueue(sessionID, userID uint, op func(*actionQueue) error) error {
	s, err := r.session(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if userID != s.hostUserID {
		s.mu.Unlock()
		return errors.New(errors.ErrNotHost)
	}
	if err := op(s.queue); err != nil {
		snapshot := s.queue.Snapshot()
		s.mu.Unlock()
		if appErr, ok := err.(*errors.AppError); ok && errors.IsStaleState(appErr) {
			return appErr.WithState(&QueuePayload{
				SessionID:  sessionID,
				Actions:    snapshot,
				QueueCount: len(snapshot),
			})
		}
		return err
	}
	count := s.queue.Len()
	r.broadcaster.ToUser(sessionID, userID, EventQueueUpdated, &QueuePayload{
		SessionID:  sessionID,
		Actions:    s.queue.Snapshot(),
		QueueCount: count,
	})
	r.broadcaster.ToSessionExcept(sessionID, userID, EventQueueCount, &QueueCountPayload{
		SessionID:  sessionID,
		QueueCount: count,
	})
	s.mu.Unlock()
	return nil
}

// Commit 主持人提交队列，原子地生成判定批次
// 这是行动文本从私有变为公开的唯一状态转换点
func (r *Registry) Commit(ctx context.Context, sessionID, userID uint) error {
	s, err := r.session(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if userID != s.hostUserID {
		s.mu.Unlock()
		return errors.New(errors.ErrNotHost)
	}
	if s.batch != nil && s.batch.State != BatchFinished {
		s.mu.Unlock()
		return errors.New(errors.ErrJudgmentPending, "上一批判定尚未完成")
	}
	if s.queue.Len() == 0 {
		s.mu.Unlock()
		return errors.New(errors.ErrEmptyQueue)
	}
	actions := s.queue.Drain()
	s.mu.Unlock()

	batch, story, err := r.buildBatch(ctx, s, actions)
	if err != nil {
		// 构建失败则把行动放回队列，队列内容不能丢
		s.mu.Lock()
		for _, a := range actions {
			restored := *a
			s.queue.Append(&restored)
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.batch = batch
	snapshot := batch.Snapshot()
	r.broadcaster.ToSession(sessionID, EventStoryCommitted, story)
	r.broadcaster.ToSession(sessionID, EventJudgmentsReady, &JudgmentsReadyPayload{
		SessionID:     sessionID,
		JudgmentCount: len(snapshot.Judgments),
		CurrentIndex:  snapshot.CurrentIndex,
		Judgments:     snapshot.Judgments,
	})
	// 逐条路由分析结果：所有者收 judgment_ready，其余成员收 player_action_analyzed，
	// 两者内容完全一致
	for i, j := range snapshot.Judgments {
		analyzed := &ActionAnalyzedPayload{
			SessionID:     sessionID,
			JudgmentIndex: i,
			Judgment:      j,
		}
		r.broadcaster.ToUser(sessionID, j.OwnerUserID, EventJudgmentReady, analyzed)
		r.broadcaster.ToSessionExcept(sessionID, j.OwnerUserID, EventPlayerActionAnalyzed, analyzed)
	}
	s.mu.Unlock()

	r.logger.Info("行动队列已提交",
		zap.Uint("session_id", sessionID),
		zap.Int("judgment_count", len(snapshot.Judgments)))
	return nil
}

// buildBatch 分析全部行动并落库，生成批次
func (r *Registry) buildBatch(ctx context.Context, s *liveSession, actions []*QueuedAction) (*JudgmentBatch, *StoryCommittedPayload, error) {
	record, err := r.sessionRepo.FindByID(ctx, s.id)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}

	// 提交的行动以 "角色名: 行动" 的格式汇总为一条玩家叙事记录
	var sb strings.Builder
	for i, a := range actions {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(a.CharacterName)
		sb.WriteString(": ")
		sb.WriteString(a.ActionText)
	}
	storyLog := &models.StoryLog{
		SessionID: s.id,
		Role:      models.StoryRoleUser,
		Content:   sb.String(),
	}
	if err := r.storyRepo.Create(ctx, storyLog); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrDatabaseInsert)
	}

	judgments := make([]*Judgment, 0, len(actions))
	for _, a := range actions {
		character, err := r.characterRepo.FindByID(ctx, a.CharacterID)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil, nil, errors.New(errors.ErrCharacterNotFound)
			}
			return nil, nil, errors.Wrap(err, errors.ErrDatabaseQuery)
		}
		draft, err := r.author.Analyze(ctx, record, a, character)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrUnknown, "行动分析失败")
		}

		dbJudgment := &models.ActionJudgment{
			SessionID:           s.id,
			CharacterID:         a.CharacterID,
			ActionText:          a.ActionText,
			AbilityType:         draft.AbilityType,
			AbilityScore:        draft.AbilityScore,
			Modifier:            draft.Modifier,
			Difficulty:          draft.Difficulty,
			DifficultyReasoning: draft.DifficultyReasoning,
		}
		if err := r.judgmentRepo.Create(ctx, dbJudgment); err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrDatabaseInsert)
		}

		judgments = append(judgments, &Judgment{
			ID:                  dbJudgment.ID,
			ActionID:            a.ID,
			OwnerUserID:         a.PlayerID,
			CharacterID:         a.CharacterID,
			CharacterName:       a.CharacterName,
			ActionText:          a.ActionText,
			AbilityType:         draft.AbilityType,
			AbilityScore:        draft.AbilityScore,
			Modifier:            draft.Modifier,
			Difficulty:          draft.Difficulty,
			DifficultyReasoning: draft.DifficultyReasoning,
			Status:              StatusWaiting,
		})
	}
	judgments[0].Status = StatusActive

	batch := &JudgmentBatch{
		Judgments:    judgments,
		CurrentIndex: 0,
		State:        BatchJudging,
	}
	story := &StoryCommittedPayload{
		SessionID:  s.id,
		StoryLogID: storyLog.ID,
		Role:       storyLog.Role,
		Content:    storyLog.Content,
	}
	return batch, story, nil
}

// RollDice 当前判定的所有者掷骰
// judgmentID 来自 judgment_ready 事件，用于识别重复投递，为0时取当前判定；
// clientDice 是客户端本地掷出的骰值，只做合法性校验，结算一律用服务端的骰
// 重复请求幂等：已结算的判定直接回发结果，不重掷
func (r *Registry) RollDice(ctx context.Context, sessionID, userID, judgmentID uint, clientDice int) error {
	if clientDice != 0 && (clientDice < 1 || clientDice > 20) {
		return errors.Newf(errors.ErrInvalidDice, "骰值必须在1到20之间: %d", clientDice)
	}
	s, err := r.session(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.batch == nil {
		s.mu.Unlock()
		return errors.New(errors.ErrNoBatch)
	}
	index := s.batch.CurrentIndex
	j := s.batch.ActiveJudgment()
	if judgmentID != 0 {
		j = nil
		for i, cand := range s.batch.Judgments {
			if cand.ID == judgmentID {
				j, index = cand, i
				break
			}
		}
		if j == nil {
			s.mu.Unlock()
			return errors.New(errors.ErrJudgmentNotFound)
		}
	}
	if j == nil {
		s.mu.Unlock()
		return errors.New(errors.ErrNoBatch, "批次已全部结算")
	}
	if j.OwnerUserID != userID {
		s.mu.Unlock()
		return errors.New(errors.ErrNotYourTurn)
	}
	if j.Status == StatusComplete {
		// 至少一次投递下的重复请求，回发既有结果
		r.broadcaster.ToUser(sessionID, userID, EventDiceRolled, &DiceRolledPayload{
			SessionID:     sessionID,
			JudgmentIndex: index,
			Judgment:      j.Clone(),
		})
		s.mu.Unlock()
		return nil
	}
	if index != s.batch.CurrentIndex {
		s.mu.Unlock()
		return errors.New(errors.ErrNotYourTurn)
	}
	if j.Status == StatusRolling {
		s.mu.Unlock()
		return errors.New(errors.ErrJudgmentPending, "正在结算")
	}

	j.Status = StatusRolling
	dice := r.roller.RollD20()
	final := dice + j.Modifier
	j.DiceResult = dice
	j.FinalValue = final
	j.Outcome = DetermineOutcome(dice, final, j.Difficulty)
	j.OutcomeReasoning = OutcomeReasoning(j)
	j.Status = StatusComplete
	allDone := s.batch.CurrentIndex == len(s.batch.Judgments)-1
	r.broadcaster.ToSession(sessionID, EventDiceRolled, &DiceRolledPayload{
		SessionID:     sessionID,
		JudgmentIndex: index,
		Judgment:      j.Clone(),
	})
	// 最后一条判定结算完即批次完成，不需要再推进
	if allDone {
		s.batch.State = BatchFinished
		r.broadcaster.ToSession(sessionID, EventAllDiceRolled, &AllDiceRolledPayload{SessionID: sessionID})
	}
	s.mu.Unlock()

	r.persistRoll(ctx, j)

	r.logger.Info("掷骰结算",
		zap.Uint("session_id", sessionID),
		zap.Uint("user_id", userID),
		zap.Int("dice", dice),
		zap.Int("final", final),
		zap.String("outcome", string(j.Outcome)))
	return nil
}

// persistRoll 掷骰结果落库
func (r *Registry) persistRoll(ctx context.Context, j *Judgment) {
	record, err := r.judgmentRepo.FindByID(ctx, j.ID)
	if err != nil {
		r.logger.Error("读取判定记录失败", zap.Error(err), zap.Uint("judgment_id", j.ID))
		return
	}
	dice, final := j.DiceResult, j.FinalValue
	record.DiceResult = &dice
	record.FinalValue = &final
	record.Outcome = string(j.Outcome)
	if err := r.judgmentRepo.Update(ctx, record); err != nil {
		r.logger.Error("保存判定结果失败", zap.Error(err), zap.Uint("judgment_id", j.ID))
	}
}

// NextJudgment 当前判定的所有者确认结果并推进到下一条
// 请求携带客户端认为的当前下标；与权威下标不符时拒绝并附带权威快照，
// 客户端必须接受权威状态而不是重试自己的下标
func (r *Registry) NextJudgment(ctx context.Context, sessionID, userID uint, clientIndex int) error {
	s, err := r.session(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.batch == nil {
		s.mu.Unlock()
		return errors.New(errors.ErrNoBatch)
	}
	if clientIndex != s.batch.CurrentIndex {
		snapshot := s.batch.Snapshot()
		snapshot.SessionID = sessionID
		s.mu.Unlock()
		return errors.New(errors.ErrStaleIndex).WithState(snapshot)
	}
	j := s.batch.ActiveJudgment()
	if j == nil {
		s.mu.Unlock()
		return errors.New(errors.ErrNoBatch, "批次已全部结算")
	}
	if j.OwnerUserID != userID {
		s.mu.Unlock()
		return errors.New(errors.ErrNotYourTurn)
	}
	if j.Status != StatusComplete {
		s.mu.Unlock()
		return errors.New(errors.ErrJudgmentPending, "当前判定尚未掷骰")
	}

	s.batch.CurrentIndex++
	if s.batch.CurrentIndex >= len(s.batch.Judgments) {
		s.batch.State = BatchFinished
		r.broadcaster.ToSession(sessionID, EventAllDiceRolled, &AllDiceRolledPayload{SessionID: sessionID})
	} else {
		next := s.batch.Judgments[s.batch.CurrentIndex]
		next.Status = StatusActive
		r.broadcaster.ToSession(sessionID, EventNextJudgment, &NextJudgmentPayload{
			SessionID:     sessionID,
			JudgmentIndex: s.batch.CurrentIndex,
			Judgment:      next.Clone(),
		})
	}
	s.mu.Unlock()
	return nil
}

// TriggerStory 触发叙事生成，任意参与者都可以发起
// 一次性操作：同一批次重复触发只回发 story_generation_started，不重复生成
func (r *Registry) TriggerStory(ctx context.Context, sessionID, userID uint) error {
	s, err := r.session(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.participants[userID]; !ok {
		s.mu.Unlock()
		return errors.New(errors.ErrNotParticipant)
	}
	if s.batch == nil {
		s.mu.Unlock()
		return errors.New(errors.ErrNoBatch)
	}
	if s.batch.State != BatchFinished {
		s.mu.Unlock()
		return errors.New(errors.ErrBatchUnfinished)
	}
	if s.batch.storyTriggered {
		r.broadcaster.ToUser(sessionID, userID, EventStoryGenerationStarted, &StoryGenerationStartedPayload{SessionID: sessionID})
		s.mu.Unlock()
		return nil
	}
	s.batch.storyTriggered = true
	judgments := make([]*Judgment, len(s.batch.Judgments))
	for i, j := range s.batch.Judgments {
		judgments[i] = j.Clone()
	}
	worldPrompt := s.worldPrompt
	r.broadcaster.ToSession(sessionID, EventStoryGenerationStarted, &StoryGenerationStartedPayload{SessionID: sessionID})
	s.mu.Unlock()

	go r.generateStory(context.WithoutCancel(ctx), s, worldPrompt, judgments)
	return nil
}

// generateStory 后台生成叙事并广播
// 失败时复位触发标记，参与者可以重试
func (r *Registry) generateStory(ctx context.Context, s *liveSession, worldPrompt string, judgments []*Judgment) {
	// 带上最近的剧情记录作为上下文，条数由配置决定
	recent, err := r.storyRepo.FindRecent(ctx, s.id, r.storyContextSize)
	if err != nil {
		r.logger.Warn("读取叙事上下文失败", zap.Error(err), zap.Uint("session_id", s.id))
	}

	content, err := r.narrator.Narrate(ctx, s.id, worldPrompt, recent, judgments)
	if err != nil {
		r.logger.Error("叙事生成失败", zap.Error(err), zap.Uint("session_id", s.id))
		s.mu.Lock()
		if s.batch != nil {
			s.batch.storyTriggered = false
		}
		r.broadcaster.ToSession(s.id, EventStoryGenerationError, map[string]interface{}{
			"session_id": s.id,
			"message":    "叙事生成失败，请重试",
		})
		s.mu.Unlock()
		return
	}

	storyLog := &models.StoryLog{
		SessionID: s.id,
		Role:      models.StoryRoleAI,
		Content:   content,
	}
	if err := r.storyRepo.Create(ctx, storyLog); err != nil {
		r.logger.Error("保存叙事记录失败", zap.Error(err), zap.Uint("session_id", s.id))
	} else {
		ids := make([]uint, len(judgments))
		for i, j := range judgments {
			ids[i] = j.ID
		}
		if err := r.judgmentRepo.LinkStoryLog(ctx, ids, storyLog.ID); err != nil {
			r.logger.Error("关联判定与叙事失败", zap.Error(err), zap.Uint("session_id", s.id))
		}
	}

	// 叙事生成完毕后本回合结束，清空批次进入下一轮收集
	s.mu.Lock()
	s.batch = nil
	r.broadcaster.ToSession(s.id, EventStoryGenerationComplete, &StoryGenerationCompletePayload{
		SessionID:  s.id,
		StoryLogID: storyLog.ID,
		Content:    content,
	})
	s.mu.Unlock()
}

// Chat 会话内临时聊天，直接转发不落库
func (r *Registry) Chat(sessionID, userID uint, message string) error {
	if err := validateText(message, MaxChatMessageLen); err != nil {
		return err
	}
	s, err := r.session(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	p, ok := s.participants[userID]
	if !ok {
		s.mu.Unlock()
		return errors.New(errors.ErrNotParticipant)
	}
	r.broadcaster.ToSession(sessionID, EventChatMessage, &ChatMessagePayload{
		SessionID:     sessionID,
		UserID:        userID,
		CharacterName: p.CharacterName,
		Message:       strings.TrimSpace(message),
		Timestamp:     time.Now().Unix(),
	})
	s.mu.Unlock()
	return nil
}
