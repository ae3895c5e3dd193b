package game

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/trpg-server/internal/errors"
	"github.com/wfunc/trpg-server/internal/repository"
)

const (
	// DefaultHeartbeatInterval 默认心跳间隔
	DefaultHeartbeatInterval = 5 * time.Second
	// heartbeatTimeoutBuffer 超时窗口 = 2倍心跳间隔 + 缓冲
	heartbeatTimeoutBuffer = 2 * time.Second
	// DefaultStoryContextSize 叙事生成默认携带的历史剧情条数
	DefaultStoryContextSize = 10
)

// liveSession 活跃会话的内存态
// 所有队列/批次/成员变更都在 mu 内串行执行
type liveSession struct {
	mu           sync.Mutex
	id           uint
	hostUserID   uint
	worldPrompt  string
	queue        *actionQueue
	batch        *JudgmentBatch
	participants map[uint]*Participant
	emptySince   time.Time // 会话开始无人的时刻，有人时为零值
	ended        bool
}

// participantList 按加入后的遍历顺序导出成员列表
func (s *liveSession) participantList() []*Participant {
	out := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out
}

// Options 注册表依赖项
type Options struct {
	Broadcaster Broadcaster
	Author      JudgmentAuthor
	Narrator    Narrator
	Roller      DiceRoller
	Logger      *zap.Logger

	SessionRepo     repository.GameSessionRepository
	ParticipantRepo repository.ParticipantRepository
	CharacterRepo   repository.CharacterRepository
	StoryRepo       repository.StoryLogRepository
	JudgmentRepo    repository.JudgmentRepository

	HeartbeatInterval time.Duration
	StoryContextSize  int
}

// Registry 活跃会话注册表
// 持有所有活跃会话的内存态，是判定协议的唯一权威
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint]*liveSession

	broadcaster Broadcaster
	author      JudgmentAuthor
	narrator    Narrator
	roller      DiceRoller
	logger      *zap.Logger

	sessionRepo     repository.GameSessionRepository
	participantRepo repository.ParticipantRepository
	characterRepo   repository.CharacterRepository
	storyRepo       repository.StoryLogRepository
	judgmentRepo    repository.JudgmentRepository

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	storyContextSize  int

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry 创建会话注册表
func NewRegistry(opts Options) *Registry {
	if opts.Author == nil {
		opts.Author = NewStatAuthor(0)
	}
	if opts.Narrator == nil {
		opts.Narrator = NewTemplateNarrator()
	}
	if opts.Roller == nil {
		opts.Roller = NewCryptoDiceRoller()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.StoryContextSize <= 0 {
		opts.StoryContextSize = DefaultStoryContextSize
	}

	return &Registry{
		sessions:          make(map[uint]*liveSession),
		broadcaster:       opts.Broadcaster,
		author:            opts.Author,
		narrator:          opts.Narrator,
		roller:            opts.Roller,
		logger:            opts.Logger,
		sessionRepo:       opts.SessionRepo,
		participantRepo:   opts.ParticipantRepo,
		characterRepo:     opts.CharacterRepo,
		storyRepo:         opts.StoryRepo,
		judgmentRepo:      opts.JudgmentRepo,
		heartbeatInterval: opts.HeartbeatInterval,
		heartbeatTimeout:  2*opts.HeartbeatInterval + heartbeatTimeoutBuffer,
		storyContextSize:  opts.StoryContextSize,
		stopCh:            make(chan struct{}),
	}
}

// HeartbeatInterval 返回注册表的心跳间隔
func (r *Registry) HeartbeatInterval() time.Duration {
	return r.heartbeatInterval
}

// Start 启动心跳巡检
func (r *Registry) Start() {
	go r.monitorLoop()
	r.logger.Info("会话注册表已启动",
		zap.Duration("heartbeat_interval", r.heartbeatInterval),
		zap.Duration("heartbeat_timeout", r.heartbeatTimeout))
}

// Stop 停止心跳巡检
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

// session 查找活跃会话
func (r *Registry) session(sessionID uint) (*liveSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, errors.New(errors.ErrSessionNotFound)
	}
	return s, nil
}

// Join 用户携带角色加入会话
func (r *Registry) Join(ctx context.Context, sessionID, userID, characterID uint) error {
	record, err := r.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		if repository.IsNotFound(err) {
			return errors.New(errors.ErrSessionNotFound)
		}
		return errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	if !record.IsActive {
		return errors.New(errors.ErrSessionInactive)
	}

	character, err := r.characterRepo.FindByID(ctx, characterID)
	if err != nil {
		if repository.IsNotFound(err) {
			return errors.New(errors.ErrCharacterNotFound)
		}
		return errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	if character.UserID != userID {
		return errors.New(errors.ErrPermissionDenied, "角色不属于当前用户")
	}

	if err := r.participantRepo.Upsert(ctx, sessionID, userID, characterID); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseInsert)
	}

	s := r.getOrCreate(record.ID, record.HostUserID, record.WorldPrompt)

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return errors.New(errors.ErrSessionInactive)
	}
	s.participants[userID] = &Participant{
		UserID:        userID,
		CharacterID:   characterID,
		CharacterName: character.Name,
		LastHeartbeat: time.Now(),
	}
	s.emptySince = time.Time{}
	r.broadcaster.ToSession(sessionID, EventUserJoined, &UserJoinedPayload{
		SessionID:        sessionID,
		UserID:           userID,
		CharacterID:      characterID,
		CharacterName:    character.Name,
		Participants:     s.participantList(),
		ParticipantCount: len(s.participants),
	})
	// 加入广播后立即推送全量快照，中途加入/重连的客户端以此对齐
	r.sendSnapshotLocked(s, userID)
	s.mu.Unlock()

	r.logger.Info("用户加入会话",
		zap.Uint("session_id", sessionID),
		zap.Uint("user_id", userID),
		zap.String("character", character.Name))
	return nil
}

// getOrCreate 取得或创建会话内存态
func (r *Registry) getOrCreate(sessionID, hostUserID uint, worldPrompt string) *liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		return s
	}
	s := &liveSession{
		id:           sessionID,
		hostUserID:   hostUserID,
		worldPrompt:  worldPrompt,
		queue:        newActionQueue(),
		participants: make(map[uint]*Participant),
		emptySince:   time.Now(),
	}
	r.sessions[sessionID] = s
	return s
}

// Leave 用户主动离开会话
// 主持人离开等同于结束会话
func (r *Registry) Leave(ctx context.Context, sessionID, userID uint) error {
	s, err := r.session(sessionID)
	if err != nil {
		return err
	}
	if userID == s.hostUserID {
		return r.endSession(ctx, s, ReasonHostEnded)
	}
	return r.removeParticipant(ctx, s, userID)
}

// Disconnect 连接断开（非主动离开）
// 主持人断线直接结束会话，其他成员按离开处理
func (r *Registry) Disconnect(ctx context.Context, sessionID, userID uint) error {
	s, err := r.session(sessionID)
	if err != nil {
		return err
	}
	if userID == s.hostUserID {
		return r.endSession(ctx, s, ReasonHostDisconnected)
	}
	return r.removeParticipant(ctx, s, userID)
}

// removeParticipant 移除成员并广播，必要时启动空会话计时
func (r *Registry) removeParticipant(ctx context.Context, s *liveSession, userID uint) error {
	s.mu.Lock()
	p, ok := s.participants[userID]
	if !ok {
		s.mu.Unlock()
		return errors.New(errors.ErrNotParticipant)
	}
	delete(s.participants, userID)
	count := len(s.participants)
	if count == 0 {
		s.emptySince = time.Now()
	}
	r.broadcaster.ToSession(s.id, EventUserLeft, &UserLeftPayload{
		SessionID:        s.id,
		UserID:           userID,
		CharacterName:    p.CharacterName,
		ParticipantCount: count,
	})
	s.mu.Unlock()

	if _, err := r.participantRepo.Remove(ctx, s.id, userID); err != nil {
		r.logger.Error("删除参与者记录失败", zap.Error(err), zap.Uint("session_id", s.id))
	}

	r.logger.Info("用户离开会话",
		zap.Uint("session_id", s.id),
		zap.Uint("user_id", userID))
	return nil
}

// Heartbeat 心跳上报
func (r *Registry) Heartbeat(sessionID, userID uint) error {
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
	p.LastHeartbeat = time.Now()
	r.broadcaster.ToUser(sessionID, userID, EventHeartbeatAck, map[string]interface{}{
		"session_id": sessionID,
		"timestamp":  time.Now().Unix(),
	})
	s.mu.Unlock()
	return nil
}

// End 主持人结束会话
func (r *Registry) End(ctx context.Context, sessionID, userID uint) error {
	s, err := r.session(sessionID)
	if err != nil {
		return err
	}
	if userID != s.hostUserID {
		return errors.New(errors.ErrNotHost)
	}
	return r.endSession(ctx, s, ReasonHostEnded)
}

// Restart 主持人重新开启已结束的会话
func (r *Registry) Restart(ctx context.Context, sessionID, userID uint) error {
	record, err := r.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		if repository.IsNotFound(err) {
			return errors.New(errors.ErrSessionNotFound)
		}
		return errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	if record.HostUserID != userID {
		return errors.New(errors.ErrNotHost)
	}
	if record.IsActive {
		return errors.New(errors.ErrSessionActive)
	}
	if err := r.sessionRepo.SetActive(ctx, sessionID, true); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseUpdate)
	}
	r.logger.Info("会话已重新开启", zap.Uint("session_id", sessionID))
	// 内存态在成员加入时按需重建，此处保证没有残留
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	return nil
}

// endSession 结束会话：清批次、落库、广播、关房间
// 批次进行中强制清除，客户端收到 session_ended 后无条件回到大厅
func (r *Registry) endSession(ctx context.Context, s *liveSession, reason string) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	s.batch = nil
	s.queue = newActionQueue()
	s.participants = make(map[uint]*Participant)
	// 结束广播是该会话的最后一个事件，置位 ended 后不会再有其他事件发出
	r.broadcaster.ToSession(s.id, EventSessionEnded, &SessionEndedPayload{
		SessionID: s.id,
		Reason:    reason,
	})
	s.mu.Unlock()

	r.mu.Lock()
	delete(r.sessions, s.id)
	r.mu.Unlock()

	if err := r.sessionRepo.SetActive(ctx, s.id, false); err != nil {
		r.logger.Error("会话落库失败", zap.Error(err), zap.Uint("session_id", s.id))
	}
	// 未掷骰的判定记录不保留
	if err := r.judgmentRepo.DeleteUnresolved(ctx, s.id); err != nil {
		r.logger.Error("清理未结算判定失败", zap.Error(err), zap.Uint("session_id", s.id))
	}
	if err := r.participantRepo.RemoveAll(ctx, s.id); err != nil {
		r.logger.Error("清理参与者记录失败", zap.Error(err), zap.Uint("session_id", s.id))
	}

	r.broadcaster.CloseSession(s.id)
	r.logger.Info("会话已结束",
		zap.Uint("session_id", s.id),
		zap.String("reason", reason))
	return nil
}

// monitorLoop 心跳巡检
// 超时成员按离开处理；主持人超时结束会话；空会话超过超时窗口自动结束
func (r *Registry) monitorLoop() {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep 执行一轮巡检
func (r *Registry) sweep() {
	r.mu.RLock()
	sessions := make([]*liveSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	ctx := context.Background()
	now := time.Now()

	for _, s := range sessions {
		s.mu.Lock()
		var timedOut []uint
		hostTimedOut := false
		for userID, p := range s.participants {
			if now.Sub(p.LastHeartbeat) > r.heartbeatTimeout {
				if userID == s.hostUserID {
					hostTimedOut = true
				} else {
					timedOut = append(timedOut, userID)
				}
			}
		}
		emptyExpired := len(s.participants) == 0 &&
			!s.emptySince.IsZero() &&
			now.Sub(s.emptySince) > r.heartbeatTimeout
		s.mu.Unlock()

		if hostTimedOut {
			r.logger.Warn("主持人心跳超时", zap.Uint("session_id", s.id))
			_ = r.endSession(ctx, s, ReasonHostDisconnected)
			continue
		}
		for _, userID := range timedOut {
			r.logger.Warn("成员心跳超时",
				zap.Uint("session_id", s.id),
				zap.Uint("user_id", userID))
			_ = r.removeParticipant(ctx, s, userID)
		}
		if emptyExpired {
			_ = r.endSession(ctx, s, ReasonNoParticipants)
		}
	}
}

// sendSnapshotLocked 向指定用户推送全量状态（队列视图 + 批次快照）
// 调用方必须持有 s.mu
func (r *Registry) sendSnapshotLocked(s *liveSession, userID uint) {
	count := s.queue.Len()
	if userID == s.hostUserID {
		r.broadcaster.ToUser(s.id, userID, EventQueueData, &QueuePayload{
			SessionID:  s.id,
			Actions:    s.queue.Snapshot(),
			QueueCount: count,
		})
	} else {
		r.broadcaster.ToUser(s.id, userID, EventQueueCount, &QueueCountPayload{
			SessionID:  s.id,
			QueueCount: count,
		})
	}
	if s.batch != nil {
		batchSnap := s.batch.Snapshot()
		batchSnap.SessionID = s.id
		r.broadcaster.ToUser(s.id, userID, EventJudgmentSnapshot, batchSnap)
	}
}

// SendQueue 响应客户端的队列查询（get_queue）
func (r *Registry) SendQueue(sessionID, userID uint) error {
	s, err := r.session(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[userID]; !ok {
		return errors.New(errors.ErrNotParticipant)
	}
	r.sendSnapshotLocked(s, userID)
	return nil
}
