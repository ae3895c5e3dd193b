package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wfunc/trpg-server/internal/errors"
	"github.com/wfunc/trpg-server/internal/models"
	"github.com/wfunc/trpg-server/internal/repository"
)

// sentEvent 记录一次消息投递
type sentEvent struct {
	Scope   string // session / user / except
	UserID  uint
	Event   string
	Payload interface{}
}

// fakeBroadcaster 记录所有投递的广播器
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
	closed []uint
}

func (f *fakeBroadcaster) ToSession(sessionID uint, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{Scope: "session", Event: event, Payload: payload})
}

func (f *fakeBroadcaster) ToUser(sessionID, userID uint, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{Scope: "user", UserID: userID, Event: event, Payload: payload})
}

func (f *fakeBroadcaster) ToSessionExcept(sessionID, userID uint, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{Scope: "except", UserID: userID, Event: event, Payload: payload})
}

func (f *fakeBroadcaster) CloseSession(sessionID uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, sessionID)
}

// named 按事件名过滤
func (f *fakeBroadcaster) named(event string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, e := range f.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// last 取最后一条指定事件，没有则返回nil
func (f *fakeBroadcaster) last(event string) *sentEvent {
	events := f.named(event)
	if len(events) == 0 {
		return nil
	}
	return &events[len(events)-1]
}

func (f *fakeBroadcaster) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

// fixedRoller 按固定序列出骰
type fixedRoller struct {
	mu    sync.Mutex
	rolls []int
	pos   int
}

func (r *fixedRoller) RollD20() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rolls) == 0 {
		return 10
	}
	v := r.rolls[r.pos%len(r.rolls)]
	r.pos++
	return v
}

// fixture 一个主持人带两个玩家的会话环境
type fixture struct {
	registry    *Registry
	broadcaster *fakeBroadcaster
	roller      *fixedRoller
	db          *gorm.DB

	session *models.GameSession
	host    *models.User
	player1 *models.User
	player2 *models.User
	hostC   *models.Character
	p1C     *models.Character
	p2C     *models.Character
}

func setupFixture(t *testing.T, rolls ...int) *fixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Character{},
		&models.GameSession{},
		&models.SessionParticipant{},
		&models.StoryLog{},
		&models.ActionJudgment{},
	))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})

	f := &fixture{
		broadcaster: &fakeBroadcaster{},
		roller:      &fixedRoller{rolls: rolls},
		db:          db,
	}

	newUser := func(name string) *models.User {
		u := &models.User{Username: name, Password: "x", Nickname: name, Status: "active"}
		require.NoError(t, db.Create(u).Error)
		return u
	}
	newCharacter := func(userID uint, name string, data models.JSONMap) *models.Character {
		if data == nil {
			data = models.JSONMap{}
		}
		c := &models.Character{UserID: userID, Name: name, Data: data}
		require.NoError(t, db.Create(c).Error)
		return c
	}

	f.host = newUser("host")
	f.player1 = newUser("player1")
	f.player2 = newUser("player2")
	f.hostC = newCharacter(f.host.ID, "主持人", nil)
	// 力量14 -> 修正+2
	f.p1C = newCharacter(f.player1.ID, "战士", models.JSONMap{"strength": float64(14)})
	f.p2C = newCharacter(f.player2.ID, "盗贼", models.JSONMap{"dexterity": float64(8)})

	f.session = &models.GameSession{HostUserID: f.host.ID, Title: "测试团", WorldPrompt: "奇幻世界", IsActive: true}
	require.NoError(t, db.Create(f.session).Error)

	f.registry = NewRegistry(Options{
		Broadcaster:     f.broadcaster,
		Roller:          f.roller,
		SessionRepo:     repository.NewGameSessionRepository(db),
		ParticipantRepo: repository.NewParticipantRepository(db),
		CharacterRepo:   repository.NewCharacterRepository(db),
		StoryRepo:       repository.NewStoryLogRepository(db),
		JudgmentRepo:    repository.NewJudgmentRepository(db),
	})
	return f
}

// joinAll 三人全部入场
func (f *fixture) joinAll(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, f.registry.Join(ctx, f.session.ID, f.host.ID, f.hostC.ID))
	require.NoError(t, f.registry.Join(ctx, f.session.ID, f.player1.ID, f.p1C.ID))
	require.NoError(t, f.registry.Join(ctx, f.session.ID, f.player2.ID, f.p2C.ID))
	f.broadcaster.reset()
}

// commitTwoActions 两个玩家各提交一条行动并由主持人提交批次
func (f *fixture) commitTwoActions(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, f.registry.SubmitAction(ctx, f.session.ID, f.player1.ID, "攻击哥布林"))
	require.NoError(t, f.registry.SubmitAction(ctx, f.session.ID, f.player2.ID, "潜行绕后"))
	require.NoError(t, f.registry.Commit(ctx, f.session.ID, f.host.ID))
	f.broadcaster.reset()
}

// TestJoinBroadcastsAndSnapshot 加入广播与入场快照
func TestJoinBroadcastsAndSnapshot(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	require.NoError(t, f.registry.Join(ctx, f.session.ID, f.host.ID, f.hostC.ID))
	require.NoError(t, f.registry.Join(ctx, f.session.ID, f.player1.ID, f.p1C.ID))

	joins := f.broadcaster.named(EventUserJoined)
	require.Len(t, joins, 2)
	payload := joins[1].Payload.(*UserJoinedPayload)
	assert.Equal(t, 2, payload.ParticipantCount)
	assert.Equal(t, "战士", payload.CharacterName)

	// 主持人收到完整队列，玩家只收到数量
	hostSnap := f.broadcaster.named(EventQueueData)
	require.Len(t, hostSnap, 1)
	assert.Equal(t, f.host.ID, hostSnap[0].UserID)
	playerSnap := f.broadcaster.named(EventQueueCount)
	require.Len(t, playerSnap, 1)
	assert.Equal(t, f.player1.ID, playerSnap[0].UserID)
}

// TestJoinValidation 加入校验
func TestJoinValidation(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	err := f.registry.Join(ctx, 999, f.host.ID, f.hostC.ID)
	assert.True(t, errors.Is(err, errors.ErrSessionNotFound))

	// 用别人的角色加入
	err = f.registry.Join(ctx, f.session.ID, f.player1.ID, f.hostC.ID)
	assert.True(t, errors.Is(err, errors.ErrPermissionDenied))

	require.NoError(t, f.db.Model(f.session).Update("is_active", false).Error)
	err = f.registry.Join(ctx, f.session.ID, f.host.ID, f.hostC.ID)
	assert.True(t, errors.Is(err, errors.ErrSessionInactive))
}

// TestSubmitKeepsTextPrivate 提交后行动文本只进主持人的队列视图
func TestSubmitKeepsTextPrivate(t *testing.T) {
	f := setupFixture(t)
	f.joinAll(t)
	ctx := context.Background()

	require.NoError(t, f.registry.SubmitAction(ctx, f.session.ID, f.player1.ID, "偷取钥匙"))

	// 全员广播只有角色名和数量
	submitted := f.broadcaster.last(EventActionSubmitted)
	require.NotNil(t, submitted)
	assert.Equal(t, "session", submitted.Scope)
	payload := submitted.Payload.(*ActionSubmittedPayload)
	assert.Equal(t, "战士", payload.CharacterName)
	assert.Equal(t, 1, payload.QueueCount)

	// 完整队列单发主持人
	updated := f.broadcaster.last(EventQueueUpdated)
	require.NotNil(t, updated)
	assert.Equal(t, "user", updated.Scope)
	assert.Equal(t, f.host.ID, updated.UserID)
	queue := updated.Payload.(*QueuePayload)
	require.Len(t, queue.Actions, 1)
	assert.Equal(t, "偷取钥匙", queue.Actions[0].ActionText)
}

// TestSubmitValidation 空文本与超长文本
func TestSubmitValidation(t *testing.T) {
	f := setupFixture(t)
	f.joinAll(t)
	ctx := context.Background()

	err := f.registry.SubmitAction(ctx, f.session.ID, f.player1.ID, "   ")
	assert.True(t, errors.Is(err, errors.ErrEmptyText))

	long := make([]rune, MaxActionTextLen+1)
	for i := range long {
		long[i] = '字'
	}
	err = f.registry.SubmitAction(ctx, f.session.ID, f.player1.ID, string(long))
	assert.True(t, errors.Is(err, errors.ErrTextTooLong))

	// 非参与者不能提交
	outsider := &models.User{Username: "outsider", Password: "x", Status: "active"}
	require.NoError(t, f.db.Create(outsider).Error)
	err = f.registry.SubmitAction(ctx, f.session.ID, outsider.ID, "捣乱")
	assert.True(t, errors.Is(err, errors.ErrNotParticipant))
}

// TestModerationHostOnly 队列编辑/删除/重排只有主持人可做
func TestModerationHostOnly(t *testing.T) {
	f := setupFixture(t)
	f.joinAll(t)
	ctx := context.Background()

	require.NoError(t, f.registry.SubmitAction(ctx, f.session.ID, f.player1.ID, "行动"))

	err := f.registry.EditAction(ctx, f.session.ID, f.player1.ID, 1, "改")
	assert.True(t, errors.Is(err, errors.ErrNotHost))
	err = f.registry.DeleteAction(ctx, f.session.ID, f.player1.ID, 1)
	assert.True(t, errors.Is(err, errors.ErrNotHost))
	err = f.registry.ReorderActions(ctx, f.session.ID, f.player1.ID, []int64{1})
	assert.True(t, errors.Is(err, errors.ErrNotHost))

	require.NoError(t, f.registry.EditAction(ctx, f.session.ID, f.host.ID, 1, "修订后的行动"))
}

// TestReorderStaleAttachesState 过期重排返回权威队列
func TestReorderStaleAttachesState(t *testing.T) {
	f := setupFixture(t)
	f.joinAll(t)
	ctx := context.Background()

	require.NoError(t, f.registry.SubmitAction(ctx, f.session.ID, f.player1.ID, "a"))
	require.NoError(t, f.registry.SubmitAction(ctx, f.session.ID, f.player2.ID, "b"))

	err := f.registry.ReorderActions(ctx, f.session.ID, f.host.ID, []int64{1, 2, 99})
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrStaleQueue, appErr.Code)
	state, ok := appErr.State.(*QueuePayload)
	require.True(t, ok)
	assert.Equal(t, 2, state.QueueCount)
}

// TestCommitFlow 提交批次：文本公开、首条激活、判定落库
func TestCommitFlow(t *testing.T) {
	f := setupFixture(t)
	f.joinAll(t)
	ctx := context.Background()

	err := f.registry.Commit(ctx, f.session.ID, f.host.ID)
	assert.True(t, errors.Is(err, errors.ErrEmptyQueue))

	require.NoError(t, f.registry.SubmitAction(ctx, f.session.ID, f.player1.ID, "攻击哥布林"))
	require.NoError(t, f.registry.SubmitAction(ctx, f.session.ID, f.player2.ID, "潜行绕后"))

	err = f.registry.Commit(ctx, f.session.ID, f.player1.ID)
	assert.True(t, errors.Is(err, errors.ErrNotHost))

	require.NoError(t, f.registry.Commit(ctx, f.session.ID, f.host.ID))

	// 玩家叙事记录按 "角色名: 行动" 汇总
	story := f.broadcaster.last(EventStoryCommitted)
	require.NotNil(t, story)
	assert.Equal(t, "战士: 攻击哥布林\n盗贼: 潜行绕后", story.Payload.(*StoryCommittedPayload).Content)

	// 判定批次全员可见，此刻文本公开
	ready := f.broadcaster.last(EventJudgmentsReady)
	require.NotNil(t, ready)
	assert.Equal(t, "session", ready.Scope)
	batch := ready.Payload.(*JudgmentsReadyPayload)
	require.Len(t, batch.Judgments, 2)
	assert.Equal(t, StatusActive, batch.Judgments[0].Status)
	assert.Equal(t, StatusWaiting, batch.Judgments[1].Status)
	assert.Equal(t, "攻击哥布林", batch.Judgments[0].ActionText)
	// 力量14的战士：关键词"攻击"命中力量检定，修正+2
	assert.Equal(t, models.AbilityStrength, batch.Judgments[0].AbilityType)
	assert.Equal(t, 2, batch.Judgments[0].Modifier)

	var count int64
	f.db.Model(&models.ActionJudgment{}).Where("session_id = ?", f.session.ID).Count(&count)
	assert.Equal(t, int64(2), count)

	// 队列已清空，再次提交为空队列
	err = f.registry.Commit(ctx, f.session.ID, f.host.ID)
	assert.True(t, errors.Is(err, errors.ErrJudgmentPending))
}

// TestCommitRoutesAnalysisPerOwner 单条分析结果按归属路由：
// 所有者收 judgment_ready，其余成员收内容一致的 player_action_analyzed
func TestCommitRoutesAnalysisPerOwner(t *testing.T) {
	f := setupFixture(t)
	f.joinAll(t)
	ctx := context.Background()

	require.NoError(t, f.registry.SubmitAction(ctx, f.session.ID, f.player1.ID, "攻击哥布林"))
	require.NoError(t, f.registry.SubmitAction(ctx, f.session.ID, f.player2.ID, "潜行绕后"))
	require.NoError(t, f.registry.Commit(ctx, f.session.ID, f.host.ID))

	ready := f.broadcaster.named(EventJudgmentReady)
	require.Len(t, ready, 2)
	analyzed := f.broadcaster.named(EventPlayerActionAnalyzed)
	require.Len(t, analyzed, 2)

	for i, owner := range []uint{f.player1.ID, f.player2.ID} {
		assert.Equal(t, "user", ready[i].Scope)
		assert.Equal(t, owner, ready[i].UserID)
		assert.Equal(t, "except", analyzed[i].Scope)
		assert.Equal(t, owner, analyzed[i].UserID)
		// 两个事件共用同一份内容
		assert.Equal(t, ready[i].Payload, analyzed[i].Payload)
		payload := ready[i].Payload.(*ActionAnalyzedPayload)
		assert.Equal(t, i, payload.JudgmentIndex)
	}
	assert.Equal(t, "攻击哥布林", ready[0].Payload.(*ActionAnalyzedPayload).Judgment.ActionText)
	assert.Equal(t, "潜行绕后", ready[1].Payload.(*ActionAnalyzedPayload).Judgment.ActionText)
}

// TestRollDiceFlow 掷骰：归属校验、结算、幂等
func TestRollDiceFlow(t *testing.T) {
	// 第一骰20（天然20），第二骰1（天然1）
	f := setupFixture(t, 20, 1)
	f.joinAll(t)
	f.commitTwoActions(t)
	ctx := context.Background()

	// 不是当前判定的所有者
	err := f.registry.RollDice(ctx, f.session.ID, f.player2.ID, 0, 0)
	assert.True(t, errors.Is(err, errors.ErrNotYourTurn))

	require.NoError(t, f.registry.RollDice(ctx, f.session.ID, f.player1.ID, 0, 0))
	rolled := f.broadcaster.last(EventDiceRolled)
	require.NotNil(t, rolled)
	assert.Equal(t, "session", rolled.Scope)
	j := rolled.Payload.(*DiceRolledPayload).Judgment
	assert.Equal(t, 20, j.DiceResult)
	assert.Equal(t, 22, j.FinalValue)
	assert.Equal(t, OutcomeCriticalSuccess, j.Outcome)
	assert.Equal(t, StatusComplete, j.Status)

	// 重复掷骰不改结果，只回发请求者
	f.broadcaster.reset()
	require.NoError(t, f.registry.RollDice(ctx, f.session.ID, f.player1.ID, 0, 0))
	replay := f.broadcaster.last(EventDiceRolled)
	require.NotNil(t, replay)
	assert.Equal(t, "user", replay.Scope)
	assert.Equal(t, 20, replay.Payload.(*DiceRolledPayload).Judgment.DiceResult)

	// 推进到第二条，天然1即使过线也是大失败
	require.NoError(t, f.registry.NextJudgment(ctx, f.session.ID, f.player1.ID, 0))
	require.NoError(t, f.registry.RollDice(ctx, f.session.ID, f.player2.ID, 0, 0))
	rolled = f.broadcaster.last(EventDiceRolled)
	assert.Equal(t, OutcomeCriticalFailure, rolled.Payload.(*DiceRolledPayload).Judgment.Outcome)

	// 最后一条结算完，批次完成
	assert.NotNil(t, f.broadcaster.last(EventAllDiceRolled))

	// 落库校验
	var record models.ActionJudgment
	require.NoError(t, f.db.Where("session_id = ? AND action_text = ?", f.session.ID, "攻击哥布林").First(&record).Error)
	require.NotNil(t, record.DiceResult)
	assert.Equal(t, 20, *record.DiceResult)
	assert.Equal(t, string(OutcomeCriticalSuccess), record.Outcome)
}

// TestRollDiceClientFields 客户端请求字段：骰值校验、服务端出骰优先、按判定ID的重复投递
func TestRollDiceClientFields(t *testing.T) {
	f := setupFixture(t, 20)
	f.joinAll(t)
	f.commitTwoActions(t)
	ctx := context.Background()

	// 骰值只接受1到20
	err := f.registry.RollDice(ctx, f.session.ID, f.player1.ID, 0, 21)
	assert.True(t, errors.Is(err, errors.ErrInvalidDice))
	err = f.registry.RollDice(ctx, f.session.ID, f.player1.ID, 0, -3)
	assert.True(t, errors.Is(err, errors.ErrInvalidDice))

	// 未知的判定ID
	err = f.registry.RollDice(ctx, f.session.ID, f.player1.ID, 9999, 0)
	assert.True(t, errors.Is(err, errors.ErrJudgmentNotFound))

	// 客户端自带的骰值不参与结算，一律以服务端出骰为准
	require.NoError(t, f.registry.RollDice(ctx, f.session.ID, f.player1.ID, 0, 5))
	rolled := f.broadcaster.last(EventDiceRolled)
	require.NotNil(t, rolled)
	first := rolled.Payload.(*DiceRolledPayload).Judgment
	assert.Equal(t, 20, first.DiceResult)

	// 携带已结算判定ID的重复请求只回发请求者，结果不变
	f.broadcaster.reset()
	require.NoError(t, f.registry.RollDice(ctx, f.session.ID, f.player1.ID, first.ID, 0))
	replay := f.broadcaster.last(EventDiceRolled)
	require.NotNil(t, replay)
	assert.Equal(t, "user", replay.Scope)
	assert.Equal(t, f.player1.ID, replay.UserID)
	assert.Equal(t, 20, replay.Payload.(*DiceRolledPayload).Judgment.DiceResult)

	// 还没轮到的判定不能凭ID提前掷
	var pending models.ActionJudgment
	require.NoError(t, f.db.Where("session_id = ? AND action_text = ?", f.session.ID, "潜行绕后").First(&pending).Error)
	err = f.registry.RollDice(ctx, f.session.ID, f.player2.ID, pending.ID, 0)
	assert.True(t, errors.Is(err, errors.ErrNotYourTurn))
}

// TestConcurrentSubmitsKeepQueueEventsOrdered 并发提交下主持人收到的队列事件与队列变更同序
func TestConcurrentSubmitsKeepQueueEventsOrdered(t *testing.T) {
	f := setupFixture(t)
	f.joinAll(t)
	ctx := context.Background()

	const perPlayer = 10
	var wg sync.WaitGroup
	wg.Add(2)
	submit := func(userID uint, text string) {
		defer wg.Done()
		for i := 0; i < perPlayer; i++ {
			assert.NoError(t, f.registry.SubmitAction(ctx, f.session.ID, userID, text))
		}
	}
	go submit(f.player1.ID, "行动甲")
	go submit(f.player2.ID, "行动乙")
	wg.Wait()

	// 每条队列广播携带提交时刻的权威数量，到达顺序必须与数量单调一致
	updates := f.broadcaster.named(EventQueueUpdated)
	require.Len(t, updates, 2*perPlayer)
	for i, e := range updates {
		payload := e.Payload.(*QueuePayload)
		assert.Equal(t, i+1, payload.QueueCount)
		assert.Len(t, payload.Actions, i+1)
	}
}

// recordingNarrator 记录收到的叙事上下文
type recordingNarrator struct {
	mu     sync.Mutex
	recent []*models.StoryLog
}

func (n *recordingNarrator) Narrate(_ context.Context, _ uint, _ string, recent []*models.StoryLog, judgments []*Judgment) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recent = recent
	return "本回合的故事", nil
}

// TestNarratorReceivesStoryContext 叙事生成携带会话最近的剧情记录
func TestNarratorReceivesStoryContext(t *testing.T) {
	f := setupFixture(t, 10)
	narrator := &recordingNarrator{}
	registry := NewRegistry(Options{
		Broadcaster:      f.broadcaster,
		Roller:           f.roller,
		Narrator:         narrator,
		StoryContextSize: 5,
		SessionRepo:      repository.NewGameSessionRepository(f.db),
		ParticipantRepo:  repository.NewParticipantRepository(f.db),
		CharacterRepo:    repository.NewCharacterRepository(f.db),
		StoryRepo:        repository.NewStoryLogRepository(f.db),
		JudgmentRepo:     repository.NewJudgmentRepository(f.db),
	})
	ctx := context.Background()

	require.NoError(t, registry.Join(ctx, f.session.ID, f.host.ID, f.hostC.ID))
	require.NoError(t, registry.Join(ctx, f.session.ID, f.player1.ID, f.p1C.ID))
	require.NoError(t, registry.SubmitAction(ctx, f.session.ID, f.player1.ID, "攻击哥布林"))
	require.NoError(t, registry.Commit(ctx, f.session.ID, f.host.ID))
	require.NoError(t, registry.RollDice(ctx, f.session.ID, f.player1.ID, 0, 0))
	require.NoError(t, registry.TriggerStory(ctx, f.session.ID, f.player1.ID))

	require.Eventually(t, func() bool {
		return f.broadcaster.last(EventStoryGenerationComplete) != nil
	}, 2*time.Second, 10*time.Millisecond)

	// 提交时落库的玩家叙事在生成下一段剧情时作为上下文传入
	narrator.mu.Lock()
	defer narrator.mu.Unlock()
	require.Len(t, narrator.recent, 1)
	assert.Equal(t, models.StoryRoleUser, narrator.recent[0].Role)
	assert.Equal(t, "战士: 攻击哥布林", narrator.recent[0].Content)
}

// TestNextJudgmentStaleIndex 携带过期下标的推进被拒绝并附带权威快照
func TestNextJudgmentStaleIndex(t *testing.T) {
	f := setupFixture(t, 10)
	f.joinAll(t)
	f.commitTwoActions(t)
	ctx := context.Background()

	require.NoError(t, f.registry.RollDice(ctx, f.session.ID, f.player1.ID, 0, 0))

	err := f.registry.NextJudgment(ctx, f.session.ID, f.player1.ID, 1)
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrStaleIndex, appErr.Code)
	snapshot, ok := appErr.State.(*BatchSnapshot)
	require.True(t, ok)
	assert.Equal(t, 0, snapshot.CurrentIndex)

	// 未掷骰不能推进
	require.NoError(t, f.registry.NextJudgment(ctx, f.session.ID, f.player1.ID, 0))
	err = f.registry.NextJudgment(ctx, f.session.ID, f.player2.ID, 1)
	assert.True(t, errors.Is(err, errors.ErrJudgmentPending))

	// 非所有者不能推进
	require.NoError(t, f.registry.RollDice(ctx, f.session.ID, f.player2.ID, 0, 0))
	err = f.registry.NextJudgment(ctx, f.session.ID, f.player1.ID, 1)
	assert.True(t, errors.Is(err, errors.ErrNotYourTurn))
}

// TestTriggerStoryOnce 叙事触发是一次性的
func TestTriggerStoryOnce(t *testing.T) {
	f := setupFixture(t, 10, 10)
	f.joinAll(t)
	f.commitTwoActions(t)
	ctx := context.Background()

	// 批次未完成
	err := f.registry.TriggerStory(ctx, f.session.ID, f.host.ID)
	assert.True(t, errors.Is(err, errors.ErrBatchUnfinished))

	require.NoError(t, f.registry.RollDice(ctx, f.session.ID, f.player1.ID, 0, 0))
	require.NoError(t, f.registry.NextJudgment(ctx, f.session.ID, f.player1.ID, 0))
	require.NoError(t, f.registry.RollDice(ctx, f.session.ID, f.player2.ID, 0, 0))

	// 任意参与者都可以触发
	require.NoError(t, f.registry.TriggerStory(ctx, f.session.ID, f.player1.ID))
	assert.NotNil(t, f.broadcaster.last(EventStoryGenerationStarted))

	require.Eventually(t, func() bool {
		return f.broadcaster.last(EventStoryGenerationComplete) != nil
	}, 2*time.Second, 10*time.Millisecond)

	complete := f.broadcaster.last(EventStoryGenerationComplete)
	payload := complete.Payload.(*StoryGenerationCompletePayload)
	assert.NotEmpty(t, payload.Content)

	// AI叙事已落库并关联判定
	var story models.StoryLog
	require.NoError(t, f.db.Where("session_id = ? AND role = ?", f.session.ID, models.StoryRoleAI).First(&story).Error)
	var linked int64
	f.db.Model(&models.ActionJudgment{}).Where("story_log_id = ?", story.ID).Count(&linked)
	assert.Equal(t, int64(2), linked)

	// 批次已清空，可以开始下一轮收集
	err = f.registry.TriggerStory(ctx, f.session.ID, f.host.ID)
	assert.True(t, errors.Is(err, errors.ErrNoBatch))
	require.NoError(t, f.registry.SubmitAction(ctx, f.session.ID, f.player1.ID, "继续前进"))
	require.NoError(t, f.registry.Commit(ctx, f.session.ID, f.host.ID))
}

// TestLeaveAndHostEnd 普通成员离开与主持人离开
func TestLeaveAndHostEnd(t *testing.T) {
	f := setupFixture(t)
	f.joinAll(t)
	ctx := context.Background()

	require.NoError(t, f.registry.Leave(ctx, f.session.ID, f.player1.ID))
	left := f.broadcaster.last(EventUserLeft)
	require.NotNil(t, left)
	assert.Equal(t, 2, left.Payload.(*UserLeftPayload).ParticipantCount)

	// 主持人离开 = 结束会话
	require.NoError(t, f.registry.Leave(ctx, f.session.ID, f.host.ID))
	ended := f.broadcaster.last(EventSessionEnded)
	require.NotNil(t, ended)
	assert.Equal(t, ReasonHostEnded, ended.Payload.(*SessionEndedPayload).Reason)
	assert.Contains(t, f.broadcaster.closed, f.session.ID)

	var record models.GameSession
	require.NoError(t, f.db.First(&record, f.session.ID).Error)
	assert.False(t, record.IsActive)

	// 结束的会话不再接受操作
	err := f.registry.SubmitAction(ctx, f.session.ID, f.player2.ID, "晚了")
	assert.True(t, errors.Is(err, errors.ErrSessionNotFound))
}

// TestHostDisconnectEndsSession 主持人断线结束会话并强制清批次
func TestHostDisconnectEndsSession(t *testing.T) {
	f := setupFixture(t, 10)
	f.joinAll(t)
	f.commitTwoActions(t)
	ctx := context.Background()

	require.NoError(t, f.registry.Disconnect(ctx, f.session.ID, f.host.ID))
	ended := f.broadcaster.last(EventSessionEnded)
	require.NotNil(t, ended)
	assert.Equal(t, ReasonHostDisconnected, ended.Payload.(*SessionEndedPayload).Reason)

	// 未掷骰的判定记录被清理
	var count int64
	f.db.Model(&models.ActionJudgment{}).Where("session_id = ? AND dice_result IS NULL", f.session.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}

// TestHeartbeatSweep 心跳超时巡检
func TestHeartbeatSweep(t *testing.T) {
	f := setupFixture(t)
	f.joinAll(t)

	s, err := f.registry.session(f.session.ID)
	require.NoError(t, err)

	// player1 超时，主持人和player2正常
	s.mu.Lock()
	s.participants[f.player1.ID].LastHeartbeat = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	f.registry.sweep()

	left := f.broadcaster.last(EventUserLeft)
	require.NotNil(t, left)
	assert.Equal(t, f.player1.ID, left.Payload.(*UserLeftPayload).UserID)
	assert.Nil(t, f.broadcaster.last(EventSessionEnded))

	// 主持人超时则整个会话结束
	s.mu.Lock()
	s.participants[f.host.ID].LastHeartbeat = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	f.registry.sweep()
	ended := f.broadcaster.last(EventSessionEnded)
	require.NotNil(t, ended)
	assert.Equal(t, ReasonHostDisconnected, ended.Payload.(*SessionEndedPayload).Reason)
}

// TestEmptySessionAutoEnd 空会话超过超时窗口自动结束
func TestEmptySessionAutoEnd(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	require.NoError(t, f.registry.Join(ctx, f.session.ID, f.player1.ID, f.p1C.ID))
	require.NoError(t, f.registry.Join(ctx, f.session.ID, f.host.ID, f.hostC.ID))

	s, err := f.registry.session(f.session.ID)
	require.NoError(t, err)

	// 全员离场后把空置时间拨回超时窗口之前
	require.NoError(t, f.registry.removeParticipant(ctx, s, f.player1.ID))
	require.NoError(t, f.registry.removeParticipant(ctx, s, f.host.ID))
	s.mu.Lock()
	s.emptySince = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	f.registry.sweep()

	ended := f.broadcaster.last(EventSessionEnded)
	require.NotNil(t, ended)
	assert.Equal(t, ReasonNoParticipants, ended.Payload.(*SessionEndedPayload).Reason)
}

// TestRestart 重开会话
func TestRestart(t *testing.T) {
	f := setupFixture(t)
	f.joinAll(t)
	ctx := context.Background()

	err := f.registry.Restart(ctx, f.session.ID, f.host.ID)
	assert.True(t, errors.Is(err, errors.ErrSessionActive))

	require.NoError(t, f.registry.End(ctx, f.session.ID, f.host.ID))

	err = f.registry.Restart(ctx, f.session.ID, f.player1.ID)
	assert.True(t, errors.Is(err, errors.ErrNotHost))

	require.NoError(t, f.registry.Restart(ctx, f.session.ID, f.host.ID))
	var record models.GameSession
	require.NoError(t, f.db.First(&record, f.session.ID).Error)
	assert.True(t, record.IsActive)

	// 重开后队列是空的
	require.NoError(t, f.registry.Join(ctx, f.session.ID, f.host.ID, f.hostC.ID))
	snap := f.broadcaster.last(EventQueueData)
	require.NotNil(t, snap)
	assert.Equal(t, 0, snap.Payload.(*QueuePayload).QueueCount)
}

// TestChat 聊天转发与长度限制
func TestChat(t *testing.T) {
	f := setupFixture(t)
	f.joinAll(t)

	require.NoError(t, f.registry.Chat(f.session.ID, f.player1.ID, "大家好"))
	msg := f.broadcaster.last(EventChatMessage)
	require.NotNil(t, msg)
	payload := msg.Payload.(*ChatMessagePayload)
	assert.Equal(t, "战士", payload.CharacterName)
	assert.Equal(t, "大家好", payload.Message)

	long := make([]rune, MaxChatMessageLen+1)
	for i := range long {
		long[i] = '话'
	}
	err := f.registry.Chat(f.session.ID, f.player1.ID, string(long))
	assert.True(t, errors.Is(err, errors.ErrTextTooLong))
}
