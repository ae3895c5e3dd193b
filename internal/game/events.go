package game

// 服务端下行事件名
const (
	EventUserJoined    = "user_joined"
	EventUserLeft      = "user_left"
	EventSessionEnded  = "session_ended"
	EventHeartbeatAck  = "heartbeat_ack"
	EventActionSubmitted = "action_submitted"
	EventQueueData     = "queue_data"    // 完整队列（仅主持人）
	EventQueueUpdated  = "queue_updated" // 队列变更后的完整队列（仅主持人）
	EventQueueCount    = "queue_count"   // 队列数量（非主持人）
	EventStoryCommitted = "story_committed"

	EventJudgmentsReady       = "judgments_ready"        // 批次就绪（全员）
	EventJudgmentReady        = "judgment_ready"         // 单条分析结果（仅所有者）
	EventPlayerActionAnalyzed = "player_action_analyzed" // 单条分析结果（所有者以外的成员）
	EventDiceRolled           = "dice_rolled"
	EventNextJudgment         = "next_judgment"
	EventAllDiceRolled        = "all_dice_rolled"
	EventJudgmentSnapshot     = "judgment_snapshot"

	EventStoryGenerationStarted  = "story_generation_started"
	EventStoryGenerationComplete = "story_generation_complete"
	EventStoryGenerationError    = "story_generation_error"

	EventChatMessage = "chat_message"
	EventError       = "error"
)

// Broadcaster 会话内消息投递接口，由传输层实现
// 引擎只依赖该接口，不感知底层连接形态
type Broadcaster interface {
	// ToSession 向会话内所有成员广播
	ToSession(sessionID uint, event string, payload interface{})
	// ToUser 向会话内指定用户单发
	ToUser(sessionID, userID uint, event string, payload interface{})
	// ToSessionExcept 向除指定用户外的所有成员广播
	ToSessionExcept(sessionID, userID uint, event string, payload interface{})
	// CloseSession 会话结束后关闭对应房间
	CloseSession(sessionID uint)
}

// UserJoinedPayload 成员加入广播
type UserJoinedPayload struct {
	SessionID        uint           `json:"session_id"`
	UserID           uint           `json:"user_id"`
	CharacterID      uint           `json:"character_id"`
	CharacterName    string         `json:"character_name"`
	Participants     []*Participant `json:"participants"`
	ParticipantCount int            `json:"participant_count"`
}

// UserLeftPayload 成员离开广播
type UserLeftPayload struct {
	SessionID        uint   `json:"session_id"`
	UserID           uint   `json:"user_id"`
	CharacterName    string `json:"character_name"`
	ParticipantCount int    `json:"participant_count"`
}

// SessionEndedPayload 会话结束广播
type SessionEndedPayload struct {
	SessionID uint   `json:"session_id"`
	Reason    string `json:"reason"`
}

// ActionSubmittedPayload 行动提交广播（不含行动文本）
type ActionSubmittedPayload struct {
	SessionID     uint   `json:"session_id"`
	CharacterName string `json:"character_name"`
	QueueCount    int    `json:"queue_count"`
}

// QueuePayload 完整队列（仅发给主持人）
type QueuePayload struct {
	SessionID  uint            `json:"session_id"`
	Actions    []*QueuedAction `json:"actions"`
	QueueCount int             `json:"queue_count"`
}

// QueueCountPayload 队列数量（发给非主持人）
type QueueCountPayload struct {
	SessionID  uint `json:"session_id"`
	QueueCount int  `json:"queue_count"`
}

// StoryCommittedPayload 批次提交后的剧情记录广播
type StoryCommittedPayload struct {
	SessionID  uint   `json:"session_id"`
	StoryLogID uint   `json:"story_log_id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
}

// JudgmentsReadyPayload 批次就绪广播（全员可见，含判定全文）
type JudgmentsReadyPayload struct {
	SessionID     uint        `json:"session_id"`
	JudgmentCount int         `json:"judgment_count"`
	CurrentIndex  int         `json:"current_index"`
	Judgments     []*Judgment `json:"judgments"`
}

// ActionAnalyzedPayload 单条判定分析结果
// judgment_ready（发所有者）和 player_action_analyzed（发其余成员）共用同一份内容
type ActionAnalyzedPayload struct {
	SessionID     uint      `json:"session_id"`
	JudgmentIndex int       `json:"judgment_index"`
	Judgment      *Judgment `json:"judgment"`
}

// DiceRolledPayload 掷骰结算广播
type DiceRolledPayload struct {
	SessionID     uint      `json:"session_id"`
	JudgmentIndex int       `json:"judgment_index"`
	Judgment      *Judgment `json:"judgment"`
}

// NextJudgmentPayload 判定推进广播
type NextJudgmentPayload struct {
	SessionID     uint      `json:"session_id"`
	JudgmentIndex int       `json:"judgment_index"`
	Judgment      *Judgment `json:"judgment"`
}

// AllDiceRolledPayload 批次全部结算广播
type AllDiceRolledPayload struct {
	SessionID uint `json:"session_id"`
}

// StoryGenerationStartedPayload 叙事生成开始广播
type StoryGenerationStartedPayload struct {
	SessionID uint `json:"session_id"`
}

// StoryGenerationCompletePayload 叙事生成完成广播
type StoryGenerationCompletePayload struct {
	SessionID  uint   `json:"session_id"`
	StoryLogID uint   `json:"story_log_id"`
	Content    string `json:"content"`
}

// ChatMessagePayload 临时聊天消息（不落库）
type ChatMessagePayload struct {
	SessionID     uint   `json:"session_id"`
	UserID        uint   `json:"user_id"`
	CharacterName string `json:"character_name"`
	Message       string `json:"message"`
	Timestamp     int64  `json:"timestamp"`
}
