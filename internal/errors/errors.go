package errors

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown          ErrorCode = 1000
	ErrInvalidParam     ErrorCode = 1001
	ErrNotFound         ErrorCode = 1002
	ErrAlreadyExists    ErrorCode = 1003
	ErrPermissionDenied ErrorCode = 1004
	ErrTimeout          ErrorCode = 1005
	ErrEmptyText        ErrorCode = 1006
	ErrTextTooLong      ErrorCode = 1007

	// 会话错误 (2000-2999)
	ErrSessionNotFound   ErrorCode = 2000
	ErrSessionInactive   ErrorCode = 2001
	ErrSessionActive     ErrorCode = 2002
	ErrNotHost           ErrorCode = 2003
	ErrNotParticipant    ErrorCode = 2004
	ErrCharacterNotFound ErrorCode = 2005

	// 行动队列错误 (3000-3999)
	ErrActionNotFound ErrorCode = 3000
	ErrEmptyQueue     ErrorCode = 3001
	ErrStaleQueue     ErrorCode = 3002
	ErrQueueLocked    ErrorCode = 3003

	// 判定错误 (4000-4999)
	ErrNoBatch          ErrorCode = 4000
	ErrNotYourTurn      ErrorCode = 4001
	ErrStaleIndex       ErrorCode = 4002
	ErrJudgmentPending  ErrorCode = 4003
	ErrJudgmentNotFound ErrorCode = 4004
	ErrInvalidDice      ErrorCode = 4005
	ErrBatchUnfinished  ErrorCode = 4006

	// 数据库错误 (5000-5999)
	ErrDatabaseConnect ErrorCode = 5000
	ErrDatabaseQuery   ErrorCode = 5001
	ErrDatabaseInsert  ErrorCode = 5002
	ErrDatabaseUpdate  ErrorCode = 5003
	ErrTransaction     ErrorCode = 5004

	// 配置错误 (6000-6999)
	ErrConfigLoad     ErrorCode = 6000
	ErrConfigParse    ErrorCode = 6001
	ErrConfigValidate ErrorCode = 6002

	// 安全错误 (7000-7999)
	ErrAuthentication ErrorCode = 7000
	ErrAuthorization  ErrorCode = 7001
	ErrTokenExpired   ErrorCode = 7002
	ErrTokenInvalid   ErrorCode = 7003
)

// 错误码消息映射
var errorMessages = map[ErrorCode]string{
	// 通用错误
	ErrUnknown:          "未知错误",
	ErrInvalidParam:     "无效的参数",
	ErrNotFound:         "资源未找到",
	ErrAlreadyExists:    "资源已存在",
	ErrPermissionDenied: "权限不足",
	ErrTimeout:          "操作超时",
	ErrEmptyText:        "文本不能为空",
	ErrTextTooLong:      "文本超出长度限制",

	// 会话错误
	ErrSessionNotFound:   "会话不存在",
	ErrSessionInactive:   "会话已结束",
	ErrSessionActive:     "会话仍在进行中",
	ErrNotHost:           "只有主持人可以执行此操作",
	ErrNotParticipant:    "不是会话参与者",
	ErrCharacterNotFound: "角色不存在",

	// 行动队列错误
	ErrActionNotFound: "行动不存在",
	ErrEmptyQueue:     "行动队列为空",
	ErrStaleQueue:     "队列已变更，请刷新后重试",
	ErrQueueLocked:    "队列已提交，无法修改",

	// 判定错误
	ErrNoBatch:          "当前没有进行中的判定",
	ErrNotYourTurn:      "还没轮到你的判定",
	ErrStaleIndex:       "判定进度已变更",
	ErrJudgmentPending:  "当前判定尚未完成",
	ErrJudgmentNotFound: "判定不存在",
	ErrInvalidDice:      "无效的骰子结果",
	ErrBatchUnfinished:  "还有判定未完成",

	// 数据库错误
	ErrDatabaseConnect: "数据库连接失败",
	ErrDatabaseQuery:   "数据库查询失败",
	ErrDatabaseInsert:  "数据库插入失败",
	ErrDatabaseUpdate:  "数据库更新失败",
	ErrTransaction:     "事务处理失败",

	// 配置错误
	ErrConfigLoad:     "配置加载失败",
	ErrConfigParse:    "配置解析失败",
	ErrConfigValidate: "配置验证失败",

	// 安全错误
	ErrAuthentication: "认证失败",
	ErrAuthorization:  "授权失败",
	ErrTokenExpired:   "令牌已过期",
	ErrTokenInvalid:   "无效的令牌",
}

// AppError 应用错误结构
type AppError struct {
	Code    ErrorCode    `json:"code"`            // 错误码
	Message string       `json:"message"`         // 错误消息
	Details string       `json:"details"`         // 详细信息
	State   interface{}  `json:"state,omitempty"` // 附带的权威状态（供客户端重新同步）
	Cause   error        `json:"-"`               // 原始错误
	Stack   []StackFrame `json:"stack,omitempty"` // 调用栈
}

// StackFrame 调用栈帧
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加详细信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithState 附带权威状态，客户端收到后用它覆盖本地状态
func (e *AppError) WithState(state interface{}) *AppError {
	e.State = state
	return e
}

// WithCause 添加原因错误
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	if cause != nil && e.Details == "" {
		e.Details = cause.Error()
	}
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, details ...string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: message,
	}

	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	// 捕获调用栈
	err.captureStack(2)

	return err
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	details := fmt.Sprintf(format, args...)
	return New(code, details)
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，保留原始错误码
	if appErr, ok := err.(*AppError); ok {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return appErr
	}

	appErr := New(code, details...)
	appErr.Cause = err
	if appErr.Details == "" {
		appErr.Details = err.Error()
	}

	return appErr
}

// Is 判断错误是否为指定错误码
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}

// GetCode 获取错误码
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}

	return ErrUnknown
}

// IsAuthorization 判断是否为授权类错误（只回给请求者，不广播）
func IsAuthorization(err error) bool {
	switch GetCode(err) {
	case ErrNotHost, ErrNotYourTurn, ErrAuthorization, ErrPermissionDenied, ErrNotParticipant:
		return true
	default:
		return false
	}
}

// IsStaleState 判断是否为状态过期错误（附带权威状态供客户端重新同步）
func IsStaleState(err error) bool {
	switch GetCode(err) {
	case ErrStaleQueue, ErrStaleIndex:
		return true
	default:
		return false
	}
}

// captureStack 捕获调用栈
func (e *AppError) captureStack(skip int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)

	if n > 0 {
		frames := runtime.CallersFrames(pcs[:n])
		for {
			frame, more := frames.Next()

			// 跳过runtime和本包的调用
			if strings.Contains(frame.Function, "runtime.") ||
				strings.Contains(frame.Function, "github.com/wfunc/trpg-server/internal/errors") {
				if !more {
					break
				}
				continue
			}

			e.Stack = append(e.Stack, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})

			if !more {
				break
			}

			// 只保留前10个栈帧
			if len(e.Stack) >= 10 {
				break
			}
		}
	}
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch {
	case e.Code == ErrInvalidParam || e.Code == ErrEmptyText || e.Code == ErrTextTooLong:
		return 400 // Bad Request
	case e.Code == ErrNotFound || e.Code == ErrSessionNotFound || e.Code == ErrCharacterNotFound:
		return 404 // Not Found
	case e.Code == ErrPermissionDenied || e.Code == ErrNotHost || e.Code == ErrAuthorization:
		return 403 // Forbidden
	case e.Code >= 7000 && e.Code <= 7003:
		return 401 // Unauthorized
	case e.Code == ErrAlreadyExists || e.Code == ErrSessionActive:
		return 409 // Conflict
	case e.Code >= 5000 && e.Code <= 5999:
		return 503 // Service Unavailable
	default:
		return 500 // Internal Server Error
	}
}

// ErrorResponse API错误响应结构
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     *AppError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err *AppError, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     err,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}
