package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ErrorsTestSuite 错误包测试套件
type ErrorsTestSuite struct {
	suite.Suite
}

// 测试创建新错误
func (suite *ErrorsTestSuite) TestNew() {
	// 测试基本错误创建
	err := New(ErrInvalidParam)
	suite.NotNil(err)
	suite.Equal(ErrInvalidParam, err.Code)
	suite.Equal("无效的参数", err.Message)
	suite.Empty(err.Details)

	// 测试带详情的错误
	err = New(ErrSessionNotFound, "会话 42 不存在")
	suite.NotNil(err)
	suite.Equal(ErrSessionNotFound, err.Code)
	suite.Equal("会话不存在", err.Message)
	suite.Equal("会话 42 不存在", err.Details)

	// 测试多个详情
	err = New(ErrDatabaseConnect, "连接失败", "主机: localhost", "端口: 3306")
	suite.Equal("连接失败; 主机: localhost; 端口: 3306", err.Details)
}

// 测试格式化错误创建
func (suite *ErrorsTestSuite) TestNewf() {
	err := Newf(ErrStaleIndex, "客户端索引 %d，服务端索引 %d", 2, 3)
	suite.NotNil(err)
	suite.Equal(ErrStaleIndex, err.Code)
	suite.Equal("客户端索引 2，服务端索引 3", err.Details)
}

// 测试错误包装
func (suite *ErrorsTestSuite) TestWrap() {
	// 包装标准错误
	originalErr := errors.New("原始错误")
	wrappedErr := Wrap(originalErr, ErrDatabaseQuery)
	suite.NotNil(wrappedErr)
	suite.Equal(ErrDatabaseQuery, wrappedErr.Code)
	suite.Equal("原始错误", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)

	// 包装nil错误
	nilErr := Wrap(nil, ErrUnknown)
	suite.Nil(nilErr)

	// 包装已有的AppError保留原始错误码
	appErr := New(ErrNotHost)
	wrappedAppErr := Wrap(appErr, ErrInvalidParam, "额外信息")
	suite.Equal(ErrNotHost, wrappedAppErr.Code)
}

// 测试错误码判断
func (suite *ErrorsTestSuite) TestIs() {
	err := New(ErrNotYourTurn)
	suite.True(Is(err, ErrNotYourTurn))
	suite.False(Is(err, ErrStaleIndex))
	suite.False(Is(nil, ErrNotYourTurn))
	suite.False(Is(errors.New("普通错误"), ErrNotYourTurn))
}

// 测试授权类错误分类
func (suite *ErrorsTestSuite) TestIsAuthorization() {
	suite.True(IsAuthorization(New(ErrNotHost)))
	suite.True(IsAuthorization(New(ErrNotYourTurn)))
	suite.True(IsAuthorization(New(ErrNotParticipant)))
	suite.False(IsAuthorization(New(ErrEmptyText)))
	suite.False(IsAuthorization(nil))
}

// 测试状态过期类错误分类
func (suite *ErrorsTestSuite) TestIsStaleState() {
	suite.True(IsStaleState(New(ErrStaleQueue)))
	suite.True(IsStaleState(New(ErrStaleIndex)))
	suite.False(IsStaleState(New(ErrNotHost)))
}

// 测试附带权威状态
func (suite *ErrorsTestSuite) TestWithState() {
	state := map[string]int{"current_index": 3}
	err := New(ErrStaleIndex).WithState(state)
	suite.Equal(state, err.State)
}

// 测试HTTP状态码映射
func (suite *ErrorsTestSuite) TestHTTPStatus() {
	suite.Equal(400, New(ErrEmptyText).HTTPStatus())
	suite.Equal(404, New(ErrSessionNotFound).HTTPStatus())
	suite.Equal(403, New(ErrNotHost).HTTPStatus())
	suite.Equal(401, New(ErrTokenExpired).HTTPStatus())
	suite.Equal(409, New(ErrSessionActive).HTTPStatus())
	suite.Equal(503, New(ErrDatabaseConnect).HTTPStatus())
}

// 运行测试套件
func TestErrorsTestSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}
