package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

// PasswordTestSuite 密码工具测试套件
type PasswordTestSuite struct {
	suite.Suite
}

// 测试密码哈希
func (suite *PasswordTestSuite) TestHashPassword() {
	password := "MySecurePassword123!"

	hash, err := HashPassword(password)
	suite.NoError(err)
	suite.NotEmpty(hash)
	suite.NotEqual(password, hash)
	suite.True(strings.HasPrefix(hash, "$argon2id$"))
}

// 测试相同密码生成不同哈希
func (suite *PasswordTestSuite) TestHashPasswordUniqueness() {
	password := "SamePassword123"

	hash1, err1 := HashPassword(password)
	hash2, err2 := HashPassword(password)

	suite.NoError(err1)
	suite.NoError(err2)
	suite.NotEqual(hash1, hash2) // salt不同
}

// 测试密码验证
func (suite *PasswordTestSuite) TestVerifyPassword() {
	password := "CorrectPassword456"
	hash, _ := HashPassword(password)

	valid, err := VerifyPassword(password, hash)
	suite.NoError(err)
	suite.True(valid)

	invalid, err := VerifyPassword("WrongPassword", hash)
	suite.NoError(err)
	suite.False(invalid)

	// 大小写敏感
	invalidCase, err := VerifyPassword("correctpassword456", hash)
	suite.NoError(err)
	suite.False(invalidCase)
}

// 测试非法哈希格式
func (suite *PasswordTestSuite) TestVerifyPasswordInvalidFormat() {
	_, err := VerifyPassword("password", "not-a-hash")
	suite.Error(err)

	_, err = VerifyPassword("password", "$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA")
	suite.Error(err)
}

// 测试生成随机字符串
func (suite *PasswordTestSuite) TestGenerateRandomString() {
	s1, err1 := GenerateRandomString(32)
	s2, err2 := GenerateRandomString(32)

	suite.NoError(err1)
	suite.NoError(err2)
	suite.Len(s1, 32)
	suite.NotEqual(s1, s2)
}

func TestPasswordTestSuite(t *testing.T) {
	suite.Run(t, new(PasswordTestSuite))
}
