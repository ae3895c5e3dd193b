package service

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	apperrors "github.com/wfunc/trpg-server/internal/errors"
	"github.com/wfunc/trpg-server/internal/models"
	"github.com/wfunc/trpg-server/internal/repository"
	"github.com/wfunc/trpg-server/internal/utils"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// RegisterRequest 注册请求
type RegisterRequest struct {
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
	Nickname        string `json:"nickname"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	IP       string `json:"-"`
}

// AuthResponse 认证响应
type AuthResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	TokenType    string       `json:"token_type"`
}

// AuthService 认证服务接口
type AuthService interface {
	Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error)
	Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error)
	ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error)
}

// authService 认证服务实现
type authService struct {
	userRepo   repository.UserRepository
	jwtManager *utils.JWTManager
	log        *zap.Logger
}

// NewAuthService 创建认证服务
func NewAuthService(userRepo repository.UserRepository, jwtManager *utils.JWTManager, log *zap.Logger) AuthService {
	return &authService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
		log:        log,
	}
}

// Register 用户注册
func (s *authService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	if err := s.validateRegisterRequest(req); err != nil {
		return nil, err
	}

	exists, err := s.userRepo.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if exists {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "用户名已存在")
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrUnknown).WithDetails("密码加密失败")
	}

	user := &models.User{
		Username: req.Username,
		Password: hashedPassword,
		Nickname: req.Nickname,
		Status:   "active",
	}
	if user.Nickname == "" {
		user.Nickname = req.Username
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		s.log.Error("创建用户失败", zap.Error(err), zap.String("username", req.Username))
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
	}

	s.log.Info("用户注册成功", zap.Uint("user_id", user.ID), zap.String("username", user.Username))
	return s.buildAuthResponse(user)
}

// Login 用户登录
func (s *authService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	user, err := s.userRepo.FindByUsername(ctx, req.Username)
	if err != nil {
		if repository.IsNotFound(err) {
			s.log.Warn("登录失败：用户不存在", zap.String("username", req.Username))
			return nil, apperrors.New(apperrors.ErrAuthentication, "用户名或密码错误")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	if user.Status == "banned" || user.Status == "frozen" {
		return nil, apperrors.New(apperrors.ErrAuthorization, "账号已被限制登录")
	}

	valid, err := utils.VerifyPassword(req.Password, user.Password)
	if err != nil || !valid {
		s.log.Warn("登录失败：密码错误", zap.Uint("user_id", user.ID))
		return nil, apperrors.New(apperrors.ErrAuthentication, "用户名或密码错误")
	}

	if err := s.userRepo.UpdateLastLogin(ctx, user.ID, req.IP); err != nil {
		s.log.Warn("更新登录信息失败", zap.Error(err), zap.Uint("user_id", user.ID))
	}

	s.log.Info("用户登录成功", zap.Uint("user_id", user.ID), zap.String("username", user.Username))
	return s.buildAuthResponse(user)
}

// RefreshToken 使用刷新令牌换取新的访问令牌
func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := s.jwtManager.ValidateToken(refreshToken)
	if err != nil {
		if err == utils.ErrExpiredToken {
			return nil, apperrors.New(apperrors.ErrTokenExpired)
		}
		return nil, apperrors.New(apperrors.ErrTokenInvalid)
	}

	if claims.TokenType != "refresh" {
		return nil, apperrors.New(apperrors.ErrTokenInvalid, "不是刷新令牌")
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrAuthentication, "用户不存在")
	}

	accessToken, err := s.jwtManager.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrUnknown).WithDetails("生成访问令牌失败")
	}

	return &AuthResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtManager.GetTokenExpiry("access").Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// ValidateToken 验证访问令牌
func (s *authService) ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		if err == utils.ErrExpiredToken {
			return nil, apperrors.New(apperrors.ErrTokenExpired)
		}
		return nil, apperrors.New(apperrors.ErrTokenInvalid)
	}

	if claims.TokenType != "access" {
		return nil, apperrors.New(apperrors.ErrTokenInvalid, "不是访问令牌")
	}

	return claims, nil
}

// buildAuthResponse 签发令牌并组装响应
func (s *authService) buildAuthResponse(user *models.User) (*AuthResponse, error) {
	accessToken, err := s.jwtManager.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrUnknown).WithDetails("生成访问令牌失败")
	}

	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrUnknown).WithDetails("生成刷新令牌失败")
	}

	return &AuthResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtManager.GetTokenExpiry("access").Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// validateRegisterRequest 验证注册请求
func (s *authService) validateRegisterRequest(req *RegisterRequest) error {
	if len(req.Username) < 3 || len(req.Username) > 20 {
		return apperrors.New(apperrors.ErrInvalidParam, "用户名长度必须在3-20个字符之间")
	}
	if !usernamePattern.MatchString(req.Username) {
		return apperrors.New(apperrors.ErrInvalidParam, "用户名只能包含字母、数字和下划线")
	}
	if len(req.Password) < 6 {
		return apperrors.New(apperrors.ErrInvalidParam, "密码长度至少6个字符")
	}
	if req.Password != req.ConfirmPassword {
		return apperrors.New(apperrors.ErrInvalidParam, "两次输入的密码不一致")
	}
	return nil
}
