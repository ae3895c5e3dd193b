package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/trpg-server/internal/config"
	"github.com/wfunc/trpg-server/internal/game"
	"github.com/wfunc/trpg-server/internal/middleware"
	"github.com/wfunc/trpg-server/internal/repository"
	"github.com/wfunc/trpg-server/internal/service"
	"github.com/wfunc/trpg-server/internal/utils"
	ws "github.com/wfunc/trpg-server/internal/websocket"
)

// Router API路由器
type Router struct {
	engine           *gin.Engine
	db               *gorm.DB
	authHandler      *AuthHandler
	characterHandler *CharacterHandler
	sessionHandler   *SessionHandler
	wsHandler        *WebSocketHandler
	authMiddleware   *middleware.AuthMiddleware
	log              *zap.Logger
}

// RouterOptions 路由器依赖
type RouterOptions struct {
	DB       *gorm.DB
	Config   *config.Config
	Hub      *ws.Hub
	Registry *game.Registry
	Logger   *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(opts *RouterOptions) *Router {
	switch opts.Config.Server.Mode {
	case "production", gin.ReleaseMode:
		gin.SetMode(gin.ReleaseMode)
	case gin.TestMode:
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	// 仓储与服务
	userRepo := repository.NewUserRepository(opts.DB)
	characterRepo := repository.NewCharacterRepository(opts.DB)
	sessionRepo := repository.NewGameSessionRepository(opts.DB)
	participantRepo := repository.NewParticipantRepository(opts.DB)
	storyRepo := repository.NewStoryLogRepository(opts.DB)

	jwtManager := utils.NewJWTManager(
		opts.Config.Security.JWT.Secret,
		opts.Config.Security.JWT.AccessExpiry(),
		opts.Config.Security.JWT.RefreshExpiry(),
	)
	authService := service.NewAuthService(userRepo, jwtManager, opts.Logger)
	authMiddleware := middleware.NewAuthMiddleware(authService)

	router := &Router{
		engine:           engine,
		db:               opts.DB,
		authHandler:      NewAuthHandler(authService, userRepo),
		characterHandler: NewCharacterHandler(characterRepo, opts.Logger),
		sessionHandler:   NewSessionHandler(sessionRepo, participantRepo, storyRepo, opts.Registry, opts.Logger),
		wsHandler:        NewWebSocketHandler(opts.Hub, &opts.Config.WebSocket, opts.Logger),
		authMiddleware:   authMiddleware,
		log:              opts.Logger,
	}

	router.setupRoutes(opts.Config)
	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes(cfg *config.Config) {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 认证相关路由（不需要认证）
		auth := v1.Group("/auth")
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
			auth.POST("/refresh", r.authHandler.RefreshToken)

			authRequired := auth.Group("")
			authRequired.Use(r.authMiddleware.RequireAuth())
			{
				authRequired.GET("/profile", r.authHandler.GetProfile)
			}
		}

		// 角色卡路由（需要认证）
		characters := v1.Group("/characters")
		characters.Use(r.authMiddleware.RequireAuth())
		{
			characters.POST("", r.characterHandler.Create)
			characters.GET("", r.characterHandler.List)
			characters.GET("/:id", r.characterHandler.Get)
			characters.PUT("/:id", r.characterHandler.Update)
			characters.DELETE("/:id", r.characterHandler.Delete)
		}

		// 游戏会话路由（需要认证）
		sessions := v1.Group("/sessions")
		sessions.Use(r.authMiddleware.RequireAuth())
		{
			sessions.POST("", r.sessionHandler.Create)
			sessions.GET("", r.sessionHandler.List)
			sessions.GET("/mine", r.sessionHandler.Mine)
			sessions.GET("/:id", r.sessionHandler.Get)
			sessions.GET("/:id/story", r.sessionHandler.StoryLogs)
			sessions.POST("/:id/restart", r.sessionHandler.Restart)
			sessions.POST("/:id/end", r.sessionHandler.End)
		}

		// 在线状态
		v1.GET("/online", r.wsHandler.OnlineCount)
	}

	// WebSocket路由（令牌经query参数传入）
	wsPath := cfg.WebSocket.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.engine.GET(wsPath, r.authMiddleware.RequireAuth(), r.wsHandler.Serve)

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	sqlDB, err := r.db.DB()
	if err != nil {
		c.JSON(500, gin.H{"status": "unhealthy", "message": "数据库连接失败"})
		return
	}

	if err := sqlDB.Ping(); err != nil {
		c.JSON(500, gin.H{"status": "unhealthy", "message": "数据库ping失败"})
		return
	}

	c.JSON(200, gin.H{"status": "healthy", "message": "服务运行正常"})
}

// Run 运行服务器
func (r *Router) Run(addr string) error {
	r.log.Info("启动API服务", zap.String("address", addr))
	return r.engine.Run(addr)
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
