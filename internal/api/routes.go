package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"hireline/internal/api/middleware"
	"hireline/internal/auth"
	"hireline/internal/config"
	"hireline/internal/jobs"
	"hireline/internal/notify"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient *redis.Client,
	presence *notify.Presence,
	dispatcher *notify.Dispatcher,
	logger *slog.Logger,
) {
	jobService := jobs.NewService(db, dispatcher, logger)

	authHandler := NewAuthHandler(
		db, authService, redisClient, logger,
		cfg.Auth.LoginRateLimitPerHour,
		cfg.Auth.LoginLockThreshold,
		cfg.Auth.LoginLockTTL,
		cfg.API.CookieDomain,
	)
	jobHandler := NewJobHandler(db, jobService, logger)
	resumeHandler := NewResumeHandler(db, asynqClient, logger)
	wsHandler := NewWsHandler(presence, dispatcher, authService, logger, cfg.API.AllowedOrigins)
	authMiddleware := middleware.AuthMiddleware(authService)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
		}

		jobGroup := v1.Group("/jobs")
		jobGroup.Use(authMiddleware)
		{
			jobGroup.GET("", jobHandler.ListJobs)
			jobGroup.POST("", jobHandler.CreateJob)
			jobGroup.POST("/:id/apply", jobHandler.Apply)
			jobGroup.POST("/:id/shortlist", jobHandler.Shortlist)
			jobGroup.POST("/:id/reject", jobHandler.Reject)
			jobGroup.GET("/:id/applicants", jobHandler.ListApplicants)
			jobGroup.GET("/:id/shortlisted", jobHandler.ListShortlisted)
		}

		resumeGroup := v1.Group("/resume")
		resumeGroup.Use(authMiddleware)
		{
			resumeGroup.POST("", resumeHandler.SubmitResume)
			resumeGroup.GET("/latest", resumeHandler.GetLatestResume)
		}
	}
}
