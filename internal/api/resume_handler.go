package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"hireline/internal/api/middleware"
	"hireline/internal/database"
	"hireline/internal/tasks"
)

// ResumeHandler 负责简历提交与评分结果查询。
// 评分在独立的后台任务中完成，与通知投递互不耦合。
type ResumeHandler struct {
	db          *gorm.DB
	asynqClient *asynq.Client
	logger      *slog.Logger
}

// NewResumeHandler 构造 ResumeHandler。
func NewResumeHandler(db *gorm.DB, asynqClient *asynq.Client, logger *slog.Logger) *ResumeHandler {
	return &ResumeHandler{
		db:          db,
		asynqClient: asynqClient,
		logger:      logger,
	}
}

type submitResumeRequest struct {
	Text string `json:"text" binding:"required"`
}

type resumeResponse struct {
	ID        uint      `json:"id"`
	Score     int       `json:"score"`
	Summary   string    `json:"summary,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SubmitResume 保存简历文本并入队评分任务。
func (h *ResumeHandler) SubmitResume(c *gin.Context) {
	var req submitResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	identity, ok := identityFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	if identity.Role != database.RoleCandidate {
		Forbidden(c, "only candidates can submit resumes")
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c)

	resume := database.Resume{
		UserID: identity.ID,
		Text:   req.Text,
		Status: database.ResumePending,
	}
	if err := h.db.WithContext(ctx).Create(&resume).Error; err != nil {
		logger.Error("create resume failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	task, err := tasks.NewResumeScoreTask(resume.ID, middleware.GetCorrelationID(c))
	if err != nil {
		logger.Error("build resume score task failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if _, err := h.asynqClient.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		logger.Error("enqueue resume score task failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("resume submitted",
		slog.Uint64("resume_id", uint64(resume.ID)),
		slog.Uint64("user_id", uint64(identity.ID)),
	)
	c.JSON(http.StatusAccepted, toResumeResponse(resume))
}

// GetLatestResume 返回当前用户最近提交的简历及评分结果。
func (h *ResumeHandler) GetLatestResume(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var resume database.Resume
	err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", identity.ID).
		Order("created_at DESC").
		First(&resume).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "no resume submitted")
			return
		}
		middleware.LoggerFromContext(c).Error("load resume failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.JSON(http.StatusOK, toResumeResponse(resume))
}

func toResumeResponse(resume database.Resume) resumeResponse {
	return resumeResponse{
		ID:        resume.ID,
		Score:     resume.Score,
		Summary:   resume.Summary,
		Status:    resume.Status,
		CreatedAt: resume.CreatedAt,
	}
}
