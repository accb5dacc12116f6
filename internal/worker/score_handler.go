package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"hireline/internal/database"
	"hireline/internal/tasks"
)

// Scorer 是外部简历评分协作方（LLM 服务）的抽象。
// 真实实现位于进程外，这里只定义调用边界。
type Scorer interface {
	ScoreResume(ctx context.Context, text string) (score int, summary string, err error)
}

// ResumeScoreHandler 处理简历评分任务。这是与通知投递完全解耦的
// 第二条异步边界：任务有自己的重试预算，失败不影响任何通知语义。
type ResumeScoreHandler struct {
	db     *gorm.DB
	scorer Scorer
	logger *slog.Logger
}

// NewResumeScoreHandler 构造评分任务处理器。
func NewResumeScoreHandler(db *gorm.DB, scorer Scorer, logger *slog.Logger) *ResumeScoreHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResumeScoreHandler{
		db:     db,
		scorer: scorer,
		logger: logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *ResumeScoreHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload tasks.ResumeScorePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// 载荷不可解析时重试无意义。
		return fmt.Errorf("unmarshal resume score payload: %v: %w", err, asynq.SkipRetry)
	}

	logger := h.logger.With(
		slog.Uint64("resume_id", uint64(payload.ResumeID)),
		slog.String("correlation_id", payload.CorrelationID),
	)

	var resume database.Resume
	if err := h.db.WithContext(ctx).First(&resume, payload.ResumeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("resume no longer exists, dropping task")
			return nil
		}
		return fmt.Errorf("load resume: %w", err)
	}

	score, summary, err := h.scorer.ScoreResume(ctx, resume.Text)
	if err != nil {
		logger.Error("score resume failed", slog.Any("error", err))
		if updateErr := h.db.WithContext(ctx).Model(&resume).
			Update("status", database.ResumeFailed).Error; updateErr != nil {
			logger.Error("mark resume failed", slog.Any("error", updateErr))
		}
		return fmt.Errorf("score resume: %w", err)
	}

	if err := h.db.WithContext(ctx).Model(&resume).Updates(map[string]any{
		"score":   score,
		"summary": summary,
		"status":  database.ResumeScored,
	}).Error; err != nil {
		return fmt.Errorf("save resume score: %w", err)
	}

	logger.Info("resume scored", slog.Int("score", score))
	return nil
}
