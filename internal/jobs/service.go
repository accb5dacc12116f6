package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"hireline/internal/auth"
	"hireline/internal/database"
	"hireline/internal/errcode"
	"hireline/internal/notify"
)

// Service 拥有投递记录的状态机：None → Applied → {Shortlisted, Rejected}，
// 另外允许 None → Shortlisted（企业可直接将未投递的候选人加入面试名单）。
// 状态迁移提交后同步调用 Dispatcher 产生通知事件；投递结果仅供观测，
// 不影响迁移本身的成败。Dispatcher 通过构造函数注入，不使用全局句柄。
type Service struct {
	db         *gorm.DB
	dispatcher *notify.Dispatcher
	logger     *slog.Logger
}

// NewService 构造状态机服务。
func NewService(db *gorm.DB, dispatcher *notify.Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:         db,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// ShortlistResult 描述一次 shortlist 调用的结果。
type ShortlistResult struct {
	// AlreadyShortlisted 为 true 时本次调用是幂等空操作，未产生事件。
	AlreadyShortlisted bool
	// MovedFromApplied 表示候选人由投递列表晋升（否则为直接加入）。
	MovedFromApplied bool
	// NotificationSent 表示通知是否实时送达（false 即已落库待重放）。
	NotificationSent bool
}

// RejectResult 描述一次 reject 调用的结果。
type RejectResult struct {
	NotificationSent bool
}

// Apply 候选人投递职位。仅允许从未投递状态发起；已有任何记录都视为冲突。
func (s *Service) Apply(ctx context.Context, actor auth.Identity, jobID uint) error {
	if actor.Role != database.RoleCandidate {
		return fmt.Errorf("only candidates can apply: %w", errcode.ErrForbidden)
	}

	var job database.Job
	if err := s.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("job %d: %w", jobID, errcode.ErrNotFound)
		}
		return fmt.Errorf("query job: %w", err)
	}

	var existing database.JobApplication
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND candidate_id = ?", jobID, actor.ID).
		First(&existing).Error
	switch {
	case err == nil:
		return fmt.Errorf("already applied to job %d: %w", jobID, errcode.ErrConflict)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return fmt.Errorf("query application: %w", err)
	}

	application := database.JobApplication{
		JobID:       jobID,
		CandidateID: actor.ID,
		Status:      database.ApplicationApplied,
	}
	if err := s.db.WithContext(ctx).Create(&application).Error; err != nil {
		// 唯一索引兜底并发重复投递。
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("already applied to job %d: %w", jobID, errcode.ErrConflict)
		}
		return fmt.Errorf("create application: %w", err)
	}

	s.logger.Info("candidate applied",
		slog.Uint64("job_id", uint64(jobID)),
		slog.Uint64("candidate_id", uint64(actor.ID)),
	)
	return nil
}

// Shortlist 企业将候选人加入面试名单。已在名单中为幂等空操作；
// 从 Applied 状态晋升或从未投递直接加入都会产生一次（且仅一次）通知事件。
func (s *Service) Shortlist(ctx context.Context, actor auth.Identity, jobID, candidateID uint) (*ShortlistResult, error) {
	job, err := s.ownedJob(ctx, actor, jobID)
	if err != nil {
		return nil, err
	}

	var candidate database.User
	if err := s.db.WithContext(ctx).
		Where("id = ? AND role = ?", candidateID, database.RoleCandidate).
		First(&candidate).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("candidate %d: %w", candidateID, errcode.ErrNotFound)
		}
		return nil, fmt.Errorf("query candidate: %w", err)
	}

	result, err := s.shortlistTransition(ctx, jobID, candidateID)
	if err != nil {
		return nil, err
	}
	if result.AlreadyShortlisted {
		return result, nil
	}

	message := fmt.Sprintf(
		"Congratulations! You've been shortlisted for the %s position at %s",
		job.Title, job.CompanyName,
	)
	result.NotificationSent = s.notifyStatusChange(ctx, candidateID, job, database.ApplicationShortlisted, message)

	s.logger.Info("candidate shortlisted",
		slog.Uint64("job_id", uint64(jobID)),
		slog.Uint64("candidate_id", uint64(candidateID)),
		slog.Bool("moved_from_applied", result.MovedFromApplied),
		slog.Bool("notification_sent", result.NotificationSent),
	)
	return result, nil
}

// shortlistTransition 执行面试名单的状态迁移，不负责通知。
func (s *Service) shortlistTransition(ctx context.Context, jobID, candidateID uint) (*ShortlistResult, error) {
	var application database.JobApplication
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND candidate_id = ?", jobID, candidateID).
		First(&application).Error
	switch {
	case err == nil:
		return s.promoteApplication(ctx, application)
	case errors.Is(err, gorm.ErrRecordNotFound):
		// None → Shortlisted：直接加入面试名单。
		application = database.JobApplication{
			JobID:       jobID,
			CandidateID: candidateID,
			Status:      database.ApplicationShortlisted,
		}
		if err := s.db.WithContext(ctx).Create(&application).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// 并发窗口内已有记录落库（候选人刚投递或另一次
				// shortlist）：重读后按实际状态处理，不能直接当作幂等。
				if err := s.db.WithContext(ctx).
					Where("job_id = ? AND candidate_id = ?", jobID, candidateID).
					First(&application).Error; err != nil {
					return nil, fmt.Errorf("reload application: %w", err)
				}
				return s.promoteApplication(ctx, application)
			}
			return nil, fmt.Errorf("create shortlist entry: %w", err)
		}
		return &ShortlistResult{}, nil
	default:
		return nil, fmt.Errorf("query application: %w", err)
	}
}

// promoteApplication 将一条既有投递记录晋升到 Shortlisted。
func (s *Service) promoteApplication(ctx context.Context, application database.JobApplication) (*ShortlistResult, error) {
	switch application.Status {
	case database.ApplicationShortlisted:
		return &ShortlistResult{AlreadyShortlisted: true}, nil
	case database.ApplicationRejected:
		return nil, fmt.Errorf("candidate already rejected: %w", errcode.ErrConflict)
	}

	// Applied → Shortlisted。条件更新保证并发下只有一次迁移产生事件。
	res := s.db.WithContext(ctx).
		Model(&database.JobApplication{}).
		Where("id = ? AND status = ?", application.ID, database.ApplicationApplied).
		Update("status", database.ApplicationShortlisted)
	if res.Error != nil {
		return nil, fmt.Errorf("update application: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// 条件更新落空说明状态已被并发改写，按当前状态重新判定：
		// 并发 reject 赢得竞争时必须报冲突，而不是谎称已在名单中。
		var current database.JobApplication
		if err := s.db.WithContext(ctx).First(&current, application.ID).Error; err != nil {
			return nil, fmt.Errorf("reload application: %w", err)
		}
		if current.Status == database.ApplicationRejected {
			return nil, fmt.Errorf("candidate already rejected: %w", errcode.ErrConflict)
		}
		return &ShortlistResult{AlreadyShortlisted: true}, nil
	}
	return &ShortlistResult{MovedFromApplied: true}, nil
}

// Reject 企业拒绝已投递的候选人。仅允许从 Applied 状态发起。
func (s *Service) Reject(ctx context.Context, actor auth.Identity, jobID, candidateID uint) (*RejectResult, error) {
	job, err := s.ownedJob(ctx, actor, jobID)
	if err != nil {
		return nil, err
	}

	// 条件更新即状态检查：不在 Applied 状态的记录不会被改写。
	res := s.db.WithContext(ctx).
		Model(&database.JobApplication{}).
		Where("job_id = ? AND candidate_id = ? AND status = ?",
			jobID, candidateID, database.ApplicationApplied).
		Update("status", database.ApplicationRejected)
	if res.Error != nil {
		return nil, fmt.Errorf("update application: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("not applied or already rejected: %w", errcode.ErrConflict)
	}

	message := fmt.Sprintf(
		"Your application for %s at %s has been reviewed. We appreciate your interest.",
		job.Title, job.CompanyName,
	)
	sent := s.notifyStatusChange(ctx, candidateID, job, database.ApplicationRejected, message)

	s.logger.Info("candidate rejected",
		slog.Uint64("job_id", uint64(jobID)),
		slog.Uint64("candidate_id", uint64(candidateID)),
		slog.Bool("notification_sent", sent),
	)
	return &RejectResult{NotificationSent: sent}, nil
}

// ownedJob 加载企业自己拥有的职位。职位不存在或非本企业所有都返回 NotFound。
func (s *Service) ownedJob(ctx context.Context, actor auth.Identity, jobID uint) (*database.Job, error) {
	if actor.Role != database.RoleEmployer {
		return nil, fmt.Errorf("only employers can manage applicants: %w", errcode.ErrForbidden)
	}

	var job database.Job
	err := s.db.WithContext(ctx).
		Where("id = ? AND employer_id = ?", jobID, actor.ID).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job not found or not owned: %w", errcode.ErrNotFound)
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return &job, nil
}

// notifyStatusChange 组装载荷并交给 Dispatcher。状态迁移此刻已提交，
// 投递路径上的任何失败都不回传给调用方，只记录日志等待 flush 自愈。
func (s *Service) notifyStatusChange(ctx context.Context, candidateID uint, job *database.Job, status, message string) bool {
	payload := notify.JobStatusPayload{
		Type:        status,
		JobID:       job.ID,
		JobTitle:    job.Title,
		CompanyName: job.CompanyName,
		Message:     message,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Status:      status,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal notification payload failed", slog.Any("error", err))
		return false
	}

	delivered, err := s.dispatcher.Dispatch(ctx, candidateID, notify.EventJobStatusUpdated, raw)
	if err != nil {
		s.logger.Error("dispatch notification failed",
			slog.Uint64("candidate_id", uint64(candidateID)),
			slog.Any("error", err),
		)
		return false
	}
	return delivered
}
