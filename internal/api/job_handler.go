package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"hireline/internal/api/middleware"
	"hireline/internal/database"
	"hireline/internal/jobs"
)

// JobHandler 负责职位发布与投递生命周期相关的 API 请求。
// 状态迁移全部委托给 jobs.Service，这里只做参数与身份解析。
type JobHandler struct {
	db      *gorm.DB
	service *jobs.Service
	logger  *slog.Logger
}

// NewJobHandler 构造 JobHandler。
func NewJobHandler(db *gorm.DB, service *jobs.Service, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		db:      db,
		service: service,
		logger:  logger,
	}
}

var errInvalidJobID = errors.New("invalid job id")

type createJobRequest struct {
	Title       string `json:"title" binding:"required,max=255"`
	Description string `json:"description"`
}

type jobResponse struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CompanyName string    `json:"company_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateJob 企业发布新职位。
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	identity, ok := identityFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	if identity.Role != database.RoleEmployer {
		Forbidden(c, "only employers can create jobs")
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c)

	var employer database.User
	if err := h.db.WithContext(ctx).First(&employer, identity.ID).Error; err != nil {
		logger.Error("load employer failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	job := database.Job{
		Title:       req.Title,
		Description: req.Description,
		CompanyName: employer.CompanyName,
		EmployerID:  employer.ID,
	}
	if err := h.db.WithContext(ctx).Create(&job).Error; err != nil {
		logger.Error("create job failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("job created",
		slog.Uint64("job_id", uint64(job.ID)),
		slog.Uint64("employer_id", uint64(employer.ID)),
	)
	c.JSON(http.StatusCreated, toJobResponse(job))
}

// ListJobs 返回全部职位，供候选人浏览。
func (h *JobHandler) ListJobs(c *gin.Context) {
	var all []database.Job
	if err := h.db.WithContext(c.Request.Context()).
		Order("created_at DESC").
		Find(&all).Error; err != nil {
		middleware.LoggerFromContext(c).Error("list jobs failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	items := make([]jobResponse, 0, len(all))
	for _, job := range all {
		items = append(items, toJobResponse(job))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": items})
}

// Apply 候选人投递当前职位。
func (h *JobHandler) Apply(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	jobID, err := jobIDFromParam(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	if err := h.service.Apply(c.Request.Context(), identity, jobID); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "application submitted successfully"})
}

type candidateActionRequest struct {
	CandidateID uint `json:"candidate_id" binding:"required"`
}

// Shortlist 企业将候选人加入面试名单。
func (h *JobHandler) Shortlist(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	jobID, err := jobIDFromParam(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	var req candidateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	result, err := h.service.Shortlist(c.Request.Context(), identity, jobID, req.CandidateID)
	if err != nil {
		RespondError(c, err)
		return
	}

	if result.AlreadyShortlisted {
		c.JSON(http.StatusOK, gin.H{"message": "candidate is already shortlisted for this job"})
		return
	}

	message := "candidate added directly to shortlist"
	if result.MovedFromApplied {
		message = "candidate moved from applied to shortlisted"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":           message,
		"notification_sent": result.NotificationSent,
	})
}

// Reject 企业拒绝已投递的候选人。
func (h *JobHandler) Reject(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	jobID, err := jobIDFromParam(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	var req candidateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	result, err := h.service.Reject(c.Request.Context(), identity, jobID, req.CandidateID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":           "candidate rejected and removed from applied list",
		"notification_sent": result.NotificationSent,
	})
}

type applicantItem struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// ListApplicants 返回某职位指定状态的候选人列表（企业视角）。
func (h *JobHandler) ListApplicants(c *gin.Context) {
	h.listByStatus(c, database.ApplicationApplied, "applicants")
}

// ListShortlisted 返回某职位已入围的候选人列表（企业视角）。
func (h *JobHandler) ListShortlisted(c *gin.Context) {
	h.listByStatus(c, database.ApplicationShortlisted, "shortlisted")
}

func (h *JobHandler) listByStatus(c *gin.Context, status, field string) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	if identity.Role != database.RoleEmployer {
		Forbidden(c, "only employers can view applicants")
		return
	}

	jobID, err := jobIDFromParam(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c)

	var job database.Job
	if err := h.db.WithContext(ctx).
		Where("id = ? AND employer_id = ?", jobID, identity.ID).
		First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found or not owned")
			return
		}
		logger.Error("load job failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	var applications []database.JobApplication
	if err := h.db.WithContext(ctx).
		Preload("Candidate").
		Where("job_id = ? AND status = ?", jobID, status).
		Order("created_at ASC").
		Find(&applications).Error; err != nil {
		logger.Error("list applications failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	items := make([]applicantItem, 0, len(applications))
	for _, app := range applications {
		items = append(items, applicantItem{
			ID:       app.CandidateID,
			Username: app.Candidate.Username,
		})
	}
	c.JSON(http.StatusOK, gin.H{field: items})
}

func jobIDFromParam(c *gin.Context) (uint, error) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, errInvalidJobID
	}
	return uint(id), nil
}

func toJobResponse(job database.Job) jobResponse {
	return jobResponse{
		ID:          job.ID,
		Title:       job.Title,
		Description: job.Description,
		CompanyName: job.CompanyName,
		CreatedAt:   job.CreatedAt,
	}
}
