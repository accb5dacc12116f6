package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 用户角色常量。身份一经注册不再变更，作为通知与在线状态的分区键。
const (
	RoleCandidate = "candidate"
	RoleEmployer  = "employer"
)

// User 表示系统中的账号信息（求职者或企业方）。
type User struct {
	gorm.Model
	Username     string `gorm:"uniqueIndex;size:64"`
	PasswordHash string `gorm:"size:255"`
	Role         string `gorm:"size:16;index"`
	CompanyName  string `gorm:"size:255"` // 仅企业账号使用
}

// Job 表示企业发布的职位。
type Job struct {
	gorm.Model
	Title       string `gorm:"size:255"`
	Description string `gorm:"type:text"`
	CompanyName string `gorm:"size:255"`
	EmployerID  uint   `gorm:"index"`
	Employer    User   `gorm:"foreignKey:EmployerID;constraint:OnDelete:CASCADE"`
}

// 投递状态常量。无记录即为未投递。
const (
	ApplicationApplied     = "applied"
	ApplicationShortlisted = "shortlisted"
	ApplicationRejected    = "rejected"
)

// JobApplication 表示某候选人在某职位上的投递记录。
// 一个 (JobID, CandidateID) 至多一行；Rejected 保留记录以区分终态与未投递。
type JobApplication struct {
	gorm.Model
	JobID       uint   `gorm:"uniqueIndex:idx_job_candidate"`
	CandidateID uint   `gorm:"uniqueIndex:idx_job_candidate"`
	Status      string `gorm:"size:32;index"`
	Job         Job    `gorm:"constraint:OnDelete:CASCADE"`
	Candidate   User   `gorm:"foreignKey:CandidateID;constraint:OnDelete:CASCADE"`
}

// Notification 表示一条待投递或已投递的通知。
// Delivered 仅表示“已写入传输层”，并非客户端确认；本子系统不删除通知行。
type Notification struct {
	gorm.Model
	RecipientID uint           `gorm:"index:idx_recipient_delivered"`
	EventType   string         `gorm:"size:64"`
	Payload     datatypes.JSON `gorm:"type:jsonb"`
	Delivered   bool           `gorm:"index:idx_recipient_delivered;default:false"`
}

// 简历评分状态常量。
const (
	ResumePending = "pending"
	ResumeScored  = "scored"
	ResumeFailed  = "failed"
)

// Resume 表示候选人提交的简历文本及后台评分结果。
// 原始 PDF 的存取由外部文件服务负责，这里只保留提取后的文本。
type Resume struct {
	gorm.Model
	UserID  uint   `gorm:"index"`
	User    User   `gorm:"constraint:OnDelete:CASCADE"`
	Text    string `gorm:"type:text"`
	Score   int
	Summary string `gorm:"type:text"`
	Status  string `gorm:"size:32"`
}
