package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeResumeScore = "resume:score"
)

// ResumeScorePayload 描述简历评分任务所需的最小信息。
type ResumeScorePayload struct {
	ResumeID      uint   `json:"resume_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewResumeScoreTask 构造一个新的简历评分任务。
func NewResumeScoreTask(id uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ResumeScorePayload{
		ResumeID:      id,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeResumeScore, payload), nil
}
