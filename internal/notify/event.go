package notify

import "encoding/json"

// EventJobStatusUpdated 是职位状态变更的推送事件类型。
const EventJobStatusUpdated = "job_status_updated"

// Event 表示推送给单个连接的消息单元。
type Event struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// JobStatusPayload 是职位状态变更的通知载荷。
// 注意：这里的字段名与前端解析保持一致。
type JobStatusPayload struct {
	Type        string `json:"type"`
	JobID       uint   `json:"jobId"`
	JobTitle    string `json:"jobTitle"`
	CompanyName string `json:"companyName"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	Status      string `json:"status"`
}

// Conn 表示绑定到某个接收者的一条活动连接。
// Push 将事件写入底层传输；实现必须支持并发调用。
type Conn interface {
	Push(event Event) error
}
