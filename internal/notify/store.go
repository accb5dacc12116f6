package notify

import (
	"context"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"hireline/internal/database"
)

// Store 是通知的持久化接口：离线期间产生的事件先落库，
// 接收者重新连接时按创建顺序重放。行由本子系统创建与标记，
// 但从不删除（清理属于外部运维关注点）。
type Store interface {
	Create(ctx context.Context, recipientID uint, eventType string, payload []byte) (*database.Notification, error)
	ListUndelivered(ctx context.Context, recipientID uint) ([]database.Notification, error)
	MarkDelivered(ctx context.Context, ids []uint) error
}

// GormStore 基于 GORM 的 Store 实现。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 构造通知存储。
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Create 写入一条未投递通知。
func (s *GormStore) Create(ctx context.Context, recipientID uint, eventType string, payload []byte) (*database.Notification, error) {
	notification := database.Notification{
		RecipientID: recipientID,
		EventType:   eventType,
		Payload:     datatypes.JSON(payload),
		Delivered:   false,
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return &notification, nil
}

// ListUndelivered 返回接收者的全部未投递通知，按创建时间升序（ID 兜底同序）。
func (s *GormStore) ListUndelivered(ctx context.Context, recipientID uint) ([]database.Notification, error) {
	var pending []database.Notification
	err := s.db.WithContext(ctx).
		Where("recipient_id = ? AND delivered = ?", recipientID, false).
		Order("created_at ASC, id ASC").
		Find(&pending).Error
	if err != nil {
		return nil, fmt.Errorf("list undelivered notifications: %w", err)
	}
	return pending, nil
}

// MarkDelivered 将指定通知批量置为已投递。
// 仅更新 delivered=false 的行，flush 中途新落库的通知留给下一轮。
func (s *GormStore) MarkDelivered(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&database.Notification{}).
		Where("id IN ? AND delivered = ?", ids, false).
		Update("delivered", true).Error
	if err != nil {
		return fmt.Errorf("mark notifications delivered: %w", err)
	}
	return nil
}
