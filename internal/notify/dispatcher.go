package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"hireline/internal/metrics"
)

// 每个接收者的“查在线状态 + 推送或落库”必须是原子序列，否则会与
// 连接注册后的 flush 竞争，导致通知丢失或重复投递。用按接收者 ID
// 分片的锁表串行化，避免全局锁拖垮吞吐。
const lockShards = 64

// Dispatcher 是投递决策的协调点：事件到来时要么实时推送给接收者的
// 全部活动连接，要么落库等待下次连接时 flush 重放。
type Dispatcher struct {
	presence *Presence
	store    Store
	logger   *slog.Logger
	locks    [lockShards]sync.Mutex
}

// NewDispatcher 构造 Dispatcher。
func NewDispatcher(presence *Presence, store Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		presence: presence,
		store:    store,
		logger:   logger,
	}
}

func (d *Dispatcher) lockFor(recipientID uint) *sync.Mutex {
	return &d.locks[recipientID%lockShards]
}

// Dispatch 决定事件的去向。返回值表示是否已实时送达，仅供调用方观测，
// 不代表客户端确认。持久化失败才返回错误；推送失败会降级为落库。
//
// 实时推送前先清空该接收者的积压：新事件不得先于更早落库的事件到达，
// 积压清不掉（传输故障或存储出错）时新事件也落库排队，保持创建顺序。
func (d *Dispatcher) Dispatch(ctx context.Context, recipientID uint, eventType string, payload []byte) (bool, error) {
	mu := d.lockFor(recipientID)
	mu.Lock()
	defer mu.Unlock()

	conns := d.presence.ConnectionsOf(recipientID)
	if len(conns) > 0 {
		drained := true
		if _, remaining, err := d.flushLocked(ctx, recipientID, conns); err != nil {
			d.logger.Warn("backlog flush before live push failed",
				slog.Uint64("recipient_id", uint64(recipientID)),
				slog.Any("error", err),
			)
			drained = false
		} else if remaining {
			drained = false
		}

		if drained {
			event := Event{EventType: eventType, Payload: payload}
			pushed := 0
			for _, conn := range conns {
				if err := conn.Push(event); err != nil {
					d.logger.Warn("live push failed",
						slog.Uint64("recipient_id", uint64(recipientID)),
						slog.String("event_type", eventType),
						slog.Any("error", err),
					)
					continue
				}
				pushed++
			}
			if pushed > 0 {
				metrics.NotificationPushed("live")
				return true, nil
			}
			// 全部连接推送失败：降级为落库，等待下一次成功连接的 flush。
			d.logger.Warn("delivery degraded, persisting for later flush",
				slog.Uint64("recipient_id", uint64(recipientID)),
				slog.String("event_type", eventType),
			)
		}
	}

	if _, err := d.store.Create(ctx, recipientID, eventType, payload); err != nil {
		return false, fmt.Errorf("persist notification: %w", err)
	}
	metrics.NotificationQueued()
	return false, nil
}

// Flush 按创建顺序重放接收者的未投递积压，推送给当前全部活动连接，
// 全部推送完成后批量标记已投递。推送失败即停止本轮，剩余行保持
// 未投递状态留待下次连接。返回成功重放的条数。
func (d *Dispatcher) Flush(ctx context.Context, recipientID uint) (int, error) {
	mu := d.lockFor(recipientID)
	mu.Lock()
	defer mu.Unlock()

	conns := d.presence.ConnectionsOf(recipientID)
	if len(conns) == 0 {
		return 0, nil
	}

	flushed, _, err := d.flushLocked(ctx, recipientID, conns)
	return flushed, err
}

// flushLocked 是 Flush 与 Dispatch 共用的重放逻辑，调用方必须已持有
// 该接收者的分片锁。返回成功重放的条数以及是否仍有未清空的积压。
func (d *Dispatcher) flushLocked(ctx context.Context, recipientID uint, conns []Conn) (int, bool, error) {
	pending, err := d.store.ListUndelivered(ctx, recipientID)
	if err != nil {
		return 0, true, fmt.Errorf("list undelivered: %w", err)
	}
	if len(pending) == 0 {
		return 0, false, nil
	}

	sent := make([]uint, 0, len(pending))
	for _, n := range pending {
		event := Event{EventType: n.EventType, Payload: []byte(n.Payload)}
		pushed := 0
		for _, conn := range conns {
			if err := conn.Push(event); err != nil {
				d.logger.Warn("flush push failed",
					slog.Uint64("recipient_id", uint64(recipientID)),
					slog.Uint64("notification_id", uint64(n.ID)),
					slog.Any("error", err),
				)
				continue
			}
			pushed++
		}
		if pushed == 0 {
			// 该条未能写入任何连接：中断本轮，保持创建顺序不被打乱。
			break
		}
		sent = append(sent, n.ID)
	}

	remaining := len(sent) < len(pending)
	if len(sent) == 0 {
		return 0, remaining, nil
	}

	if err := d.store.MarkDelivered(ctx, sent); err != nil {
		return len(sent), true, fmt.Errorf("mark delivered: %w", err)
	}
	metrics.NotificationFlushed(len(sent))

	d.logger.Info("flushed pending notifications",
		slog.Uint64("recipient_id", uint64(recipientID)),
		slog.Int("count", len(sent)),
	)
	return len(sent), remaining, nil
}
