package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hireline/internal/database"
)

type fakeConn struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (c *fakeConn) Push(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("transport closed")
	}
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) received() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.Notification{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *Presence, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	presence := NewPresence()
	dispatcher := NewDispatcher(presence, NewGormStore(db), nil)
	return dispatcher, presence, db
}

func countNotifications(t *testing.T, db *gorm.DB, recipientID uint, delivered bool) int64 {
	t.Helper()
	var count int64
	err := db.Model(&database.Notification{}).
		Where("recipient_id = ? AND delivered = ?", recipientID, delivered).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	return count
}

func TestDispatch_OfflineCreatesExactlyOnePendingRow(t *testing.T) {
	dispatcher, _, db := newTestDispatcher(t)
	ctx := context.Background()

	delivered, err := dispatcher.Dispatch(ctx, 7, EventJobStatusUpdated, []byte(`{"status":"shortlisted"}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if delivered {
		t.Fatal("expected delivered=false for offline recipient")
	}
	if got := countNotifications(t, db, 7, false); got != 1 {
		t.Fatalf("expected 1 undelivered row, got %d", got)
	}
}

func TestDispatch_OnlineFansOutToAllConnections(t *testing.T) {
	dispatcher, presence, db := newTestDispatcher(t)
	ctx := context.Background()

	conn1 := &fakeConn{}
	conn2 := &fakeConn{}
	presence.Register(7, conn1)
	presence.Register(7, conn2)

	delivered, err := dispatcher.Dispatch(ctx, 7, EventJobStatusUpdated, []byte(`{"status":"shortlisted"}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !delivered {
		t.Fatal("expected delivered=true for online recipient")
	}
	if got := len(conn1.received()); got != 1 {
		t.Fatalf("conn1 expected 1 event, got %d", got)
	}
	if got := len(conn2.received()); got != 1 {
		t.Fatalf("conn2 expected 1 event, got %d", got)
	}
	if got := countNotifications(t, db, 7, false) + countNotifications(t, db, 7, true); got != 0 {
		t.Fatalf("expected no notification rows, got %d", got)
	}
}

func TestDispatch_AllPushesFailedDegradesToStore(t *testing.T) {
	dispatcher, presence, db := newTestDispatcher(t)
	ctx := context.Background()

	presence.Register(7, &fakeConn{fail: true})

	delivered, err := dispatcher.Dispatch(ctx, 7, EventJobStatusUpdated, []byte(`{"status":"rejected"}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if delivered {
		t.Fatal("expected delivered=false when every push fails")
	}
	if got := countNotifications(t, db, 7, false); got != 1 {
		t.Fatalf("expected degraded event persisted, got %d rows", got)
	}
}

func TestFlush_DeliversBacklogInCreationOrderExactlyOnce(t *testing.T) {
	dispatcher, presence, db := newTestDispatcher(t)
	ctx := context.Background()

	for _, seq := range []string{"a", "b", "c"} {
		payload := []byte(fmt.Sprintf(`{"seq":%q}`, seq))
		if _, err := dispatcher.Dispatch(ctx, 7, EventJobStatusUpdated, payload); err != nil {
			t.Fatalf("dispatch %s: %v", seq, err)
		}
	}

	conn := &fakeConn{}
	presence.Register(7, conn)

	flushed, err := dispatcher.Flush(ctx, 7)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if flushed != 3 {
		t.Fatalf("expected 3 flushed, got %d", flushed)
	}

	events := conn.received()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, want := range []string{"a", "b", "c"} {
		var payload struct {
			Seq string `json:"seq"`
		}
		if err := json.Unmarshal(events[i].Payload, &payload); err != nil {
			t.Fatalf("unmarshal event %d: %v", i, err)
		}
		if payload.Seq != want {
			t.Fatalf("event %d: expected seq %q, got %q", i, want, payload.Seq)
		}
	}

	if got := countNotifications(t, db, 7, false); got != 0 {
		t.Fatalf("expected 0 undelivered rows after flush, got %d", got)
	}
	if got := countNotifications(t, db, 7, true); got != 3 {
		t.Fatalf("expected 3 delivered rows after flush, got %d", got)
	}

	// 第二次 flush 不应产生任何推送。
	flushed, err = dispatcher.Flush(ctx, 7)
	if err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if flushed != 0 {
		t.Fatalf("expected second flush to push nothing, got %d", flushed)
	}
	if got := len(conn.received()); got != 3 {
		t.Fatalf("expected no additional events, got %d total", got)
	}
}

func TestFlush_TransportFailureLeavesBacklogUndelivered(t *testing.T) {
	dispatcher, presence, db := newTestDispatcher(t)
	ctx := context.Background()

	if _, err := dispatcher.Dispatch(ctx, 7, EventJobStatusUpdated, []byte(`{}`)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	presence.Register(7, &fakeConn{fail: true})

	flushed, err := dispatcher.Flush(ctx, 7)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if flushed != 0 {
		t.Fatalf("expected 0 flushed on transport failure, got %d", flushed)
	}
	if got := countNotifications(t, db, 7, false); got != 1 {
		t.Fatalf("expected row to stay undelivered, got %d undelivered", got)
	}
}

func TestFlush_NoConnectionsIsNoop(t *testing.T) {
	dispatcher, _, db := newTestDispatcher(t)
	ctx := context.Background()

	if _, err := dispatcher.Dispatch(ctx, 7, EventJobStatusUpdated, []byte(`{}`)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	flushed, err := dispatcher.Flush(ctx, 7)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if flushed != 0 {
		t.Fatalf("expected 0 flushed with no connections, got %d", flushed)
	}
	if got := countNotifications(t, db, 7, false); got != 1 {
		t.Fatalf("expected backlog untouched, got %d undelivered", got)
	}
}

// 连接注册与事件派发并发进行时，每个事件必须恰好送达一次：
// 要么实时推送，要么落库后由 flush 重放，不得丢失或重复。
func TestDispatch_ConcurrentWithConnectDeliversEachEventOnce(t *testing.T) {
	dispatcher, presence, _ := newTestDispatcher(t)
	ctx := context.Background()

	const total = 100

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			payload := []byte(fmt.Sprintf(`{"seq":%d}`, i))
			if _, err := dispatcher.Dispatch(ctx, 7, EventJobStatusUpdated, payload); err != nil {
				t.Errorf("dispatch %d: %v", i, err)
				return
			}
		}
	}()

	conn := &fakeConn{}
	presence.Register(7, conn)
	if _, err := dispatcher.Flush(ctx, 7); err != nil {
		t.Fatalf("flush during dispatch: %v", err)
	}

	<-done

	// 派发全部结束后再清一次积压。
	if _, err := dispatcher.Flush(ctx, 7); err != nil {
		t.Fatalf("final flush: %v", err)
	}

	events := conn.received()
	if len(events) != total {
		t.Fatalf("expected %d events, got %d", total, len(events))
	}
	// 送达顺序必须与创建顺序一致：实时路径与重放路径都不得乱序。
	for i, event := range events {
		var payload struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if payload.Seq != i {
			t.Fatalf("event %d out of order: got seq %d", i, payload.Seq)
		}
	}
}
