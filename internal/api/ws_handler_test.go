package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hireline/internal/auth"
	"hireline/internal/database"
	"hireline/internal/notify"
)

func newTestAuthService(t *testing.T) *auth.AuthService {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicDER,
	})

	service, err := auth.NewAuthService(privatePEM, publicPEM, time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return service
}

type gatewayEnv struct {
	server      *httptest.Server
	presence    *notify.Presence
	dispatcher  *notify.Dispatcher
	authService *auth.AuthService
}

func newGatewayEnv(t *testing.T) *gatewayEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.Notification{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	presence := notify.NewPresence()
	dispatcher := notify.NewDispatcher(presence, notify.NewGormStore(db), nil)
	authService := newTestAuthService(t)

	handler := NewWsHandler(presence, dispatcher, authService, testLogger(), nil)
	router := gin.New()
	router.GET("/v1/ws", handler.HandleConnection)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &gatewayEnv{
		server:      server,
		presence:    presence,
		dispatcher:  dispatcher,
		authService: authService,
	}
}

func (e *gatewayEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(e.server.URL, "http://", "ws://", 1) + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *gatewayEnv) accessToken(t *testing.T, userID uint, role string) string {
	t.Helper()
	pair, err := e.authService.GenerateTokenPair(userID, role)
	if err != nil {
		t.Fatalf("generate token pair: %v", err)
	}
	return pair.AccessToken
}

func TestWsHandler_RejectsInvalidCredential(t *testing.T) {
	env := newGatewayEnv(t)
	conn := env.dial(t)

	if err := conn.WriteJSON(map[string]string{"type": "auth", "token": "garbage"}); err != nil {
		t.Fatalf("write auth message: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected connection to be closed")
	}
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	// 鉴权失败的连接不允许进入在线注册表。
	if env.presence.IsOnline(42) {
		t.Fatal("unauthenticated connection must not be registered")
	}
}

func TestWsHandler_RejectsMissingCredential(t *testing.T) {
	env := newGatewayEnv(t)
	conn := env.dial(t)

	if err := conn.WriteJSON(map[string]string{"type": "hello"}); err != nil {
		t.Fatalf("write message: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

// 客户端断开后连接必须离开在线注册表，后续事件走落库路径。
func TestWsHandler_DeregistersOnClientClose(t *testing.T) {
	env := newGatewayEnv(t)

	const userID = 42

	conn := env.dial(t)
	token := env.accessToken(t, userID, database.RoleCandidate)
	if err := conn.WriteJSON(map[string]string{"type": "auth", "token": token}); err != nil {
		t.Fatalf("write auth message: %v", err)
	}

	waitUntil(t, 3*time.Second, func() bool {
		return env.presence.IsOnline(userID)
	}, "expected user online after auth")

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	conn.Close()

	waitUntil(t, 3*time.Second, func() bool {
		return !env.presence.IsOnline(userID)
	}, "expected connection to leave the registry after client close")
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWsHandler_FlushesBacklogOnConnectThenPushesLive(t *testing.T) {
	env := newGatewayEnv(t)
	ctx := context.Background()

	const userID = 42

	// 用户离线期间产生一条通知。
	delivered, err := env.dispatcher.Dispatch(ctx, userID, notify.EventJobStatusUpdated, []byte(`{"status":"shortlisted"}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if delivered {
		t.Fatal("expected offline dispatch to queue")
	}

	conn := env.dial(t)
	token := env.accessToken(t, userID, database.RoleCandidate)
	if err := conn.WriteJSON(map[string]string{"type": "auth", "token": token}); err != nil {
		t.Fatalf("write auth message: %v", err)
	}

	// 连接完成后应立即收到积压重放。
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var event notify.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read flushed event: %v", err)
	}
	if event.EventType != notify.EventJobStatusUpdated {
		t.Fatalf("unexpected event type %q", event.EventType)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Status != "shortlisted" {
		t.Fatalf("expected shortlisted, got %q", payload.Status)
	}

	if !env.presence.IsOnline(userID) {
		t.Fatal("expected user to be registered after auth")
	}

	// 在线状态下的新事件实时推送。
	delivered, err = env.dispatcher.Dispatch(ctx, userID, notify.EventJobStatusUpdated, []byte(`{"status":"rejected"}`))
	if err != nil {
		t.Fatalf("live dispatch: %v", err)
	}
	if !delivered {
		t.Fatal("expected live delivery for connected user")
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read live event: %v", err)
	}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("unmarshal live payload: %v", err)
	}
	if payload.Status != "rejected" {
		t.Fatalf("expected rejected, got %q", payload.Status)
	}
}
