package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"hireline/internal/auth"
	"hireline/internal/errcode"
	"hireline/internal/metrics"
	"hireline/internal/notify"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// WsHandler 是连接网关：处理 WebSocket 鉴权，把连接登记到在线状态
// 注册表，并在登记完成后立即触发积压通知的 flush 重放。
// 鉴权失败的连接不会进入注册表。
type WsHandler struct {
	presence       *notify.Presence
	dispatcher     *notify.Dispatcher
	authService    *auth.AuthService
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造连接网关。
func NewWsHandler(presence *notify.Presence, dispatcher *notify.Dispatcher, authService *auth.AuthService, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	h := &WsHandler{
		presence:       presence,
		dispatcher:     dispatcher,
		authService:    authService,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(h.allowedOrigins) == 0 {
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

type wsAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// wsConn 包装底层 WebSocket 连接，使并发推送串行写入传输层。
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Push 实现 notify.Conn。写入成功仅表示消息已交给传输层。
func (w *wsConn) Push(event notify.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// HandleConnection 升级连接，完成鉴权后登记在线状态并重放积压。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	baseLog := h.logger.With(
		slog.String("client_ip", c.ClientIP()),
	)

	identityCh := make(chan auth.Identity, 1)
	// 读循环与心跳循环各自最多发送一次错误，容量 2 保证发送端永不阻塞。
	errCh := make(chan error, 2)

	go h.readLoop(ctx, conn, identityCh, errCh, cancel, baseLog)

	var identity auth.Identity
	select {
	case <-ctx.Done():
		return
	case err := <-errCh:
		if err != nil {
			baseLog.Warn("websocket authentication failed", slog.Any("error", err))
		}
		return
	case identity = <-identityCh:
	}

	userLog := baseLog.With(
		slog.Uint64("user_id", uint64(identity.ID)),
		slog.String("role", identity.Role),
	)

	wsc := &wsConn{conn: conn}
	h.presence.Register(identity.ID, wsc)
	metrics.WebsocketConnected()
	defer func() {
		h.presence.Deregister(identity.ID, wsc)
		metrics.WebsocketDisconnected()
	}()

	// 登记完成后立即重放积压：与 Dispatch 共用同一把按接收者分片的锁，
	// 消除“查在线状态”与“推送或落库”之间的竞争窗口。
	if flushed, err := h.dispatcher.Flush(ctx, identity.ID); err != nil {
		userLog.Error("flush pending notifications failed", slog.Any("error", err))
	} else if flushed > 0 {
		userLog.Info("delivered pending notifications", slog.Int("count", flushed))
	}

	go h.pingLoop(ctx, wsc, errCh, cancel)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			userLog.Info("websocket connection closed", slog.Any("error", err))
		} else {
			userLog.Info("websocket connection closed")
		}
	}
}

// readLoop 要求首条消息携带凭证，之后保持读取以检测客户端断开。
func (h *WsHandler) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	identityCh chan<- auth.Identity,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	authenticated := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			writeClose(conn, websocket.CloseAbnormalClosure, "read error")
			errCh <- fmt.Errorf("read message: %w", err)
			cancel()
			return
		}

		if !authenticated {
			var authMsg wsAuthMessage
			if err := json.Unmarshal(message, &authMsg); err != nil {
				writeClose(conn, websocket.ClosePolicyViolation, "invalid auth payload")
				errCh <- fmt.Errorf("decode auth payload: %v: %w", err, errcode.ErrAuthentication)
				cancel()
				return
			}
			if authMsg.Type != "auth" || authMsg.Token == "" {
				writeClose(conn, websocket.ClosePolicyViolation, "auth required")
				errCh <- fmt.Errorf("auth message missing credential: %w", errcode.ErrAuthentication)
				cancel()
				return
			}

			claims, err := h.authService.ValidateToken(authMsg.Token)
			if err != nil {
				writeClose(conn, websocket.ClosePolicyViolation, "unauthorized")
				errCh <- fmt.Errorf("validate token: %v: %w", err, errcode.ErrAuthentication)
				cancel()
				return
			}
			if claims.TokenType != "access" {
				writeClose(conn, websocket.ClosePolicyViolation, "access token required")
				errCh <- fmt.Errorf("invalid token type %s: %w", claims.TokenType, errcode.ErrAuthentication)
				cancel()
				return
			}

			authenticated = true
			identityCh <- claims.Identity()
			log.Info("websocket authenticated",
				slog.Uint64("user_id", uint64(claims.UserID)),
				slog.String("role", claims.Role),
			)
			continue
		}

		// 目前无需处理额外消息，保持循环以检测客户端断开。
	}
}

func (h *WsHandler) pingLoop(
	ctx context.Context,
	wsc *wsConn,
	errCh chan<- error,
	cancel context.CancelFunc,
) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := wsc.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				errCh <- fmt.Errorf("write ping: %w", err)
				cancel()
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}
