package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationPushedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hireline",
			Subsystem: "notify",
			Name:      "pushed_total",
			Help:      "实时推送成功的通知事件总数，按路径区分（live/flush）。",
		},
		[]string{"path"},
	)

	notificationQueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hireline",
			Subsystem: "notify",
			Name:      "queued_total",
			Help:      "接收者离线而落库的通知总数。",
		},
	)

	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hireline",
			Subsystem: "notify",
			Name:      "websocket_connections",
			Help:      "当前活动的 WebSocket 连接数量。",
		},
	)
)

// NotificationPushed 记录一次实时推送成功的事件。
func NotificationPushed(path string) {
	notificationPushedTotal.WithLabelValues(path).Inc()
}

// NotificationQueued 记录一次离线落库。
func NotificationQueued() {
	notificationQueuedTotal.Inc()
}

// NotificationFlushed 记录 flush 重放成功的通知条数。
func NotificationFlushed(count int) {
	notificationPushedTotal.WithLabelValues("flush").Add(float64(count))
}

// WebsocketConnected 与 WebsocketDisconnected 维护活动连接数。
func WebsocketConnected()    { websocketConnections.Inc() }
func WebsocketDisconnected() { websocketConnections.Dec() }
