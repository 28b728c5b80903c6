// services/price-relay/internal/upstream/metrics.go
package upstream

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	commonprom "github.com/YaganovValera/crypto-relay/common/prometheus"
)

var (
	once sync.Once

	wsConnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay", Subsystem: "upstream", Name: "connects_total",
		Help: "Upstream WebSocket connection attempts by outcome",
	}, []string{"status"})

	wsErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay", Subsystem: "upstream", Name: "errors_total",
		Help: "Categorized upstream WebSocket errors",
	}, []string{"type"})

	wsMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay", Subsystem: "upstream", Name: "messages_total",
		Help: "Messages received from the upstream feed by event type",
	}, []string{"type"})

	wsBufferDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay", Subsystem: "upstream", Name: "buffer_drops_total",
		Help: "Upstream messages dropped due to a full buffer",
	}, []string{"type"})

	wsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay", Subsystem: "upstream", Name: "connected",
		Help: "1 while the upstream connection is open",
	})
)

// RegisterMetrics регистрирует метрики коннектора; nil — DefaultRegisterer.
func RegisterMetrics(r prometheus.Registerer) {
	once.Do(func() {
		_ = commonprom.Register(r, wsConnects, wsErrors, wsMessages, wsBufferDrops, wsConnected)
	})
}

func incConnect(status string)  { wsConnects.WithLabelValues(status).Inc() }
func incError(errType string)   { wsErrors.WithLabelValues(errType).Inc() }
func incMessage(msgType string) { wsMessages.WithLabelValues(msgType).Inc() }
func incDrop(msgType string)    { wsBufferDrops.WithLabelValues(msgType).Inc() }

func setConnected(ok bool) {
	if ok {
		wsConnected.Set(1)
		return
	}
	wsConnected.Set(0)
}
