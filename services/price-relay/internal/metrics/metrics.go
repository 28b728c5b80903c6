package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	commonprom "github.com/YaganovValera/crypto-relay/common/prometheus"
)

var (
	once sync.Once

	// ConnectedClients — число открытых клиентских WebSocket-соединений.
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "clients",
		Name:      "connected",
		Help:      "Number of connected WebSocket clients",
	})

	// ActiveSymbols — число символов хотя бы с одним подписчиком.
	ActiveSymbols = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "registry",
		Name:      "active_symbols",
		Help:      "Number of symbols with at least one subscriber",
	})

	// UpstreamRequests — управляющие сообщения апстриму по методу.
	UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Upstream control messages by method",
	}, []string{"method"})

	// TicksReceived — тики, разобранные из апстрима.
	TicksReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "ticks",
		Name:      "received_total",
		Help:      "Trade ticks parsed from the upstream feed",
	})

	// TickDrops — тики, отброшенные из-за переполнения очереди hub.
	TickDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "ticks",
		Name:      "dropped_total",
		Help:      "Ticks dropped because the hub queue was full",
	})

	// UpdatesSent — crypto_update кадры, поставленные в очередь клиентов.
	UpdatesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "dispatch",
		Name:      "updates_total",
		Help:      "crypto_update frames queued to clients",
	})

	// SendDrops — кадры, отброшенные из-за заполненного буфера клиента.
	SendDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "dispatch",
		Name:      "send_drops_total",
		Help:      "Frames dropped because a client send buffer was full",
	})

	// ClientErrors — ошибки протокола, отправленные клиентам, по причине.
	ClientErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "clients",
		Name:      "errors_total",
		Help:      "Protocol errors reported to clients by reason",
	}, []string{"reason"})

	// AuthFailures — соединения, закрытые кодом 4001.
	AuthFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "auth",
		Name:      "failures_total",
		Help:      "Connections rejected with the unauthorized close code",
	})

	// ParseErrors — сообщения апстрима, которые не удалось разобрать.
	ParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "processor",
		Name:      "parse_errors_total",
		Help:      "Upstream events that failed to parse",
	})

	// SinkErrors — ошибки записи в Redis/Kafka по имени sink'а.
	SinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "sink",
		Name:      "errors_total",
		Help:      "Tick sink write errors",
	}, []string{"sink"})

	// SinkDrops — тики, не попавшие в sink из-за переполнения буфера.
	SinkDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "sink",
		Name:      "drops_total",
		Help:      "Ticks dropped because a sink buffer was full",
	}, []string{"sink"})
)

// Register регистрирует все метрики в заданном реестре.
// Можно вызвать без аргументов, чтобы зарегистрировать в DefaultRegisterer.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 {
			reg = registerers[0]
		}
		if err := commonprom.Register(reg,
			ConnectedClients,
			ActiveSymbols,
			UpstreamRequests,
			TicksReceived,
			TickDrops,
			UpdatesSent,
			SendDrops,
			ClientErrors,
			AuthFailures,
			ParseErrors,
			SinkErrors,
			SinkDrops,
		); err != nil {
			panic(err)
		}
	})
}
