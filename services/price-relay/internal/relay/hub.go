package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/YaganovValera/crypto-relay/common/logger"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/metrics"
)

// CloseGoingAway — код закрытия клиентских соединений при остановке сервиса.
const CloseGoingAway = 1001

var (
	// ErrHubClosed возвращается, когда Hub.Run уже завершился.
	ErrHubClosed = errors.New("relay: hub closed")
	// ErrConnClosed — соединение закрыто; доставка молча пропускается.
	ErrConnClosed = errors.New("relay: connection closed")
	// ErrSendBufferFull — буфер клиента заполнен, кадр отброшен.
	ErrSendBufferFull = errors.New("relay: send buffer full")
)

// Conn — открытое дуплексное соединение с одним клиентом.
// Send не блокируется и безопасен для вызова из любой goroutine.
type Conn interface {
	ID() ClientID
	Send(frame []byte) error
	Close(code int, reason string)
}

// Feed — апстрим, умеющий переподписаться на весь набор символов.
type Feed interface {
	Upstream
	Resubscribe(symbols []Symbol)
}

// Snapshotter отдаёт последний известный тик символа.
type Snapshotter interface {
	Latest(ctx context.Context, symbol Symbol) (Tick, bool, error)
}

// HubConfig — размеры очередей событий.
type HubConfig struct {
	EventBuffer int `mapstructure:"event_buffer"`
	TickBuffer  int `mapstructure:"tick_buffer"`
}

// ApplyDefaults заполняет пустые поля.
func (c *HubConfig) ApplyDefaults() {
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.TickBuffer <= 0 {
		c.TickBuffer = 1024
	}
}

// Stats — снимок состояния hub.
type Stats struct {
	Clients     int      `json:"clients"`
	Subscribers int      `json:"subscribers"`
	Symbols     []Symbol `json:"symbols"`
}

type eventKind uint8

const (
	eventRegister eventKind = iota
	eventUnregister
	eventMessage
)

// clientEvent — событие жизненного цикла клиента. Все три вида идут через одну
// очередь, поэтому регистрация, сообщения и отключение клиента не переупорядочиваются.
type clientEvent struct {
	kind    eventKind
	conn    Conn
	client  ClientID
	payload []byte
}

// subscription — пара клиент/символ, для которой ожидается снимок.
type subscription struct {
	client ClientID
	symbol Symbol
}

type snapshotResult struct {
	client ClientID
	symbol Symbol
	tick   Tick
	found  bool
}

// Hub — единственный владелец реестра и карты соединений.
// Все мутации выполняются в goroutine Run; остальные только ставят события в очередь.
type Hub struct {
	registry  *Registry
	feed      Feed
	snapshots Snapshotter
	log       *logger.Logger

	conns map[ClientID]Conn
	// pending — ожидаемые снимки и Timestamp последнего живого тика,
	// уже отправленного этому клиенту по этому символу.
	pending map[subscription]int64

	events     chan clientEvent
	ticks      chan Tick
	resync     chan struct{}
	snapshotCh chan snapshotResult
	queries    chan chan Stats

	running atomic.Bool
	done    chan struct{}
}

// NewHub создаёт Hub; snapshots может быть nil.
func NewHub(cfg HubConfig, feed Feed, snapshots Snapshotter, log *logger.Logger) *Hub {
	cfg.ApplyDefaults()
	return &Hub{
		registry:   NewRegistry(countingUpstream{feed}),
		feed:       feed,
		snapshots:  snapshots,
		log:        log.Named("hub"),
		conns:      make(map[ClientID]Conn),
		pending:    make(map[subscription]int64),
		events:     make(chan clientEvent, cfg.EventBuffer),
		ticks:      make(chan Tick, cfg.TickBuffer),
		resync:     make(chan struct{}, 1),
		snapshotCh: make(chan snapshotResult, cfg.EventBuffer),
		queries:    make(chan chan Stats),
		done:       make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------
// Enqueue API (любая goroutine)
// -----------------------------------------------------------------------------

// Register передаёт соединение во владение hub.
func (h *Hub) Register(c Conn) error {
	return h.enqueue(clientEvent{kind: eventRegister, conn: c, client: c.ID()})
}

// Unregister сообщает о закрытии соединения; повторный вызов безопасен.
func (h *Hub) Unregister(id ClientID) {
	_ = h.enqueue(clientEvent{kind: eventUnregister, client: id})
}

// Handle ставит входящий кадр клиента в очередь. Кадры одного клиента
// обрабатываются в порядке поступления.
func (h *Hub) Handle(id ClientID, payload []byte) {
	_ = h.enqueue(clientEvent{kind: eventMessage, client: id, payload: payload})
}

func (h *Hub) enqueue(ev clientEvent) error {
	select {
	case h.events <- ev:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Publish ставит тик в очередь рассылки; при переполнении тик отбрасывается,
// следующий тик всё равно его вытеснит.
func (h *Hub) Publish(t Tick) {
	select {
	case h.ticks <- t:
	default:
		metrics.TickDrops.Inc()
	}
}

// Resync просит переподписать апстрим на все символы реестра.
// Несколько запросов до обработки схлопываются в один.
func (h *Hub) Resync() {
	select {
	case h.resync <- struct{}{}:
	default:
	}
}

// Stats возвращает снимок состояния, выполненный внутри цикла hub.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.queries <- reply:
	case <-h.done:
		return Stats{}, ErrHubClosed
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// -----------------------------------------------------------------------------
// Loop
// -----------------------------------------------------------------------------

// Run обрабатывает события до отмены ctx, затем закрывает все соединения.
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return fmt.Errorf("relay: hub already running")
	}
	defer close(h.done)
	h.log.Info("hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()

		case ev := <-h.events:
			switch ev.kind {
			case eventRegister:
				h.addConn(ev.conn)
			case eventUnregister:
				h.removeConn(ev.client)
			case eventMessage:
				h.handleMessage(ctx, ev)
			}

		case t := <-h.ticks:
			h.dispatch(t)

		case <-h.resync:
			symbols := h.registry.Symbols()
			h.log.Info("resubscribing upstream", zap.Int("symbols", len(symbols)))
			if len(symbols) > 0 {
				h.feed.Resubscribe(symbols)
			}

		case res := <-h.snapshotCh:
			h.deliverSnapshot(res)

		case reply := <-h.queries:
			reply <- h.stats()
		}
	}
}

func (h *Hub) addConn(c Conn) {
	id := c.ID()
	if _, dup := h.conns[id]; dup {
		h.log.Warn("duplicate client id, closing new connection", zap.String("client", string(id)))
		c.Close(CloseGoingAway, "duplicate client id")
		return
	}
	h.conns[id] = c
	metrics.ConnectedClients.Set(float64(len(h.conns)))
	h.log.Debug("client registered", zap.String("client", string(id)))
}

// removeConn выполняется ровно один раз на соединение: повторный
// Unregister не находит его в карте.
func (h *Hub) removeConn(id ClientID) {
	if _, ok := h.conns[id]; !ok {
		return
	}
	delete(h.conns, id)
	for _, symbol := range h.registry.ActiveSymbols(id) {
		delete(h.pending, subscription{id, symbol})
	}
	emptied := h.registry.RemoveClient(id)
	metrics.ConnectedClients.Set(float64(len(h.conns)))
	metrics.ActiveSymbols.Set(float64(h.registry.Len()))
	h.log.Debug("client unregistered",
		zap.String("client", string(id)),
		zap.Int("emptied_symbols", len(emptied)),
	)
}

func (h *Hub) handleMessage(ctx context.Context, msg clientEvent) {
	conn, ok := h.conns[msg.client]
	if !ok {
		return
	}

	var in ClientMessage
	if err := json.Unmarshal(msg.payload, &in); err != nil {
		h.replyError(conn, "invalid_format", ErrMsgInvalidFormat)
		return
	}

	switch in.Type {
	case TypeSubscribe:
		symbol, ok := h.symbolOf(conn, in)
		if !ok {
			return
		}
		if h.registry.Subscribe(msg.client, symbol) {
			metrics.ActiveSymbols.Set(float64(h.registry.Len()))
			h.requestSnapshot(ctx, msg.client, symbol)
		}
		h.reply(conn, SubscribedFrame(in.Symbol))

	case TypeUnsubscribe:
		symbol, ok := h.symbolOf(conn, in)
		if !ok {
			return
		}
		if h.registry.Unsubscribe(msg.client, symbol) {
			metrics.ActiveSymbols.Set(float64(h.registry.Len()))
		}
		delete(h.pending, subscription{msg.client, symbol})
		h.reply(conn, UnsubscribedFrame(in.Symbol))

	case TypeGetSubscriptions:
		h.reply(conn, SubscriptionsFrame(h.registry.ActiveSymbols(msg.client)))

	default:
		h.replyError(conn, "unknown_type", "Unknown message type: "+in.Type)
	}
}

func (h *Hub) symbolOf(conn Conn, in ClientMessage) (Symbol, bool) {
	symbol, err := NormalizeSymbol(in.Symbol)
	switch {
	case errors.Is(err, ErrEmptySymbol):
		h.replyError(conn, "symbol_required", ErrMsgSymbolRequired)
		return "", false
	case err != nil:
		h.replyError(conn, "invalid_symbol", "Invalid symbol: "+in.Symbol)
		return "", false
	}
	return symbol, true
}

// dispatch рассылает тик подписчикам. Закрытые соединения пропускаются,
// повторных попыток нет.
func (h *Hub) dispatch(t Tick) {
	key := t.Key()
	if _, ok := h.registry.symbols[key]; !ok {
		return
	}
	frame, err := UpdateFrame(t)
	if err != nil {
		h.log.Error("encode update failed", zap.String("symbol", t.Symbol), zap.Error(err))
		return
	}
	h.registry.forEachSubscriber(key, func(id ClientID) {
		conn, ok := h.conns[id]
		if !ok {
			return
		}
		if h.send(conn, frame) {
			metrics.UpdatesSent.Inc()
			h.markDelivered(subscription{id, key}, t.Timestamp)
		}
	})
}

func (h *Hub) requestSnapshot(ctx context.Context, id ClientID, symbol Symbol) {
	if h.snapshots == nil {
		return
	}
	h.pending[subscription{id, symbol}] = 0
	go func() {
		tick, ok, err := h.snapshots.Latest(ctx, symbol)
		if err != nil {
			h.log.Warn("snapshot lookup failed", zap.String("symbol", string(symbol)), zap.Error(err))
		}
		// результат отправляется и без снимка: hub снимает ожидание
		res := snapshotResult{client: id, symbol: symbol, tick: tick, found: ok && err == nil}
		select {
		case h.snapshotCh <- res:
		case <-h.done:
		}
	}()
}

// deliverSnapshot отправляет последний тик, только если клиент всё ещё подписан
// и снимок новее живых тиков, которые клиент успел получить, пока шёл запрос.
func (h *Hub) deliverSnapshot(res snapshotResult) {
	key := subscription{res.client, res.symbol}
	seen, ok := h.pending[key]
	if !ok {
		return
	}
	delete(h.pending, key)
	if !res.found {
		return
	}

	conn, ok := h.conns[res.client]
	if !ok || !h.registry.IsSubscribed(res.client, res.symbol) {
		return
	}
	if seen > 0 && res.tick.Timestamp <= seen {
		h.log.Debug("stale snapshot dropped",
			zap.String("client", string(res.client)),
			zap.String("symbol", string(res.symbol)),
			zap.Int64("snapshot_ts", res.tick.Timestamp),
			zap.Int64("live_ts", seen),
		)
		return
	}
	frame, err := UpdateFrame(res.tick)
	if err != nil {
		return
	}
	h.send(conn, frame)
}

// markDelivered запоминает самый новый живой тик для ожидающего снимка.
func (h *Hub) markDelivered(key subscription, ts int64) {
	if seen, ok := h.pending[key]; ok && ts > seen {
		h.pending[key] = ts
	}
}

func (h *Hub) reply(conn Conn, frame []byte) { h.send(conn, frame) }

func (h *Hub) replyError(conn Conn, reason, message string) {
	metrics.ClientErrors.WithLabelValues(reason).Inc()
	h.send(conn, ErrorFrame(message))
}

func (h *Hub) send(conn Conn, frame []byte) bool {
	switch err := conn.Send(frame); {
	case err == nil:
		return true
	case errors.Is(err, ErrSendBufferFull):
		metrics.SendDrops.Inc()
		h.log.Debug("client buffer full, frame dropped", zap.String("client", string(conn.ID())))
	}
	return false
}

func (h *Hub) stats() Stats {
	return Stats{
		Clients:     len(h.conns),
		Subscribers: h.registry.Clients(),
		Symbols:     h.registry.Symbols(),
	}
}

func (h *Hub) shutdown() {
	h.log.Info("hub stopping, closing clients", zap.Int("clients", len(h.conns)))
	for id, c := range h.conns {
		c.Close(CloseGoingAway, "server shutdown")
		delete(h.conns, id)
	}
	metrics.ConnectedClients.Set(0)
}

// countingUpstream считает управляющие переходы реестра.
type countingUpstream struct{ Upstream }

func (u countingUpstream) Subscribe(s Symbol) {
	metrics.UpstreamRequests.WithLabelValues("SUBSCRIBE").Inc()
	u.Upstream.Subscribe(s)
}

func (u countingUpstream) Unsubscribe(s Symbol) {
	metrics.UpstreamRequests.WithLabelValues("UNSUBSCRIBE").Inc()
	u.Upstream.Unsubscribe(s)
}
