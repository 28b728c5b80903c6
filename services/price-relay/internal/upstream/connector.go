// services/price-relay/internal/upstream/connector.go
package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/YaganovValera/crypto-relay/common/backoff"
	"github.com/YaganovValera/crypto-relay/common/logger"
	"github.com/YaganovValera/crypto-relay/common/telemetry"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/relay"
)

// ErrNotConnected возвращается Ready, пока соединение с апстримом не открыто.
var ErrNotConnected = errors.New("upstream: not connected")

const (
	methodSubscribe   = "SUBSCRIBE"
	methodUnsubscribe = "UNSUBSCRIBE"

	// EventUnknown — тип сообщения без поля "e".
	EventUnknown = "unknown"
)

var tracer = telemetry.Tracer("relay/upstream")

// RawMessage несёт JSON события (без обёртки combined-стрима) и его тип (поле "e").
type RawMessage struct {
	Data []byte
	Type string
}

type controlRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

// session — одно открытое соединение. Запись данных сериализуется writeMu;
// ping идёт через WriteControl, который gorilla разрешает вызывать параллельно.
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *session) writeJSON(v interface{}, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	return s.conn.WriteJSON(v)
}

// Connector держит единственное соединение с апстримом, переподключается
// с фиксированной паузой и после каждого открытия вызывает onOpen.
type Connector struct {
	cfg    Config
	log    *logger.Logger
	dialer *websocket.Dialer
	onOpen func()
	out    chan RawMessage

	requestID atomic.Uint64
	running   atomic.Bool

	mu   sync.RWMutex
	sess *session
}

// NewConnector создаёт Connector. onOpen вызывается из goroutine Run сразу
// после каждого успешного подключения и не должен блокироваться.
func NewConnector(cfg Config, onOpen func(), log *logger.Logger) (*Connector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Connector{
		cfg:    cfg,
		log:    log.Named("upstream"),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		onOpen: onOpen,
		out:    make(chan RawMessage, cfg.BufferSize),
	}, nil
}

// Messages возвращает поток событий; канал закрывается, когда Run завершается.
func (c *Connector) Messages() <-chan RawMessage { return c.out }

// Connected сообщает, открыто ли соединение сейчас.
func (c *Connector) Connected() bool { return c.current() != nil }

// Ready — readiness-проверка для /readyz.
func (c *Connector) Ready(context.Context) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return nil
}

// Run поддерживает соединение до отмены ctx. Если после разрыва все попытки
// переподключения исчерпаны, возвращает ошибку с *backoff.ErrMaxRetries:
// восстановиться самостоятельно коннектор уже не может.
func (c *Connector) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("upstream: connector already running")
	}
	defer close(c.out)

	var lost error
	for {
		conn, err := c.connect(ctx, lost)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("upstream: giving up on %s: %w", c.cfg.URL, err)
		}

		lost = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// connect набирает адрес с постоянной паузой ReconnectDelay; счётчик попыток
// начинается заново при каждом вызове. После разрыва (lost != nil) потерянное
// соединение засчитывается первой неудачной попыткой: первый набор идёт только
// после паузы, и всего наборов не больше MaxReconnects.
func (c *Connector) connect(ctx context.Context, lost error) (*websocket.Conn, error) {
	ctx, span := tracer.Start(ctx, "upstream.connect")
	defer span.End()
	span.SetAttributes(
		attribute.String("upstream.url", c.cfg.URL),
		attribute.Bool("upstream.reconnect", lost != nil),
	)

	var conn *websocket.Conn
	err := backoff.Execute(ctx, c.cfg.retryPolicy(), c.log, func(ctx context.Context) error {
		if lost != nil {
			err := lost
			lost = nil
			return err
		}
		ws, _, dialErr := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if dialErr != nil {
			incConnect("error")
			return dialErr
		}
		conn = ws
		return nil
	})
	if err != nil {
		span.RecordError(err)
		incError("connect")
		return nil, err
	}
	incConnect("ok")
	return conn, nil
}

// serve читает соединение до ошибки чтения или отмены ctx и возвращает
// причину разрыва.
func (c *Connector) serve(ctx context.Context, conn *websocket.Conn) error {
	sess := &session{conn: conn}
	connCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.setSession(nil)
		_ = conn.Close()
	}()

	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)) }
	extend()
	conn.SetPongHandler(func(string) error { extend(); return nil })
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	c.setSession(sess)
	c.log.Info("upstream connected", zap.String("url", c.cfg.URL))
	if c.onOpen != nil {
		c.onOpen()
	}

	go c.pingLoop(connCtx, conn)
	// ReadMessage не знает о ctx: закрываем сокет, чтобы его разблокировать.
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				incError("read")
				c.log.Warn("upstream read failed, reconnecting",
					zap.Duration("delay", c.cfg.ReconnectDelay),
					zap.Error(err),
				)
			}
			return fmt.Errorf("upstream: connection lost: %w", err)
		}
		extend()

		msg, ok := c.classify(data)
		if !ok {
			continue
		}
		incMessage(msg.Type)
		select {
		case c.out <- msg:
		default:
			incDrop(msg.Type)
			c.log.Warn("upstream buffer full, dropping message", zap.String("type", msg.Type))
		}
	}
}

func (c *Connector) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.ReadTimeout / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.log.Warn("upstream ping failed", zap.Error(err))
			}
		}
	}
}

// classify снимает обёртку {"stream","data"} и определяет тип события по "e".
// Ответы на управляющие запросы ({"result","id"}) не пересылаются.
func (c *Connector) classify(data []byte) (RawMessage, bool) {
	if !gjson.ValidBytes(data) {
		incError("invalid_json")
		c.log.Debug("upstream sent invalid json", zap.ByteString("raw", data))
		return RawMessage{}, false
	}

	root := gjson.ParseBytes(data)
	if id := root.Get("id"); id.Exists() && !root.Get("e").Exists() {
		if e := root.Get("error"); e.Exists() {
			incError("control")
			c.log.Warn("upstream rejected control message",
				zap.Uint64("id", id.Uint()),
				zap.String("error", e.Raw),
			)
		} else {
			c.log.Debug("upstream control ack", zap.Uint64("id", id.Uint()))
		}
		return RawMessage{}, false
	}

	payload := data
	if env := root.Get("data"); env.IsObject() {
		payload = []byte(env.Raw)
		root = env
	}
	msgType := root.Get("e").String()
	if msgType == "" {
		msgType = EventUnknown
	}
	return RawMessage{Data: payload, Type: msgType}, true
}

// -----------------------------------------------------------------------------
// relay.Feed
// -----------------------------------------------------------------------------

// Subscribe отправляет SUBSCRIBE, если соединение открыто. Иначе запрос
// откладывается до resubscribe-all после следующего подключения.
func (c *Connector) Subscribe(symbol relay.Symbol) {
	c.control(methodSubscribe, []relay.Symbol{symbol})
}

// Unsubscribe отправляет UNSUBSCRIBE, если соединение открыто.
func (c *Connector) Unsubscribe(symbol relay.Symbol) {
	c.control(methodUnsubscribe, []relay.Symbol{symbol})
}

// Resubscribe подписывает апстрим на весь набор пачками по SubscribeChunk.
func (c *Connector) Resubscribe(symbols []relay.Symbol) {
	for start := 0; start < len(symbols); start += c.cfg.SubscribeChunk {
		end := start + c.cfg.SubscribeChunk
		if end > len(symbols) {
			end = len(symbols)
		}
		c.control(methodSubscribe, symbols[start:end])
	}
}

func (c *Connector) control(method string, symbols []relay.Symbol) {
	sess := c.current()
	if sess == nil {
		c.log.Debug("upstream not connected, request deferred until reconnect",
			zap.String("method", method),
			zap.Int("symbols", len(symbols)),
		)
		return
	}

	params := make([]string, len(symbols))
	for i, s := range symbols {
		params[i] = s.TradeStream()
	}
	req := controlRequest{Method: method, Params: params, ID: c.requestID.Add(1)}

	if err := sess.writeJSON(req, c.cfg.WriteTimeout); err != nil {
		incError("write")
		c.log.Warn("upstream control write failed, dropping connection",
			zap.String("method", method),
			zap.Uint64("id", req.ID),
			zap.Error(err),
		)
		// чтение получит ошибку, и Run переподключится с resubscribe-all
		_ = sess.conn.Close()
		return
	}
	c.log.Debug("upstream control sent",
		zap.String("method", method),
		zap.Strings("params", params),
		zap.Uint64("id", req.ID),
	)
}

func (c *Connector) current() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

func (c *Connector) setSession(s *session) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
	setConnected(s != nil)
}
