package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/YaganovValera/crypto-relay/common/logger"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/metrics"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/relay"
)

// Client — одно браузерное соединение. Реализует relay.Conn.
// Писать в сокет может только writePump; остальные ставят кадры в очередь send.
type Client struct {
	id      relay.ClientID
	conn    *websocket.Conn
	cfg     Config
	send    chan []byte
	limiter *rate.Limiter
	log     *logger.Logger

	closeOnce   sync.Once
	closed      chan struct{}
	closeCode   int
	closeReason string
}

func newClient(id relay.ClientID, conn *websocket.Conn, cfg Config, log *logger.Logger) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		cfg:     cfg,
		send:    make(chan []byte, cfg.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		log:     log,
		closed:  make(chan struct{}),
	}
}

// ID возвращает идентификатор соединения.
func (c *Client) ID() relay.ClientID { return c.id }

// Send ставит кадр в очередь без блокировки.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.closed:
		return relay.ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return relay.ErrSendBufferFull
	}
}

// Close просит writePump отправить close-кадр и завершить соединение.
// Повторные вызовы игнорируются; первый код побеждает.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closed)
	})
}

// readPump читает кадры клиента и передаёт их в hub в порядке поступления.
func (c *Client) readPump(ctx context.Context, handle func(relay.ClientID, []byte)) error {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && ctx.Err() == nil {
				c.log.Debug("client read failed", zap.Error(err))
			}
			return nil
		}
		if !c.limiter.Allow() {
			metrics.ClientErrors.WithLabelValues("rate_limited").Inc()
			_ = c.Send(relay.ErrorFrame(relay.ErrMsgRateLimited))
			continue
		}
		handle(c.id, data)
	}
}

// writePump — единственный писатель сокета: кадры из очереди, ping и close.
func (c *Client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-c.closed:
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait))
			return nil

		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("client write failed", zap.Error(err))
				return nil
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				return nil
			}
		}
	}
}
