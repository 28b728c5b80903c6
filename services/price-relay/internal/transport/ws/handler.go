// Package ws обслуживает браузерные WebSocket-соединения ретранслятора.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/YaganovValera/crypto-relay/common/httpserver"
	"github.com/YaganovValera/crypto-relay/common/logger"
	"github.com/YaganovValera/crypto-relay/common/safe"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/auth"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/metrics"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/relay"
)

// Hub — то, что нужно транспорту от relay.Hub.
type Hub interface {
	Register(c relay.Conn) error
	Unregister(id relay.ClientID)
	Handle(id relay.ClientID, payload []byte)
	Stats(ctx context.Context) (relay.Stats, error)
}

// Handler апгрейдит HTTP-запросы до WebSocket и связывает клиентов с hub.
type Handler struct {
	cfg      Config
	hub      Hub
	verifier *auth.Verifier
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(cfg Config, hub Hub, verifier *auth.Verifier, log *logger.Logger) (*Handler, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Handler{
		cfg:      cfg,
		hub:      hub,
		verifier: verifier,
		log:      log.Named("ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h, nil
}

// Routes монтирует WebSocket-эндпоинт и /stats.
func (h *Handler) Routes() httpserver.Routes {
	return func(r chi.Router) {
		r.Get(h.cfg.Path, h.ServeHTTP)
		r.Get(h.cfg.StatsPath, h.ServeStats)
	}
}

// ServeHTTP обслуживает одно клиентское соединение до его закрытия.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту ошибкой HTTP
		h.log.WithContext(r.Context()).Debug("upgrade failed", zap.Error(err))
		return
	}

	identity, err := h.verifier.Verify(tokenFrom(r))
	if err != nil {
		metrics.AuthFailures.Inc()
		h.log.WithContext(r.Context()).Info("client rejected", zap.Error(err))
		closeWith(conn, auth.CloseUnauthorized, "Unauthorized", h.cfg.WriteWait)
		return
	}

	id := relay.ClientID(uuid.NewString())
	ctx := logger.ContextWithUserID(r.Context(), identity.UserID)
	log := h.log.WithContext(ctx).With(zap.String("client", string(id)))

	client := newClient(id, conn, h.cfg, log)
	_ = client.Send(relay.ConnectedFrame(fmt.Sprintf("Connected to price relay as %s", identity.UserID)))

	if err := h.hub.Register(client); err != nil {
		closeWith(conn, relay.CloseGoingAway, "server shutting down", h.cfg.WriteWait)
		return
	}
	log.Info("client connected", zap.String("remote", r.RemoteAddr))

	// ctx запроса не отменяется для hijacked-соединений: пара pump'ов живёт,
	// пока одна из них не завершится.
	g := safe.New(context.WithoutCancel(ctx), log)
	g.Go("read-pump", func(ctx context.Context) error { return client.readPump(ctx, h.hub.Handle) })
	g.Go("write-pump", client.writePump)
	if err := g.Wait(); err != nil {
		log.Warn("client pumps failed", zap.Error(err))
	}

	client.Close(websocket.CloseNormalClosure, "")
	h.hub.Unregister(id)
	log.Info("client disconnected")
}

// ServeStats отдаёт снимок состояния hub в JSON.
func (h *Handler) ServeStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	st, err := h.hub.Stats(ctx)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), status)
		return
	}
	if st.Symbols == nil {
		st.Symbols = []relay.Symbol{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// tokenFrom берёт токен из ?token=, иначе из заголовка Authorization.
func tokenFrom(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return r.Header.Get("Authorization")
}

func closeWith(conn *websocket.Conn, code int, reason string, wait time.Duration) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait))
	_ = conn.Close()
}
