// services/price-relay/internal/upstream/connector_test.go
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/YaganovValera/crypto-relay/common/backoff"
	"github.com/YaganovValera/crypto-relay/common/logger"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/relay"
)

// Проверяем ApplyDefaults и Validate на разных комбинациях.
func TestConfigDefaultsAndValidate(t *testing.T) {
	cases := []struct {
		name    string
		input   Config
		wantErr bool
	}{
		{"empty", Config{}, true},
		{"bad scheme", Config{URL: "http://foo"}, true},
		{"negative retries", Config{URL: "ws://foo", MaxReconnects: -1}, true},
		{"ok", Config{URL: "wss://stream.binance.com:9443/ws", MaxReconnects: 5}, false},
		{"unlimited", Config{URL: "ws://foo"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := c.input
			cfg.ApplyDefaults()
			if cfg.ReconnectDelay != 5*time.Second || cfg.ReadTimeout != 30*time.Second {
				t.Errorf("defaults not applied: %+v", cfg)
			}
			if cfg.BufferSize != 1024 || cfg.SubscribeChunk != 100 {
				t.Errorf("defaults not applied: %+v", cfg)
			}
			if err := cfg.Validate(); (err != nil) != c.wantErr {
				t.Errorf("Validate() error = %v; wantErr %v", err, c.wantErr)
			}
		})
	}

	p := Config{ReconnectDelay: time.Second, MaxReconnects: 3}.retryPolicy()
	if p.Strategy != backoff.StrategyConstant || p.InitialInterval != time.Second || p.MaxRetries != 3 {
		t.Errorf("retryPolicy = %+v", p)
	}
}

// feedServer — тестовый апстрим, записывающий управляющие сообщения по номеру соединения.
type feedServer struct {
	*httptest.Server
	conns atomic.Int32

	mu       sync.Mutex
	requests map[int32][]controlRequest
	onConn   func(n int32, conn *websocket.Conn)
}

func newFeedServer(t *testing.T, onConn func(n int32, conn *websocket.Conn)) *feedServer {
	t.Helper()
	fs := &feedServer{requests: make(map[int32][]controlRequest), onConn: onConn}
	upg := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upg.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		fs.onConn(fs.conns.Add(1), conn)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) url() string { return "ws" + strings.TrimPrefix(fs.URL, "http") }

// read читает одно управляющее сообщение и запоминает его.
func (fs *feedServer) read(n int32, conn *websocket.Conn) (controlRequest, error) {
	var req controlRequest
	if err := conn.ReadJSON(&req); err != nil {
		return req, err
	}
	fs.mu.Lock()
	fs.requests[n] = append(fs.requests[n], req)
	fs.mu.Unlock()
	return req, nil
}

// subscribed — множество стримов, подписанных на соединении n.
func (fs *feedServer) subscribed(n int32) []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	set := map[string]struct{}{}
	for _, r := range fs.requests[n] {
		for _, p := range r.Params {
			if r.Method == methodSubscribe {
				set[p] = struct{}{}
			} else {
				delete(set, p)
			}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func testConfig(url string) Config {
	return Config{
		URL:            url,
		ReconnectDelay: 5 * time.Millisecond,
		MaxReconnects:  3,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Подписка после открытия, ack пропускается, combined-обёртка снимается.
func TestConnector_SubscribeAndStream(t *testing.T) {
	fs := newFeedServer(t, nil)
	fs.onConn = func(n int32, conn *websocket.Conn) {
		req, err := fs.read(n, conn)
		if err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]interface{}{"result": nil, "id": req.ID})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"stream":"btcusdt@trade","data":{"e":"trade","E":1,"s":"BTCUSDT","p":"42000.50","q":"0.01","T":2,"m":true}}`))
		// ждём, пока клиент закроет соединение
		_, _, _ = conn.ReadMessage()
	}

	var c *Connector
	c, err := NewConnector(testConfig(fs.url()), func() { c.Subscribe("btcusdt") }, logger.NewNop())
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case msg := <-c.Messages():
		if msg.Type != "trade" {
			t.Errorf("Type = %q; want trade", msg.Type)
		}
		if strings.Contains(string(msg.Data), `"stream"`) || !strings.Contains(string(msg.Data), `"p":"42000.50"`) {
			t.Errorf("Data = %s; want unwrapped trade", msg.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no message from connector")
	}

	fs.mu.Lock()
	reqs := fs.requests[1]
	fs.mu.Unlock()
	if len(reqs) != 1 || reqs[0].Method != methodSubscribe || len(reqs[0].Params) != 1 || reqs[0].Params[0] != "btcusdt@trade" {
		t.Errorf("requests = %+v; want one SUBSCRIBE btcusdt@trade", reqs)
	}
	if !c.Connected() {
		t.Error("Connected() = false while streaming")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v; want context.Canceled", err)
	}
	if _, ok := <-c.Messages(); ok {
		t.Error("Messages() not closed after Run returned")
	}
}

// hubConn — минимальный relay.Conn для интеграции с Hub.
type hubConn struct{ id relay.ClientID }

func (h hubConn) ID() relay.ClientID { return h.id }
func (hubConn) Send([]byte) error    { return nil }
func (hubConn) Close(int, string)    {}

// После разрыва коннектор переподключается и переподписывает все символы реестра.
func TestConnector_ReconnectResubscribesRegistry(t *testing.T) {
	want := []string{"btcusdt@trade", "ethusdt@trade"}
	fs := newFeedServer(t, nil)
	fs.onConn = func(n int32, conn *websocket.Conn) {
		for {
			if _, err := fs.read(n, conn); err != nil {
				return
			}
			// первое соединение рвём, как только подписаны оба символа
			if n == 1 && len(fs.subscribed(1)) == len(want) {
				return
			}
		}
	}

	log := logger.NewNop()
	var hub *relay.Hub
	c, err := NewConnector(testConfig(fs.url()), func() { hub.Resync() }, log)
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	hub = relay.NewHub(relay.HubConfig{}, c, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()
	go func() { _ = c.Run(ctx) }()

	client := hubConn{id: "a"}
	if err := hub.Register(client); err != nil {
		t.Fatalf("Register: %v", err)
	}
	hub.Handle(client.id, []byte(`{"type":"subscribe","symbol":"BTCUSDT"}`))
	hub.Handle(client.id, []byte(`{"type":"subscribe","symbol":"ethusdt"}`))

	waitUntil(t, "second connection resubscribe", func() bool {
		return fs.conns.Load() >= 2 && len(fs.subscribed(2)) == len(want)
	})
	if got := fs.subscribed(2); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("resubscribed = %v; want %v", got, want)
	}
}

// Исчерпание попыток — фатальная ошибка Run с *backoff.ErrMaxRetries.
func TestConnector_MaxReconnectsExhausted(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	cfg := testConfig(url)
	cfg.MaxReconnects = 2
	c, err := NewConnector(cfg, nil, logger.NewNop())
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = c.Run(ctx)

	var maxErr *backoff.ErrMaxRetries
	if !errors.As(err, &maxErr) {
		t.Fatalf("Run() = %v; want *backoff.ErrMaxRetries", err)
	}
	if maxErr.Attempts != 3 {
		t.Errorf("Attempts = %d; want 3", maxErr.Attempts)
	}
	if c.Connected() {
		t.Error("Connected() = true after give-up")
	}
}

// После разрыва делается не больше MaxReconnects наборов: потерянное
// соединение уже считается первой попыткой.
func TestConnector_ReconnectAttemptsAfterDrop(t *testing.T) {
	for _, maxReconnects := range []int{1, 3} {
		t.Run(fmt.Sprintf("max=%d", maxReconnects), func(t *testing.T) {
			var dials atomic.Int32
			upg := websocket.Upgrader{}
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if dials.Add(1) > 1 {
					http.Error(w, "unavailable", http.StatusServiceUnavailable)
					return
				}
				conn, err := upg.Upgrade(w, r, nil)
				if err != nil {
					return
				}
				// первое соединение сразу закрываем
				_ = conn.Close()
			}))
			defer srv.Close()

			cfg := testConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
			cfg.MaxReconnects = maxReconnects
			var opens atomic.Int32
			c, err := NewConnector(cfg, func() { opens.Add(1) }, logger.NewNop())
			if err != nil {
				t.Fatalf("NewConnector: %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			err = c.Run(ctx)

			var maxErr *backoff.ErrMaxRetries
			if !errors.As(err, &maxErr) {
				t.Fatalf("Run() = %v; want *backoff.ErrMaxRetries", err)
			}
			if got := opens.Load(); got != 1 {
				t.Errorf("opens = %d; want 1", got)
			}
			if got := int(dials.Load()) - 1; got != maxReconnects {
				t.Errorf("reconnect dials after drop = %d; want %d", got, maxReconnects)
			}
		})
	}
}

func TestConnector_ControlWhileDisconnected(t *testing.T) {
	c, err := NewConnector(testConfig("ws://127.0.0.1:1"), nil, logger.NewNop())
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	// без соединения запросы откладываются до resubscribe-all
	c.Subscribe("btcusdt")
	c.Unsubscribe("btcusdt")
	c.Resubscribe([]relay.Symbol{"btcusdt", "ethusdt"})

	if err := c.Ready(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ready() = %v; want ErrNotConnected", err)
	}
}

func TestConnector_ResubscribeChunks(t *testing.T) {
	fs := newFeedServer(t, nil)
	fs.onConn = func(n int32, conn *websocket.Conn) {
		for {
			if _, err := fs.read(n, conn); err != nil {
				return
			}
		}
	}

	cfg := testConfig(fs.url())
	cfg.SubscribeChunk = 2
	symbols := []relay.Symbol{"a1", "b2", "c3", "d4", "e5"}
	var c *Connector
	c, err := NewConnector(cfg, func() { c.Resubscribe(symbols) }, logger.NewNop())
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	waitUntil(t, "all chunks", func() bool { return len(fs.subscribed(1)) == len(symbols) })

	fs.mu.Lock()
	reqs := append([]controlRequest(nil), fs.requests[1]...)
	fs.mu.Unlock()
	if len(reqs) != 3 {
		t.Fatalf("got %d SUBSCRIBE requests; want 3", len(reqs))
	}
	seen := map[uint64]bool{}
	for _, r := range reqs {
		if len(r.Params) > 2 {
			t.Errorf("chunk %v exceeds SubscribeChunk", r.Params)
		}
		if seen[r.ID] {
			t.Errorf("duplicate request id %d", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestClassify(t *testing.T) {
	c := &Connector{log: logger.NewNop()}
	cases := []struct {
		name     string
		raw      string
		wantOK   bool
		wantType string
		wantData string
	}{
		{"invalid json", `{"e":`, false, "", ""},
		{"ack", `{"result":null,"id":7}`, false, "", ""},
		{"control error", `{"error":{"code":2,"msg":"Invalid request"},"id":8}`, false, "", ""},
		{"raw trade", `{"e":"trade","s":"BTCUSDT"}`, true, "trade", `{"e":"trade","s":"BTCUSDT"}`},
		{"combined", `{"stream":"x","data":{"e":"trade","s":"X"}}`, true, "trade", `{"e":"trade","s":"X"}`},
		{"no event", `{"foo":1}`, true, EventUnknown, `{"foo":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := c.classify([]byte(tc.raw))
			if ok != tc.wantOK {
				t.Fatalf("ok = %v; want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if msg.Type != tc.wantType {
				t.Errorf("Type = %q; want %q", msg.Type, tc.wantType)
			}
			if string(msg.Data) != tc.wantData {
				t.Errorf("Data = %s; want %s", msg.Data, tc.wantData)
			}
		})
	}
}

func TestControlRequestWireFormat(t *testing.T) {
	b, err := json.Marshal(controlRequest{Method: methodUnsubscribe, Params: []string{"ethusdt@trade"}, ID: 3})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); got != `{"method":"UNSUBSCRIBE","params":["ethusdt@trade"],"id":3}` {
		t.Errorf("wire = %s", got)
	}
}
