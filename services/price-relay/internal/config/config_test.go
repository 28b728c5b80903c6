package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "price-relay", cfg.ServiceName)
	assert.Equal(t, "wss://stream.binance.com:9443/ws", cfg.Upstream.URL)
	assert.Equal(t, 5*time.Second, cfg.Upstream.ReconnectDelay)
	assert.Equal(t, 5, cfg.Upstream.MaxReconnects)
	assert.Equal(t, "/ws", cfg.Relay.WS.Path)
	assert.Equal(t, 256, cfg.Relay.WS.SendBuffer)
	assert.Equal(t, 1024, cfg.Relay.Hub.TickBuffer)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.False(t, cfg.Auth.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "price-relay", cfg.Telemetry.ServiceName)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeYAML(t, `
upstream:
  url: ws://localhost:9000/ws
  max_reconnects: 0
relay:
  send_buffer: 8
  allowed_origins: [https://example.com]
redis:
  enabled: true
  addr: redis:6379
  ttl: 1m
`)
	t.Setenv("RELAY_AUTH_ENABLED", "true")
	t.Setenv("RELAY_AUTH_SECRET", "0123456789abcdef0123")
	t.Setenv("RELAY_UPSTREAM_RECONNECT_DELAY", "2s")

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:9000/ws", cfg.Upstream.URL)
	assert.Equal(t, 0, cfg.Upstream.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.Upstream.ReconnectDelay)
	assert.Equal(t, 8, cfg.Relay.WS.SendBuffer)
	assert.Equal(t, []string{"https://example.com"}, cfg.Relay.WS.AllowedOrigins)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "0123456789abcdef0123", cfg.Auth.Secret)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Minute, cfg.Redis.TTL)
}

func TestLoad_EnvFile(t *testing.T) {
	env := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(env, []byte("RELAY_KAFKA_ENABLED=true\nRELAY_KAFKA_TOPIC=ticks.archive\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("RELAY_KAFKA_ENABLED")
		os.Unsetenv("RELAY_KAFKA_TOPIC")
	})

	cfg, err := Load("", env)
	require.NoError(t, err)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, "ticks.archive", cfg.Kafka.Topic)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad upstream scheme":   "upstream:\n  url: http://example.com\n",
		"negative reconnects":   "upstream:\n  max_reconnects: -1\n",
		"auth without secret":   "auth:\n  enabled: true\n",
		"kafka without topic":   "kafka:\n  enabled: true\n  topic: \"\"\n",
		"kafka bad acks":        "kafka:\n  enabled: true\n  required_acks: some\n",
		"relay path collision":  "relay:\n  path: /metrics\n",
		"unknown logging level": "logging:\n  level: verbose\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeYAML(t, body), "")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)
}
