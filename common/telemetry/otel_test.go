// common/telemetry/otel_test.go
package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/YaganovValera/crypto-relay/common/logger"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		expectsErr bool
	}{
		{"disabled", Config{}, false},
		{"missing endpoint", Config{Enabled: true, ServiceName: "svc", ServiceVersion: "v1"}, true},
		{"missing serviceName", Config{Enabled: true, Endpoint: "host:1234", ServiceVersion: "v1"}, true},
		{"missing version", Config{Enabled: true, Endpoint: "host:1234", ServiceName: "svc"}, true},
		{"all set", Config{Enabled: true, Endpoint: "host:1234", ServiceName: "svc", ServiceVersion: "v1"}, false},
	}
	for _, tc := range tests {
		err := tc.cfg.Validate()
		if tc.expectsErr && err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
		if !tc.expectsErr && err != nil {
			t.Errorf("%s: expected no error, got %v", tc.name, err)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{Endpoint: "e", ServiceName: "s", ServiceVersion: "v"}
	cfg.ApplyDefaults()
	if cfg.Timeout != 5*time.Second {
		t.Errorf("expected default Timeout=5s, got %v", cfg.Timeout)
	}
	if cfg.ReconnectPeriod != 5*time.Second {
		t.Errorf("expected default ReconnectPeriod=5s, got %v", cfg.ReconnectPeriod)
	}
	if cfg.SamplerRatio != 1.0 {
		t.Errorf("expected default SamplerRatio=1.0, got %v", cfg.SamplerRatio)
	}
}

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{}, logger.NewNop())
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitTracer_Enabled(t *testing.T) {
	// gRPC-экспортёр подключается лениво, коллектор для инициализации не нужен.
	shutdown, err := InitTracer(context.Background(), Config{
		Enabled:        true,
		Endpoint:       "localhost:4317",
		ServiceName:    "testsvc",
		ServiceVersion: "v0.1",
		Insecure:       true,
		Timeout:        500 * time.Millisecond,
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	_, span := Tracer("test").Start(context.Background(), "span")
	span.End()
	_ = shutdown(context.Background())
}
