// common/kafka/producer/producer_test.go
package producer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/YaganovValera/crypto-relay/common/backoff"
	"github.com/YaganovValera/crypto-relay/common/logger"
)

// Проверяем applyDefaults и validate.
func TestConfigDefaultsAndValidate(t *testing.T) {
	cases := []struct {
		name     string
		input    Config
		wantErr  bool
		wantAcks string
		wantComp string
	}{
		{"empty", Config{}, true, "all", "none"},
		{"noBrokers", Config{Compression: "gzip"}, true, "all", "gzip"},
		{"ok", Config{Brokers: []string{"b1"}}, false, "all", "none"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := c.input
			cfg.applyDefaults()
			if got := cfg.RequiredAcks; got != c.wantAcks {
				t.Errorf("RequiredAcks = %q; want %q", got, c.wantAcks)
			}
			if got := cfg.Compression; got != c.wantComp {
				t.Errorf("Compression = %q; want %q", got, c.wantComp)
			}
			err := cfg.validate()
			if (err != nil) != c.wantErr {
				t.Errorf("validate() error = %v; wantErr=%v", err, c.wantErr)
			}
		})
	}
}

func TestBuildSaramaConfig_RequiredAcks(t *testing.T) {
	cases := []struct {
		acks       string
		want       sarama.RequiredAcks
		idempotent bool
		wantErr    bool
	}{
		{"all", sarama.WaitForAll, true, false},
		{"ALL", sarama.WaitForAll, true, false},
		{"LeAdEr", sarama.WaitForLocal, false, false},
		{"none", sarama.NoResponse, false, false},
		{"invalid", 0, false, true},
	}
	for _, c := range cases {
		t.Run(c.acks, func(t *testing.T) {
			sc, err := buildSaramaConfig(Config{RequiredAcks: c.acks, Compression: "none", Brokers: []string{"x"}})
			if c.wantErr {
				if err == nil {
					t.Errorf("buildSaramaConfig(%q) expected error", c.acks)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sc.Producer.RequiredAcks != c.want {
				t.Errorf("got %v; want %v", sc.Producer.RequiredAcks, c.want)
			}
			if sc.Producer.Idempotent != c.idempotent {
				t.Errorf("Idempotent = %v; want %v", sc.Producer.Idempotent, c.idempotent)
			}
			if err := sc.Validate(); err != nil {
				t.Errorf("sarama rejected config: %v", err)
			}
		})
	}
}

func TestBuildSaramaConfig_AppliesDefaults(t *testing.T) {
	sc, err := buildSaramaConfig(Config{Brokers: []string{"x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sc.Producer.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v; want 5s", sc.Producer.Timeout)
	}
	if sc.Producer.RequiredAcks != sarama.WaitForAll {
		t.Errorf("RequiredAcks = %v; want WaitForAll", sc.Producer.RequiredAcks)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("sarama rejected config: %v", err)
	}
}

func TestBuildSaramaConfig_Compression(t *testing.T) {
	for _, comp := range []string{"none", "gzip", "snappy", "lz4", "zstd", "NONE", "bogus"} {
		t.Run(comp, func(t *testing.T) {
			_, err := buildSaramaConfig(Config{RequiredAcks: "leader", Compression: comp, Brokers: []string{"x"}})
			wantErr := strings.EqualFold(comp, "bogus")
			if (err != nil) != wantErr {
				t.Errorf("compression %q: err=%v wantErr=%v", comp, err, wantErr)
			}
		})
	}
}

// Проверяем Publish: сначала возвращаем ошибку, потом — успех.
func TestPublish_RetryAndSuccess(t *testing.T) {
	mockProd := mocks.NewSyncProducer(t, sarama.NewConfig())

	mockProd.ExpectSendMessageWithCheckerFunctionAndFail(func(val []byte) error { return nil }, sarama.ErrOutOfBrokers)
	mockProd.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != "value" {
			t.Errorf("value = %q", val)
		}
		return nil
	})

	kp := NewFromSyncProducer(mockProd, backoff.Config{
		InitialInterval: time.Millisecond, Multiplier: 1, MaxInterval: time.Millisecond,
		MaxElapsedTime: time.Second,
	}, logger.NewNop())
	if err := kp.Publish(context.Background(), "topic", []byte("key"), []byte("value")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := kp.Ping(context.Background()); err != nil {
		t.Errorf("Ping without client must be a no-op, got %v", err)
	}
	if err := kp.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestPublish_GivesUp(t *testing.T) {
	mockProd := mocks.NewSyncProducer(t, sarama.NewConfig())
	mockProd.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	mockProd.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	kp := NewFromSyncProducer(mockProd, backoff.Config{
		Strategy: backoff.StrategyConstant, InitialInterval: time.Millisecond, MaxRetries: 1,
	}, logger.NewNop())
	if err := kp.Publish(context.Background(), "topic", nil, []byte("v")); err == nil {
		t.Fatal("expected publish error")
	}
	_ = kp.Close()
}

// Проверяем, что New отрабатывает ошибку валидации до Sarama.
func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(context.Background(), Config{}, logger.NewNop()); err == nil {
		t.Fatal("Expected error for empty Config, got nil")
	}
	cfg := Config{Brokers: []string{"dummy"}, RequiredAcks: "invalid"}
	if _, err := New(context.Background(), cfg, logger.NewNop()); err == nil {
		t.Fatal("Expected error for invalid RequiredAcks, got nil")
	}
}
