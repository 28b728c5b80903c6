package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/YaganovValera/crypto-relay/common/logger"
)

func TestGracefulShutdown(t *testing.T) {
	err := GracefulShutdown("ok", time.Second, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected a deadline")
		}
		return nil
	}, logger.NewNop())
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	want := errors.New("close failed")
	if err := GracefulShutdown("bad", time.Second, Closer(func() error { return want }), logger.NewNop()); !errors.Is(err, want) {
		t.Errorf("GracefulShutdown() = %v; want %v", err, want)
	}
}
