package safe

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/YaganovValera/crypto-relay/common/logger"
)

// Group — аналог errgroup.Group с защитой от panic.
// Завершение любой goroutine (ошибка, паника или nil) отменяет контекст группы:
// так устроены пары read/write-pump, которые живут ровно столько, сколько соединение.
type Group struct {
	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
	log    *logger.Logger

	errOnce sync.Once
	err     error
}

// New создает группу с контекстом и логгером.
func New(ctx context.Context, log *logger.Logger) *Group {
	ctx, cancel := context.WithCancel(ctx)
	return &Group{
		ctx:    ctx,
		cancel: cancel,
		log:    log.Named("safe"),
	}
}

// Go запускает защищённую goroutine.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.cancel()
		defer g.recoverPanic(name)
		if err := fn(g.ctx); err != nil {
			g.setErr(err)
			g.log.Debug("goroutine finished with error", zap.String("name", name), zap.Error(err))
		}
	}()
}

// Wait блокирует до завершения всех goroutine и возвращает первую ошибку.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.cancel()
	return g.err
}

// Context возвращает связанный контекст.
func (g *Group) Context() context.Context {
	return g.ctx
}

func (g *Group) setErr(err error) {
	g.errOnce.Do(func() { g.err = err })
}

// recoverPanic ловит панику и логирует её.
func (g *Group) recoverPanic(name string) {
	if r := recover(); r != nil {
		g.log.Error("panic recovered",
			zap.String("name", name),
			zap.Any("error", r),
			zap.ByteString("stack", debug.Stack()),
		)
		g.setErr(fmt.Errorf("safe: panic in %s: %v", name, r))
	}
}
